package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/akai-desk/internal/domain"
	"github.com/ashureev/akai-desk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed archive.
func NewSQLite(dbPath string) (Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	archive := &SQLiteArchive{db: db}
	if err := archive.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return archive, nil
}

func (s *SQLiteArchive) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_code ON sessions(code);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		delivery TEXT NOT NULL,
		reply_id TEXT,
		seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteArchive) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession records a session the client created or joined.
func (s *SQLiteArchive) SaveSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (id, code, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		code = excluded.code`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.ShortCode, session.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// AppendTurn archives one transcript turn. SQLITE_BUSY conflicts are
// retried a few times with backoff before giving up.
func (s *SQLiteArchive) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.appendTurnOnce(ctx, sessionID, turn)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("AppendTurn hit SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("append turn after %d attempts: %w", maxRetries, err)
}

func (s *SQLiteArchive) appendTurnOnce(ctx context.Context, sessionID string, turn domain.Turn) error {
	query := `
	INSERT INTO turns (id, session_id, role, content, delivery, reply_id, seq, created_at)
	VALUES (?, ?, ?, ?, ?, ?,
		(SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?),
		?)
	ON CONFLICT(id) DO UPDATE SET
		delivery = excluded.delivery`

	var replyID any
	if turn.ReplyID != "" {
		replyID = turn.ReplyID
	}

	_, err := s.db.ExecContext(ctx, query,
		turn.ID, sessionID, string(turn.Role), turn.Content,
		string(turn.Delivery), replyID, sessionID, turn.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListTurns returns a session's archived turns in append order.
func (s *SQLiteArchive) ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	query := `
		SELECT id, role, content, delivery, reply_id, created_at
		FROM turns WHERE session_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turns rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var role, delivery string
		var replyID sql.NullString
		var createdAt int64

		if err := rows.Scan(&turn.ID, &role, &turn.Content, &delivery, &replyID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}

		turn.Role = domain.Role(role)
		turn.Delivery = domain.DeliveryStatus(delivery)
		turn.ReplyID = replyID.String
		turn.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// Close closes the database connection.
func (s *SQLiteArchive) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
