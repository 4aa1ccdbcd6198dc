// Package transport owns the persistent channel to the Akai server:
// dialing, keep-alive, fixed-delay reconnect, and best-effort sends.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/akai-desk/internal/domain"
	"github.com/ashureev/akai-desk/internal/protocol"
)

// ErrNotConnected is returned by Send when the channel is not open.
// Sends are best-effort: callers log and move on, they never retry.
var ErrNotConnected = errors.New("channel not connected")

// Conn is the minimal connection surface the manager drives. The
// production implementation wraps coder/websocket; tests substitute an
// in-memory fake.
type Conn interface {
	// Read blocks until the next inbound frame or a channel error.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// Close closes the connection with a normal-closure status.
	Close() error
}

// Dialer establishes a Conn to the given endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Options configures a Manager.
type Options struct {
	// URL is the websocket endpoint for this session's channel.
	URL string
	// Dial defaults to the coder/websocket dialer.
	Dial Dialer
	// ReconnectDelay is the fixed wait before the single reconnect attempt
	// scheduled after each close. Defaults to 3 seconds.
	ReconnectDelay time.Duration
	// KeepaliveInterval is how often a ping frame is written. Zero
	// disables keep-alive (used by tests).
	KeepaliveInterval time.Duration
	// OnMessage receives every raw inbound frame.
	OnMessage func(data []byte)
	// OnState is invoked synchronously with every state transition; it
	// backs the connectivity indicator. It runs under the manager's lock
	// and must not call back into the Manager.
	OnState func(state domain.ConnectionState)
}

// DefaultReconnectDelay is the fixed delay between a close and the next
// dial attempt while the session remains active.
const DefaultReconnectDelay = 3 * time.Second

// Manager maintains at most one live channel per session. Every close
// while the session is active schedules exactly one reconnect after a
// fixed delay; ending the session cancels the pending attempt.
type Manager struct {
	opts Options

	mu        sync.Mutex
	conn      Conn
	state     domain.ConnectionState
	active    bool
	gen       int
	reconnect *time.Timer
	readStop  context.CancelFunc
}

// NewManager creates a channel manager for one session.
func NewManager(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Manager{
		opts:  opts,
		state: domain.ConnDisconnected,
	}
}

// State returns the current channel state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open marks the session active and dials the channel. A failed dial is
// treated like a close: one reconnect is scheduled after the fixed delay.
func (m *Manager) Open() {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.mu.Unlock()
	m.connect()
}

func (m *Manager) connect() {
	m.mu.Lock()
	if !m.active || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(domain.ConnConnecting)
	m.mu.Unlock()

	conn, err := m.opts.Dial(context.Background(), m.opts.URL)
	if err != nil {
		slog.Warn("Channel dial failed", "url", m.opts.URL, "error", err)
		m.handleClose(gen)
		return
	}

	readCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if !m.active {
		// Session ended while the dial was in flight.
		m.mu.Unlock()
		cancel()
		if closeErr := conn.Close(); closeErr != nil {
			slog.Debug("Failed to close channel after teardown", "error", closeErr)
		}
		return
	}
	m.conn = conn
	m.readStop = cancel
	m.setStateLocked(domain.ConnConnected)
	m.mu.Unlock()

	slog.Info("Channel connected", "url", m.opts.URL)

	go m.readLoop(readCtx, conn, gen)
	if m.opts.KeepaliveInterval > 0 {
		go m.keepaliveLoop(readCtx, conn)
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Debug("Channel read loop stopped", "error", err)
			} else {
				slog.Warn("Channel closed", "error", err)
			}
			m.handleClose(gen)
			return
		}
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(data)
		}
	}
}

func (m *Manager) keepaliveLoop(ctx context.Context, conn Conn) {
	frame, err := json.Marshal(protocol.NewPing())
	if err != nil {
		slog.Warn("Keepalive frame marshal failed", "error", err)
		return
	}

	ticker := time.NewTicker(m.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, frame); err != nil {
				slog.Debug("Keepalive write failed", "error", err)
				return
			}
		}
	}
}

// handleClose runs after any close or failed dial. It schedules exactly
// one reconnect attempt if the session is still active. The generation
// guard keeps a stale read loop from double-scheduling.
func (m *Manager) handleClose(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	m.dropConnLocked()

	if !m.active {
		m.setStateLocked(domain.ConnDisconnected)
		return
	}

	m.setStateLocked(domain.ConnReconnecting)
	slog.Info("Reconnect scheduled", "delay", m.opts.ReconnectDelay)
	m.reconnect = time.AfterFunc(m.opts.ReconnectDelay, m.connect)
}

// Send marshals v and writes it as one frame. When the channel is not
// connected the frame is dropped and ErrNotConnected returned; there is
// no queueing or retry.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != domain.ConnConnected || conn == nil {
		slog.Debug("Send dropped, channel not connected", "state", state)
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.Write(context.Background(), data); err != nil {
		slog.Debug("Channel write failed", "error", err)
		return err
	}
	return nil
}

// Close ends the session: cancels any pending reconnect, closes the
// channel, and leaves the manager disconnected. No reconnect attempts
// occur after Close.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = false
	m.gen++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.dropConnLocked()
	m.setStateLocked(domain.ConnDisconnected)
}

func (m *Manager) dropConnLocked() {
	if m.readStop != nil {
		m.readStop()
		m.readStop = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			slog.Debug("Failed to close channel", "error", err)
		}
		m.conn = nil
	}
}

func (m *Manager) setStateLocked(s domain.ConnectionState) {
	if m.state == s {
		return
	}
	m.state = s
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}
