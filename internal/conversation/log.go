// Package conversation maintains the ordered transcript of a session and
// the multi-bubble splitting of long assistant replies.
package conversation

import (
	"strings"
	"time"

	"github.com/ashureev/akai-desk/internal/domain"
	"github.com/google/uuid"
)

// RevealDelay is the fixed stagger between bubbles of one split reply.
// The delay affects render timing only; all bubbles hold their transcript
// position from the moment the reply arrives.
const RevealDelay = 150 * time.Millisecond

// Log is the append-only conversation transcript. It is not safe for
// concurrent use; the session engine serializes all access on its event
// loop.
type Log struct {
	turns []domain.Turn
	now   func() time.Time
}

// NewLog creates an empty transcript.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// AppendUser appends a user turn in pending state and returns its id.
func (l *Log) AppendUser(text string) string {
	id := uuid.NewString()
	l.turns = append(l.turns, domain.Turn{
		ID:        id,
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: l.now(),
		Delivery:  domain.DeliveryPending,
	})
	return id
}

// AppendAssistant appends an assistant reply. Replies spanning several
// paragraphs are split into consecutive bubbles sharing one reply id;
// the first bubble is visible immediately and the rest are appended
// hidden, to be revealed by the caller on a staggered schedule. The
// returned ids are the hidden bubbles, in reveal order.
func (l *Log) AppendAssistant(text string) []string {
	chunks := SplitReply(text)
	if len(chunks) == 0 {
		return nil
	}

	replyID := ""
	if len(chunks) > 1 {
		replyID = uuid.NewString()
	}

	var hidden []string
	for i, chunk := range chunks {
		id := uuid.NewString()
		turn := domain.Turn{
			ID:        id,
			Role:      domain.RoleAssistant,
			Content:   chunk,
			CreatedAt: l.now(),
			Delivery:  domain.DeliveryDelivered,
			ReplyID:   replyID,
			Hidden:    i > 0,
		}
		l.turns = append(l.turns, turn)
		if i > 0 {
			hidden = append(hidden, id)
		}
	}
	return hidden
}

// Reveal makes a previously hidden bubble visible.
func (l *Log) Reveal(turnID string) {
	for i := range l.turns {
		if l.turns[i].ID == turnID {
			l.turns[i].Hidden = false
			return
		}
	}
}

// MarkDelivered records a successful round trip for a pending user turn.
func (l *Log) MarkDelivered(turnID string) {
	l.setDelivery(turnID, domain.DeliveryDelivered)
}

// MarkFailed records a failed send. Failed turns stay in the transcript
// and are never retried automatically.
func (l *Log) MarkFailed(turnID string) {
	l.setDelivery(turnID, domain.DeliveryFailed)
}

func (l *Log) setDelivery(turnID string, status domain.DeliveryStatus) {
	for i := range l.turns {
		if l.turns[i].ID == turnID && l.turns[i].Role == domain.RoleUser {
			l.turns[i].Delivery = status
			return
		}
	}
}

// Turns returns a copy of the full transcript in append order.
func (l *Log) Turns() []domain.Turn {
	out := make([]domain.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Visible returns the transcript with hidden bubbles elided.
func (l *Log) Visible() []domain.Turn {
	out := make([]domain.Turn, 0, len(l.turns))
	for _, t := range l.turns {
		if !t.Hidden {
			out = append(out, t)
		}
	}
	return out
}

// SplitReply breaks an assistant payload into bubbles on blank lines or
// a `---` separator line, preserving the payload's internal order.
func SplitReply(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	var cur []string
	flush := func() {
		joined := strings.TrimSpace(strings.Join(cur, "\n"))
		if joined != "" {
			chunks = append(chunks, joined)
		}
		cur = cur[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "---" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()

	return chunks
}
