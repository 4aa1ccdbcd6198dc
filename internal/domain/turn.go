package domain

import (
	"time"
)

// Role attributes a conversation turn to its author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DeliveryStatus tracks the round trip of a user-sent turn. Assistant
// turns are always Delivered: they only exist once received.
type DeliveryStatus string

const (
	// DeliveryPending means the turn was accepted locally but the backend
	// has not confirmed it yet.
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryDelivered means the backend accepted the turn.
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryFailed means the send failed. Failed turns are never retried
	// automatically; the user must resend.
	DeliveryFailed DeliveryStatus = "failed"
)

// Turn is one message unit in the conversation transcript. Turns are
// append-only; only the sender's own DeliveryStatus ever mutates.
type Turn struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Delivery  DeliveryStatus `json:"delivery_status"`

	// ReplyID groups the consecutive bubbles produced by splitting one
	// assistant payload. Empty for user turns and single-bubble replies.
	ReplyID string `json:"reply_id,omitempty"`

	// Hidden marks a split bubble that is appended but not yet revealed.
	// Reveal is a render-timing concern only; hidden turns still hold
	// their transcript position.
	Hidden bool `json:"hidden,omitempty"`
}
