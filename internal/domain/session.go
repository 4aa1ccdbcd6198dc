// Package domain contains core domain types for the Akai Desk client.
package domain

import (
	"time"
)

// Session identifies one logical assistance engagement. It is created by
// the backend and immutable for its lifetime; the short code exists so a
// supporter can join the session verbally ("read me the four digits").
type Session struct {
	ID        string    `json:"id"`
	ShortCode string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionState describes the lifecycle of the live channel.
type ConnectionState string

const (
	// ConnDisconnected means no channel is open and none is scheduled.
	ConnDisconnected ConnectionState = "disconnected"
	// ConnConnecting means a dial is in flight.
	ConnConnecting ConnectionState = "connecting"
	// ConnConnected means the channel is open and sends are deliverable.
	ConnConnected ConnectionState = "connected"
	// ConnReconnecting means the channel dropped and a retry is scheduled.
	ConnReconnecting ConnectionState = "reconnecting"
)
