package domain

import (
	"time"
)

// ConnectionState describes the realtime channel lifecycle. It is owned by
// the connection controller; everything else only reads it.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// QueuedMessage is an outbound message that could not be delivered over the
// realtime channel and is waiting in the delivery queue. The ID is a
// client-generated token, distinct from server message IDs.
type QueuedMessage struct {
	ID          string
	Content     string
	MessageType string
	EnqueuedAt  time.Time
	RetryCount  int
}
