// Package offline captures mutations made while disconnected and signals a
// background host to replay them once connectivity returns.
package offline

import (
	"context"
	"time"
)

// MessageKind names a host signal.
type MessageKind string

const (
	// TriggerSync is sent automatically on an offline to online transition.
	TriggerSync MessageKind = "TRIGGER_SYNC"
	// ManualSync is sent when the user asks to sync now.
	ManualSync MessageKind = "MANUAL_SYNC"
)

// Message is a fire-and-forget notification to the background host.
type Message struct {
	Type MessageKind `json:"type"`
	At   time.Time   `json:"at"`
}

// Host is a background-execution host able to replay the queue outside the
// foreground process.
type Host interface {
	// Controlling reports whether the host is ready to act on messages.
	Controlling() bool
	// PostMessage delivers m without waiting for the host to act on it.
	PostMessage(ctx context.Context, m Message) error
}
