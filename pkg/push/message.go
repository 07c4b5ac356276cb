// Package push implements the notification channel between the freshness
// server and its clients: the JSON wire message, the auto-reconnecting
// client Channel, and the backoff policy for reconnect attempts.
package push

import "time"

// Kind discriminates the message payload.
type Kind string

const (
	// KindDataUpdate announces that an entity group changed server-side.
	KindDataUpdate Kind = "data-update"
	// KindConnectionStatus reports channel connectivity. These messages
	// are synthesized locally by the Channel, never sent by the server.
	KindConnectionStatus Kind = "connection-status"
	// KindSystemMessage carries an operator notice to all clients.
	KindSystemMessage Kind = "system-message"
)

// Message is one payload on the notification channel. The server produces
// data-update and system-message frames; the Channel injects
// connection-status messages into the same stream so the consumer has a
// single ordered view of what happened.
//
// Entity values on the wire may be server-style or client-style keys and
// must be passed through keymap normalization before use.
type Message struct {
	Type      Kind   `json:"type"`
	Entity    string `json:"entity,omitempty"`
	Text      string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`

	Connected    bool `json:"connected,omitempty"`
	Reconnecting bool `json:"reconnecting,omitempty"`
}

// DataUpdate builds a data-update message for the given server-side key.
func DataUpdate(entity string) Message {
	return Message{
		Type:      KindDataUpdate,
		Entity:    entity,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SystemMessage builds an operator notice.
func SystemMessage(text string) Message {
	return Message{
		Type:      KindSystemMessage,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

func connectionStatus(connected, reconnecting bool) Message {
	return Message{
		Type:         KindConnectionStatus,
		Connected:    connected,
		Reconnecting: reconnecting,
		Timestamp:    time.Now().UnixMilli(),
	}
}
