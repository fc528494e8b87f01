package broadcast

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a message sent to clients.
type MessageType string

const (
	TypeConnected  MessageType = "connected"
	TypeUpdate     MessageType = "update"
	TypeHeartbeat  MessageType = "heartbeat"
	TypeError      MessageType = "error"
	TypeSubscribed MessageType = "subscribed"
)

// Message is one outbound frame. It is encoded once and the same bytes go to
// every client.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type connectedData struct {
	Message string `json:"message"`
}

// pollFailedMessage is what viewers see when a poll fails; the cause is logged.
const pollFailedMessage = "Failed to fetch market data"

type errorData struct {
	Message string `json:"message"`
}

type subscribedData struct {
	Symbols []string `json:"symbols"`
}

func newMessage(t MessageType, data any, now time.Time) Message {
	return Message{Type: t, Data: data, Timestamp: now.UTC()}
}

func (m Message) encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return b, nil
}

// ClientMessage is an inbound frame. Only "subscribe" is understood.
type ClientMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

func parseClientMessage(raw []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	if m.Type == "" {
		return ClientMessage{}, fmt.Errorf("decode client message: missing type")
	}
	return m, nil
}
