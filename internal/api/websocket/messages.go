package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Line state messages
	MessageTypeStateUpdated  MessageType = "state_updated"
	MessageTypeStatusChanged MessageType = "status_changed"

	// Anomaly messages
	MessageTypeAnomalyAlert MessageType = "anomaly_alert"

	// Channel messages
	MessageTypeConnectionEstablished MessageType = "connection_established"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StatusChangedData announces a line status transition.
type StatusChangedData struct {
	Status   string `json:"status"`
	Previous string `json:"previous_status"`
}

// ConnectionEstablishedData greets a freshly registered viewer. Viewers pull
// a full snapshot over REST after receiving it; the channel replays nothing.
type ConnectionEstablishedData struct {
	ClientID string `json:"client_id"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Helper functions for creating specific message types

// NewStateUpdatedMessage wraps a full line snapshot. Every broadcast carries
// the entire state, never a delta.
func NewStateUpdatedMessage(snapshot interface{}) Message {
	return NewMessage(MessageTypeStateUpdated, snapshot)
}

func NewStatusChangedMessage(status, previous string) Message {
	return NewMessage(MessageTypeStatusChanged, StatusChangedData{
		Status:   status,
		Previous: previous,
	})
}

func NewAnomalyAlertMessage(alert interface{}) Message {
	return NewMessage(MessageTypeAnomalyAlert, alert)
}

func NewConnectionEstablishedMessage(clientID string) Message {
	return NewMessage(MessageTypeConnectionEstablished, ConnectionEstablishedData{
		ClientID: clientID,
	})
}
