package viewer

import "time"

// Phase is the channel's position in the connection lifecycle.
type Phase string

const (
	PhaseDisconnected  Phase = "disconnected"
	PhaseConnecting    Phase = "connecting"
	PhaseConnected     Phase = "connected"
	PhaseReconnecting  Phase = "reconnecting"
	PhaseDisconnecting Phase = "disconnecting"
)

// Lifecycle events. Strictly one attempt is in flight at a time; the manager
// goroutine is the only producer of connect/established/drop/exhausted.
const (
	eventConnect     = "connect"
	eventEstablished = "established"
	eventDrop        = "drop"
	eventExhausted   = "exhausted"
	eventDisconnect  = "disconnect"
	eventClosed      = "closed"
)

// ConnectionState is the channel's externally visible condition.
type ConnectionState struct {
	Phase       Phase     `json:"phase"`
	Attempts    int       `json:"attempts"`
	FullResets  int       `json:"full_resets"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}
