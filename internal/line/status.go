package line

import "fmt"

// LineStatus is the lifecycle of the production line as a whole.
type LineStatus string

const (
	StatusIdle      LineStatus = "idle"
	StatusRunning   LineStatus = "running"
	StatusPaused    LineStatus = "paused"
	StatusStopped   LineStatus = "stopped"
	StatusCompleted LineStatus = "completed"
	StatusError     LineStatus = "error"
)

// DeviceStatus is the per-station lifecycle label. Stations evolve in
// lockstep with the line status.
type DeviceStatus string

const (
	DeviceOffline       DeviceStatus = "offline"
	DeviceInitializing  DeviceStatus = "initializing"
	DeviceReady         DeviceStatus = "ready"
	DeviceRunning       DeviceStatus = "running"
	DeviceError         DeviceStatus = "error"
	DeviceMaintenance   DeviceStatus = "maintenance"
	DeviceEmergencyStop DeviceStatus = "emergency_stop"
)

// Command names one operator action on the line.
type Command string

const (
	CommandInitialize    Command = "initialize"
	CommandStart         Command = "start"
	CommandStop          Command = "stop"
	CommandPause         Command = "pause"
	CommandReset         Command = "reset"
	CommandEmergencyStop Command = "emergency_stop"
)

// ParseCommand maps a wire string onto a known command.
func ParseCommand(s string) (Command, error) {
	switch cmd := Command(s); cmd {
	case CommandInitialize, CommandStart, CommandStop,
		CommandPause, CommandReset, CommandEmergencyStop:
		return cmd, nil
	default:
		return "", fmt.Errorf("unknown command: %q", s)
	}
}
