package line

import (
	"time"

	"github.com/KevinKickass/OpenLineSim/internal/anomaly"
)

// LineState is the authoritative model of the production line. Exactly one
// mutable instance exists per process, owned by the Controller; everything
// that leaves the controller is a Snapshot copy.
type LineState struct {
	Status         LineStatus             `json:"status"`
	Plc            PlcState               `json:"plc"`
	Robot          RobotState             `json:"robot"`
	Vision         VisionState            `json:"vision"`
	PartsProduced  int                    `json:"parts_produced"`
	PartsRejected  int                    `json:"parts_rejected"`
	CurrentOrder   *Order                 `json:"current_order,omitempty"`
	CurrentReading *anomaly.SensorReading `json:"current_reading,omitempty"`
	LastUpdated    time.Time              `json:"last_updated"`
}

// IOPoint is one named boolean PLC signal. Order within Inputs/Outputs is
// fixed by the station profile.
type IOPoint struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

type PlcState struct {
	Connected           bool         `json:"connected"`
	Status              DeviceStatus `json:"status"`
	CycleCount          int          `json:"cycle_count"`
	CycleTime           float64      `json:"cycle_time"`
	EmergencyStopActive bool         `json:"emergency_stop_active"`
	Inputs              []IOPoint    `json:"inputs"`
	Outputs             []IOPoint    `json:"outputs"`
	ErrorMessage        string       `json:"error_message,omitempty"`
}

// Position is the robot tool position in millimeters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type RobotState struct {
	Connected    bool         `json:"connected"`
	Status       DeviceStatus `json:"status"`
	Position     Position     `json:"position"`
	Speed        float64      `json:"speed"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

type VisionState struct {
	Connected         bool         `json:"connected"`
	Status            DeviceStatus `json:"status"`
	PassCount         int          `json:"pass_count"`
	FailCount         int          `json:"fail_count"`
	LastFailureReason string       `json:"last_failure_reason,omitempty"`
	ErrorMessage      string       `json:"error_message,omitempty"`
}

// newLineState is the initial shape: everything offline, all counters zero.
func newLineState() LineState {
	return LineState{
		Status: StatusIdle,
		Plc:    PlcState{Status: DeviceOffline},
		Robot:  RobotState{Status: DeviceOffline},
		Vision: VisionState{Status: DeviceOffline},
	}
}

// Snapshot returns a deep copy safe to hand to broadcast and REST readers.
func (s LineState) Snapshot() LineState {
	out := s
	if s.Plc.Inputs != nil {
		out.Plc.Inputs = append([]IOPoint(nil), s.Plc.Inputs...)
	}
	if s.Plc.Outputs != nil {
		out.Plc.Outputs = append([]IOPoint(nil), s.Plc.Outputs...)
	}
	if s.CurrentOrder != nil {
		order := *s.CurrentOrder
		out.CurrentOrder = &order
	}
	if s.CurrentReading != nil {
		reading := *s.CurrentReading
		out.CurrentReading = &reading
	}
	return out
}
