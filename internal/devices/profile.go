package devices

// StationKind identifies which of the line's three stations a profile
// describes.
type StationKind string

const (
	StationPLC    StationKind = "plc"
	StationRobot  StationKind = "robot"
	StationVision StationKind = "vision"
)

// StationProfile is the on-disk description of one simulated station. Files
// live under the configured profile search paths and are schema-validated
// before use.
type StationProfile struct {
	Station    StationInfo   `json:"station"`
	IOPoints   []IOPointSpec `json:"io_points,omitempty"`
	Parameters StationParams `json:"parameters"`
}

type StationInfo struct {
	ID          string      `json:"id"`
	Kind        StationKind `json:"kind"`
	Vendor      string      `json:"vendor"`
	Model       string      `json:"model"`
	Version     string      `json:"version"`
	Description string      `json:"description,omitempty"`
}

// IOPointSpec declares one PLC I/O point and its power-on value.
type IOPointSpec struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Initial bool   `json:"initial"`
}

const (
	IOKindInput  = "input"
	IOKindOutput = "output"
)

// Position is a cartesian robot coordinate in millimeters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// StationParams carries the per-kind tuning values. Only the fields matching
// the station kind are set; the schema enforces the required ones.
type StationParams struct {
	// PLC: bounds for the simulated cycle time in seconds.
	CycleTimeMin float64 `json:"cycle_time_min,omitempty"`
	CycleTimeMax float64 `json:"cycle_time_max,omitempty"`

	// Robot: parking pose and nominal travel speed in mm/s.
	HomePosition *Position `json:"home_position,omitempty"`
	NominalSpeed float64   `json:"nominal_speed,omitempty"`

	// Vision: reasons the simulated inspection may reject a part with.
	FailureReasons []string `json:"failure_reasons,omitempty"`
}
