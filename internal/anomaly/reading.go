package anomaly

import (
	"fmt"
	"strconv"
	"time"
)

// wireTimeLayout is the timestamp format the scorer speaks. It has no zone
// component; values are interpreted in local time.
const wireTimeLayout = "2006-01-02 15:04:05"

// WireTime wraps time.Time with the scorer's timestamp encoding.
type WireTime struct {
	time.Time
}

func Now() WireTime {
	return WireTime{Time: time.Now()}
}

func (t WireTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.Format(wireTimeLayout))), nil
}

// UnmarshalJSON accepts the scorer layout and falls back to RFC 3339 so
// snapshots produced by this process round-trip as well.
func (t *WireTime) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("timestamp is not a JSON string: %w", err)
	}
	parsed, err := time.ParseInLocation(wireTimeLayout, s, time.Local)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("unrecognized timestamp %q", s)
		}
	}
	t.Time = parsed
	return nil
}

// SensorReading is one sample of the line's physical telemetry.
type SensorReading struct {
	Temperature float64  `json:"temperature"`
	Pressure    float64  `json:"pressure"`
	Speed       float64  `json:"speed"`
	Vibration   float64  `json:"vibration"`
	Timestamp   WireTime `json:"timestamp"`
}

// Verdict is the scorer's judgement of a single reading. AnomalyScore is the
// model's decision function value; negative means anomalous. ProbableCause is
// only set when IsAnomaly is true.
type Verdict struct {
	IsAnomaly      bool    `json:"is_anomaly"`
	AnomalyScore   float64 `json:"anomaly_score"`
	ProbableCause  string  `json:"probable_cause,omitempty"`
	Recommendation string  `json:"recommendation"`
}
