package viewer

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule walks a fixed, non-decreasing delay sequence and repeats the last
// entry once the sequence is spent. It implements backoff.BackOff so channels
// can swap in any other policy.
type Schedule struct {
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*Schedule)(nil)

func NewSchedule(delays ...time.Duration) *Schedule {
	if len(delays) == 0 {
		return DefaultSchedule()
	}
	return &Schedule{delays: delays}
}

// DefaultSchedule is the reconnect ladder: quick first retries, then a slow
// steady tail.
func DefaultSchedule() *Schedule {
	return &Schedule{delays: []time.Duration{
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		15 * time.Second,
		30 * time.Second,
	}}
}

func (s *Schedule) NextBackOff() time.Duration {
	if s.next >= len(s.delays) {
		return s.delays[len(s.delays)-1]
	}
	d := s.delays[s.next]
	s.next++
	return d
}

func (s *Schedule) Reset() {
	s.next = 0
}
