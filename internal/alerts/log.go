// Package alerts keeps a short-lived record of anomaly verdicts so the REST
// surface can answer "what went wrong recently" without any persistence.
package alerts

import (
	"sort"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/KevinKickass/OpenLineSim/internal/anomaly"
)

// Alert pairs a scored reading with the verdict that flagged it.
type Alert struct {
	ID        string                `json:"id"`
	Reading   anomaly.SensorReading `json:"reading"`
	Verdict   anomaly.Verdict       `json:"verdict"`
	CreatedAt time.Time             `json:"created_at"`
}

func New(reading anomaly.SensorReading, verdict anomaly.Verdict) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Reading:   reading,
		Verdict:   verdict,
		CreatedAt: time.Now(),
	}
}

// Log retains alerts for a fixed TTL and serves them newest-first, capped at
// a fixed count per query.
type Log struct {
	cache *gocache.Cache
	limit int
}

func NewLog(ttl time.Duration, limit int) *Log {
	return &Log{
		cache: gocache.New(ttl, ttl),
		limit: limit,
	}
}

func (l *Log) Record(a Alert) {
	l.cache.Set(a.ID, a, gocache.DefaultExpiration)
}

// Recent returns the retained alerts, newest first, at most the configured
// limit.
func (l *Log) Recent() []Alert {
	items := l.cache.Items()
	out := make([]Alert, 0, len(items))
	for _, item := range items {
		if a, ok := item.Object.(Alert); ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > l.limit {
		out = out[:l.limit]
	}
	return out
}

func (l *Log) Count() int {
	return l.cache.ItemCount()
}
