package anomaly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScoreRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/predict", r.URL.Path)

		var req map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 72.5, req["temperature"], 1e-9)
		assert.InDelta(t, 100.0, req["pressure"], 1e-9)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"is_anomaly":     true,
			"anomaly_score":  -0.12,
			"probable_cause": "Abnormal temperature",
			"recommendation": "Check cooling system",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	v := c.Score(context.Background(), SensorReading{
		Temperature: 72.5, Pressure: 100, Speed: 75, Vibration: 25,
	})

	assert.True(t, v.IsAnomaly)
	assert.InDelta(t, -0.12, v.AnomalyScore, 1e-9)
	assert.Equal(t, "Abnormal temperature", v.ProbableCause)
	assert.Equal(t, "Check cooling system", v.Recommendation)
}

func TestScoreFallsBackWhenScorerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, 500*time.Millisecond, zap.NewNop())
	v := c.Score(context.Background(), SensorReading{Temperature: 50})

	assert.False(t, v.IsAnomaly)
	assert.Zero(t, v.AnomalyScore)
	assert.Equal(t, fallbackRecommendation, v.Recommendation)
	assert.Empty(t, v.ProbableCause)
}

func TestScoreFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	v := c.Score(context.Background(), SensorReading{})

	assert.False(t, v.IsAnomaly)
	assert.Equal(t, fallbackRecommendation, v.Recommendation)
}

func TestGenerateReadingFromScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/generate-reading", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"temperature": 51.2,
			"pressure": 98.7,
			"speed": 76.1,
			"vibration": 24.9,
			"timestamp": "2026-03-01 10:30:00"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	reading := c.GenerateReading(context.Background())

	assert.InDelta(t, 51.2, reading.Temperature, 1e-9)
	assert.InDelta(t, 98.7, reading.Pressure, 1e-9)
	assert.Equal(t, 2026, reading.Timestamp.Year())
	assert.Equal(t, 30, reading.Timestamp.Minute())
}

func TestGenerateReadingSynthesizesLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, 500*time.Millisecond, zap.NewNop())
	reading := c.GenerateReading(context.Background())

	// Synthesized values come from the normal operating bands.
	assert.InDelta(t, 50, reading.Temperature, 25)
	assert.InDelta(t, 100, reading.Pressure, 50)
	assert.InDelta(t, 75, reading.Speed, 40)
	assert.InDelta(t, 25, reading.Vibration, 15)
	assert.False(t, reading.Timestamp.IsZero())
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	assert.NoError(t, c.Healthy(context.Background()))

	srv.Close()
	assert.Error(t, c.Healthy(context.Background()))
}

func TestWireTimeRoundTrip(t *testing.T) {
	var parsed WireTime
	require.NoError(t, json.Unmarshal([]byte(`"2026-03-01 10:30:00"`), &parsed))
	assert.Equal(t, 10, parsed.Hour())

	out, err := json.Marshal(parsed)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01 10:30:00"`, string(out))

	// RFC 3339 is accepted as a fallback for snapshots this process produced.
	require.NoError(t, json.Unmarshal([]byte(`"2026-03-01T10:30:00Z"`), &parsed))
	assert.Equal(t, 2026, parsed.Year())

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &parsed))
}
