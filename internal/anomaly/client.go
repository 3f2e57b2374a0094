// Package anomaly talks to the external anomaly scoring service and keeps the
// line running when that service is not. Every call degrades to a safe local
// result instead of returning an error.
package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/metrics"
)

const (
	predictPath  = "/api/predict"
	generatePath = "/api/generate-reading"
	healthPath   = "/api/health"
)

// fallbackRecommendation marks verdicts produced without the scorer.
const fallbackRecommendation = "service unavailable"

// Client is the HTTP client for the scoring service.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type predictRequest struct {
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Speed       float64 `json:"speed"`
	Vibration   float64 `json:"vibration"`
}

// Score asks the scorer to judge one reading. Any transport, status or decode
// failure yields the safe fallback verdict; scoring never halts the line.
func (c *Client) Score(ctx context.Context, reading SensorReading) Verdict {
	body, err := json.Marshal(predictRequest{
		Temperature: reading.Temperature,
		Pressure:    reading.Pressure,
		Speed:       reading.Speed,
		Vibration:   reading.Vibration,
	})
	if err != nil {
		c.logger.Warn("failed to encode predict request, using fallback verdict", zap.Error(err))
		return fallbackVerdict()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, bytes.NewBuffer(body))
	if err != nil {
		c.logger.Warn("failed to build predict request, using fallback verdict", zap.Error(err))
		return fallbackVerdict()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("anomaly scorer unreachable, using fallback verdict", zap.Error(err))
		return fallbackVerdict()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("anomaly scorer returned non-200, using fallback verdict",
			zap.Int("status", resp.StatusCode))
		return fallbackVerdict()
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		c.logger.Warn("failed to decode scorer verdict, using fallback verdict", zap.Error(err))
		return fallbackVerdict()
	}
	return verdict
}

// GenerateReading fetches the next telemetry sample from the scorer's
// generator endpoint, synthesizing one locally when the scorer is down.
func (c *Client) GenerateReading(ctx context.Context) SensorReading {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+generatePath, nil)
	if err != nil {
		c.logger.Warn("failed to build generate-reading request, synthesizing locally", zap.Error(err))
		return c.synthesize()
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("anomaly scorer unreachable, synthesizing reading locally", zap.Error(err))
		return c.synthesize()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("generate-reading returned non-200, synthesizing locally",
			zap.Int("status", resp.StatusCode))
		return c.synthesize()
	}

	var reading SensorReading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		c.logger.Warn("failed to decode generated reading, synthesizing locally", zap.Error(err))
		return c.synthesize()
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = Now()
	}
	return reading
}

// Healthy probes the scorer's health endpoint. Diagnostic only; callers must
// not gate line operation on the result.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("scorer health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scorer health check returned status %d", resp.StatusCode)
	}
	return nil
}

func fallbackVerdict() Verdict {
	metrics.ScorerFallbacks.Inc()
	return Verdict{
		IsAnomaly:      false,
		AnomalyScore:   0,
		Recommendation: fallbackRecommendation,
	}
}

// synthesize draws a sample from the line's normal operating bands, mirroring
// the scorer's own generator.
func (c *Client) synthesize() SensorReading {
	metrics.ScorerFallbacks.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	return SensorReading{
		Temperature: c.rng.NormFloat64()*5 + 50,
		Pressure:    c.rng.NormFloat64()*10 + 100,
		Speed:       c.rng.NormFloat64()*8 + 75,
		Vibration:   c.rng.NormFloat64()*3 + 25,
		Timestamp:   Now(),
	}
}
