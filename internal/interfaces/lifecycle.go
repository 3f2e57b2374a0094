package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenLineSim/internal/alerts"
	"github.com/KevinKickass/OpenLineSim/internal/config"
	"github.com/KevinKickass/OpenLineSim/internal/line"
)

// SystemStatus is the process-level summary behind /api/v1/system/status.
type SystemStatus struct {
	State            string          `json:"state"`
	LineStatus       line.LineStatus `json:"line_status"`
	StartedAt        time.Time       `json:"started_at"`
	UptimeSeconds    int64           `json:"uptime_seconds"`
	ConnectedViewers int             `json:"connected_viewers"`
	RecentAlerts     int             `json:"recent_alerts"`
}

type LifecycleManager interface {
	Config() *config.Config
	LineController() *line.Controller
	AlertLog() *alerts.Log
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
