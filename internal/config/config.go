package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Line    LineConfig    `mapstructure:"line"`
	Anomaly AnomalyConfig `mapstructure:"anomaly"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Devices DevicesConfig `mapstructure:"device_profiles"`
	Orders  OrdersConfig  `mapstructure:"orders"`
}

type ServerConfig struct {
	HTTPPort         int           `mapstructure:"http_port"`
	HealthPort       int           `mapstructure:"health_port"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CommandRateLimit float64       `mapstructure:"command_rate_limit"`
	CommandRateBurst int           `mapstructure:"command_rate_burst"`
}

// LineConfig tunes the simulated production line.
type LineConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	InitPhaseDelay     time.Duration `mapstructure:"init_phase_delay"`
	InspectFailureRate float64       `mapstructure:"inspect_failure_rate"`
	AnomalyFaultRate   float64       `mapstructure:"anomaly_fault_rate"`
	PLCProfile         string        `mapstructure:"plc_profile"`
	RobotProfile       string        `mapstructure:"robot_profile"`
	VisionProfile      string        `mapstructure:"vision_profile"`
}

// AnomalyConfig points at the external scorer service.
type AnomalyConfig struct {
	ScorerURL  string        `mapstructure:"scorer_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	AlertTTL   time.Duration `mapstructure:"alert_ttl"`
	AlertLimit int           `mapstructure:"alert_limit"`
}

// SyncConfig tunes the subscriber side of the sync channel (cmd/viewer).
type SyncConfig struct {
	PingInterval    time.Duration   `mapstructure:"ping_interval"`
	MaxAttempts     int             `mapstructure:"max_attempts"`
	BackoffSchedule []time.Duration `mapstructure:"backoff_schedule"`
	Quiescence      time.Duration   `mapstructure:"quiescence"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv    string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	Users           []UserSeed    `mapstructure:"users"`
}

// UserSeed declares one login account. Either password_hash (argon2id) or,
// for development setups, a plaintext password that is hashed at load time.
type UserSeed struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Password     string `mapstructure:"password"`
	Role         string `mapstructure:"role"`
}

type DevicesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

type OrdersConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

func Load(path string) (*Config, error) {
	// Defaults setzen
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.health_port", 8086)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.command_rate_limit", 5.0)
	viper.SetDefault("server.command_rate_burst", 10)

	viper.SetDefault("line.tick_interval", "2s")
	viper.SetDefault("line.init_phase_delay", "1s")
	viper.SetDefault("line.inspect_failure_rate", 0.15)
	viper.SetDefault("line.anomaly_fault_rate", 0.05)
	viper.SetDefault("line.plc_profile", "plc-simulated")
	viper.SetDefault("line.robot_profile", "robot-simulated")
	viper.SetDefault("line.vision_profile", "vision-simulated")

	viper.SetDefault("anomaly.scorer_url", "http://localhost:5000")
	viper.SetDefault("anomaly.timeout", "3s")
	viper.SetDefault("anomaly.alert_ttl", "1h")
	viper.SetDefault("anomaly.alert_limit", 100)

	viper.SetDefault("sync.ping_interval", "30s")
	viper.SetDefault("sync.max_attempts", 5)
	viper.SetDefault("sync.backoff_schedule", []string{"1s", "2s", "5s", "10s", "15s", "30s"})
	viper.SetDefault("sync.quiescence", "5s")

	// Auth Defaults
	viper.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	viper.SetDefault("auth.access_token_ttl", "60m")
	viper.SetDefault("auth.refresh_token_ttl", "168h")

	viper.SetDefault("device_profiles.search_paths", []string{"configs/profiles"})
	viper.SetDefault("orders.catalog_path", "configs/orders.yaml")

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("OLS") // Environment Variables mit Prefix OLS_

	// Ohne Pfad laufen wir mit Defaults + Environment.
	if path != "" {
		viper.SetConfigFile(path)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
