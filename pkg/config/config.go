package config

import "time"

// Config is the fully merged, validated runtime configuration.
type Config struct {
	Hostname        string        `json:"hostname,omitempty"`
	StateDir        string        `json:"state_dir"`
	TriggerInterval time.Duration `json:"-"`
	ReviewInterval  time.Duration `json:"-"`

	// Raw interval seconds as they appear in the config file.
	TriggerIntervalSec int `json:"trigger_interval"`
	ReviewIntervalSec  int `json:"review_interval"`

	ContextSize   int           `json:"context_size"`
	AutonomyLevel AutonomyLevel `json:"autonomy_level"`

	Thresholds Thresholds       `json:"thresholds"`
	Inference  InferenceConfig  `json:"inference"`
	TimeSeries TimeSeriesConfig `json:"timeseries"`

	ProtectedServices []string `json:"protected_services,omitempty"`
	CriticalServices  []string `json:"critical_services,omitempty"`
}

// AutonomyLevel is the ceiling on what the executor may do without
// human consent.
type AutonomyLevel string

// Autonomy levels, strictly increasing in permissiveness.
const (
	AutonomyObserve  AutonomyLevel = "observe"
	AutonomySuggest  AutonomyLevel = "suggest"
	AutonomyAutoSafe AutonomyLevel = "auto-safe"
	AutonomyAutoFull AutonomyLevel = "auto-full"
)

// Thresholds configure the trigger layer's metric checks.
type Thresholds struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	LoadPerCPU    float64 `json:"load_per_cpu"`
	ErrorLogRate  int     `json:"error_log_rate"`
}

// InferenceConfig selects the backend and the per-layer models.
type InferenceConfig struct {
	BackendURL    string `json:"backend_url"`
	Model         string `json:"model"`
	TriggerModel  string `json:"trigger_model"`
	ReviewModel   string `json:"review_model"`
	MetaModel     string `json:"meta_model"`
	ModelCapacity int    `json:"model_capacity"`
}

// TimeSeriesConfig holds the metrics database connection settings.
type TimeSeriesConfig struct {
	DSN           string `json:"dsn"`
	RetentionDays int    `json:"retention_days"`
}
