package config

// Default values applied to any key the config file leaves unset.
const (
	DefaultStateDir        = "/var/lib/ai-sysadmin"
	DefaultConfigPath      = "/etc/ai-sysadmin/config.json"
	DefaultTriggerInterval = 30
	DefaultReviewInterval  = 60
	DefaultContextSize     = 8192
	DefaultModelCapacity   = 32768
	DefaultRetentionDays   = 30
)

// defaults returns a Config populated with every built-in default.
// User-provided values are merged on top of this.
func defaults() *Config {
	return &Config{
		StateDir:           DefaultStateDir,
		TriggerIntervalSec: DefaultTriggerInterval,
		ReviewIntervalSec:  DefaultReviewInterval,
		ContextSize:        DefaultContextSize,
		AutonomyLevel:      AutonomySuggest,
		Thresholds: Thresholds{
			CPUPercent:    90,
			MemoryPercent: 85,
			DiskPercent:   90,
			LoadPerCPU:    2.0,
			ErrorLogRate:  10,
		},
		Inference: InferenceConfig{
			BackendURL:    "http://localhost:11434",
			Model:         "qwen2.5:14b",
			TriggerModel:  "qwen2.5:1.5b",
			ReviewModel:   "qwen2.5:7b",
			MetaModel:     "qwen2.5:14b",
			ModelCapacity: DefaultModelCapacity,
		},
		TimeSeries: TimeSeriesConfig{
			RetentionDays: DefaultRetentionDays,
		},
		ProtectedServices: []string{
			"sshd",
			"systemd-networkd",
			"NetworkManager",
			"systemd-resolved",
			"dbus",
			"systemd-journald",
		},
		CriticalServices: []string{
			"sshd",
			"systemd-journald",
			"dbus",
		},
	}
}
