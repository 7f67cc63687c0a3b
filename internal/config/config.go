package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address        string `yaml:"address"`
		ReadTimeoutSec int    `yaml:"read_timeout_seconds"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Allocation struct {
		MaxAttempts     int  `yaml:"max_attempts"`
		LockTTLSeconds  int  `yaml:"lock_ttl_seconds"`
		UseLock         bool `yaml:"use_lock"`
		StatsTTLSeconds int  `yaml:"stats_ttl_seconds"`
	} `yaml:"allocation"`

	Sweeper struct {
		Enabled         bool `yaml:"enabled"`
		IntervalSeconds int  `yaml:"interval_seconds"`
		GraceMinutes    int  `yaml:"grace_minutes"`
		BatchSize       int  `yaml:"batch_size"`
	} `yaml:"sweeper"`

	Events struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"events"`

	Backup BackupConfig `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// BackupConfig controls the periodic snapshot of the database file.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

func (c BackupConfig) Interval() time.Duration {
	if c.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.IntervalHours) * time.Hour
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/talon.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) AllocationMaxAttempts() int {
	if c.Allocation.MaxAttempts <= 0 {
		return 3
	}
	return c.Allocation.MaxAttempts
}

func (c *Config) AllocationLockTTL() time.Duration {
	if c.Allocation.LockTTLSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Allocation.LockTTLSeconds) * time.Second
}

func (c *Config) StatsTTL() time.Duration {
	if c.Allocation.StatsTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Allocation.StatsTTLSeconds) * time.Second
}

func (c *Config) SweeperInterval() time.Duration {
	if c.Sweeper.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

func (c *Config) SweeperGrace() time.Duration {
	if c.Sweeper.GraceMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Sweeper.GraceMinutes) * time.Minute
}

func (c *Config) SweeperBatchSize() int {
	if c.Sweeper.BatchSize <= 0 {
		return 100
	}
	return c.Sweeper.BatchSize
}

func (c *Config) ServerReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}
