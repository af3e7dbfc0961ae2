package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration. Defaults come from `default`
// tags, overrides from YAML and then from a handful of environment variables.
type Config struct {
	Environment string `yaml:"environment" default:"development"`

	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	// Symbols is the fixed universe the pipeline keeps fresh. Priorities
	// optionally rank individual symbols (low/medium/high/critical);
	// unlisted symbols are medium.
	Symbols    []string          `yaml:"symbols" validate:"min=1"`
	Priorities map[string]string `yaml:"priorities"`

	Sources struct {
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"8s"`
		CanarySymbol string        `yaml:"canary_symbol" default:"AAPL"`

		Fixture struct {
			Enabled    bool    `yaml:"enabled" default:"true"`
			Confidence float64 `yaml:"confidence" default:"0.6" validate:"gte=0,lte=1"`
		} `yaml:"fixture"`

		Yahoo struct {
			Enabled    bool    `yaml:"enabled"`
			Confidence float64 `yaml:"confidence" default:"0.9" validate:"gte=0,lte=1"`
		} `yaml:"yahoo"`

		REST []RESTSource `yaml:"rest"`

		Stream struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url"`
			APIKey         string        `yaml:"api_key"`
			Confidence     float64       `yaml:"confidence" default:"0.85" validate:"gte=0,lte=1"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
			MaxTickAge     time.Duration `yaml:"max_tick_age" default:"2m"`
		} `yaml:"stream"`
	} `yaml:"sources"`

	Cache struct {
		Capacity           int           `yaml:"capacity" default:"500" validate:"gt=0"`
		BaseTTL            time.Duration `yaml:"base_ttl" default:"5m"`
		MinTTL             time.Duration `yaml:"min_ttl" default:"30s"`
		MaxTTL             time.Duration `yaml:"max_ttl" default:"30m"`
		StalenessThreshold time.Duration `yaml:"staleness_threshold" default:"5m"`
		CleanupInterval    time.Duration `yaml:"cleanup_interval" default:"2m"`
		UpdateStrategy     string        `yaml:"update_strategy" default:"normal" validate:"oneof=aggressive normal lazy"`

		Mirror struct {
			Enabled  bool          `yaml:"enabled"`
			Addr     string        `yaml:"addr" default:"localhost:6379"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			Prefix   string        `yaml:"prefix" default:"quotepulse"`
			TTL      time.Duration `yaml:"ttl" default:"30m"`
		} `yaml:"mirror"`
	} `yaml:"cache"`

	Monitor struct {
		Interval               time.Duration `yaml:"interval" default:"30s"`
		FreshThreshold         time.Duration `yaml:"fresh_threshold" default:"2m"`
		AgingThreshold         time.Duration `yaml:"aging_threshold" default:"5m"`
		StaleThreshold         time.Duration `yaml:"stale_threshold" default:"15m"`
		CriticalThreshold      time.Duration `yaml:"critical_threshold" default:"30m"`
		AlertAgeThreshold      time.Duration `yaml:"alert_age_threshold" default:"10m"`
		MinConfidence          float64       `yaml:"min_confidence" default:"0.5" validate:"gte=0,lte=1"`
		MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" default:"3" validate:"gt=0"`
		DedupWindow            time.Duration `yaml:"dedup_window" default:"5m"`
		AckAfter               time.Duration `yaml:"ack_after" default:"24h"`
		PurgeAfter             time.Duration `yaml:"purge_after" default:"168h"`
		HistorySize            int           `yaml:"history_size" default:"100" validate:"gt=0"`
	} `yaml:"monitor"`

	Events struct {
		DrainInterval      time.Duration `yaml:"drain_interval" default:"1s"`
		BatchSize          int           `yaml:"batch_size" default:"5" validate:"gt=0"`
		RateLimitPerMinute int           `yaml:"rate_limit_per_minute" default:"30" validate:"gt=0"`
		EnabledTypes       []string      `yaml:"enabled_types"`
		PriceChangePct     float64       `yaml:"price_change_pct" default:"2"`
		PriceChangeHighPct float64       `yaml:"price_change_high_pct" default:"5"`
		VolumeSpikeRatio   float64       `yaml:"volume_spike_ratio" default:"3"`
		VolumeWindow       int           `yaml:"volume_window" default:"20" validate:"gt=0"`
	} `yaml:"events"`

	Schedule struct {
		Timezone        string        `yaml:"timezone" default:"America/New_York"`
		OpenTime        string        `yaml:"open_time" default:"09:30"`
		CloseTime       string        `yaml:"close_time" default:"16:00"`
		OpenInterval    time.Duration `yaml:"open_interval" default:"30s"`
		ClosedInterval  time.Duration `yaml:"closed_interval" default:"5m"`
		RecheckInterval time.Duration `yaml:"recheck_interval" default:"1h"`
		HealthWarnRatio float64       `yaml:"health_warn_ratio" default:"0.6" validate:"gt=0,lte=1"`
	} `yaml:"schedule"`

	Kafka struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		QuotesTopic string   `yaml:"quotes_topic" default:"quotepulse.quotes"`
		AlertsTopic string   `yaml:"alerts_topic" default:"quotepulse.alerts"`
		EventsTopic string   `yaml:"events_topic"` // inbound market events; empty disables the consumer
		GroupID     string   `yaml:"group_id" default:"quotepulse"`
		Compression string   `yaml:"compression" default:"gzip"`
	} `yaml:"kafka"`

	History struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"quotepulse"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		Table        string        `yaml:"table" default:"consensus_quotes"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"history"`
}

// RESTSource configures one generic JSON-over-HTTP price source.
type RESTSource struct {
	Name       string  `yaml:"name" validate:"required"`
	URL        string  `yaml:"url" validate:"required,url"`
	Confidence float64 `yaml:"confidence" default:"0.7" validate:"gte=0,lte=1"`
}

// Load reads, defaults, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Mirror.Addr = v
		c.Cache.Mirror.Enabled = true
	}
	if v := os.Getenv("STREAM_API_KEY"); v != "" {
		c.Sources.Stream.APIKey = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.History.Host = v
	}
	return c, nil
}

// Validate checks structural constraints plus a few cross-field rules the
// tag language cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Cache.MinTTL > c.Cache.MaxTTL {
		return fmt.Errorf("cache.min_ttl must not exceed cache.max_ttl")
	}
	if c.Monitor.FreshThreshold >= c.Monitor.AgingThreshold ||
		c.Monitor.AgingThreshold >= c.Monitor.StaleThreshold ||
		c.Monitor.StaleThreshold >= c.Monitor.CriticalThreshold {
		return fmt.Errorf("monitor staleness thresholds must be strictly increasing")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if _, err := time.Parse("15:04", c.Schedule.OpenTime); err != nil {
		return fmt.Errorf("schedule.open_time: %w", err)
	}
	if _, err := time.Parse("15:04", c.Schedule.CloseTime); err != nil {
		return fmt.Errorf("schedule.close_time: %w", err)
	}
	return nil
}
