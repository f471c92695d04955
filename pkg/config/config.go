package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"EdgeLab/pkg/util"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Engine struct {
		Window          int    `yaml:"window" default:"64"`
		Timeframe       string `yaml:"timeframe" default:"1m"`
		GenerateEvery   int    `yaml:"generate_every" default:"32"`
		GenerateBudget  int    `yaml:"generate_budget" default:"64"`
		MaxHorizon      int    `yaml:"max_horizon" default:"8"`
		HistoryCapacity int    `yaml:"history_capacity" default:"512"`
		Seed            int64  `yaml:"seed"`
	} `yaml:"engine"`
	Evaluator struct {
		Workers   int `yaml:"workers" default:"4"`
		QueueSize int `yaml:"queue_size" default:"256"`
	} `yaml:"evaluator"`
	Lifecycle struct {
		MinSamples     int           `yaml:"min_samples" default:"30"`
		MaxSamples     int           `yaml:"max_samples" default:"500"`
		Confidence     float64       `yaml:"confidence" default:"0.95"`
		Power          float64       `yaml:"power" default:"0.8"`
		Delta          float64       `yaml:"delta" default:"0.1"`
		MinEdge        float64       `yaml:"min_edge"`
		PoolCapacity   int           `yaml:"pool_capacity" default:"32"`
		DecayWindow    int           `yaml:"decay_window" default:"20"`
		DecayThreshold float64       `yaml:"decay_threshold" default:"0.4"`
		Epsilon        float64       `yaml:"epsilon" default:"0.001"`
		Retention      time.Duration `yaml:"retention" default:"24h"`
		EventBuffer    int           `yaml:"event_buffer" default:"1024"`
	} `yaml:"lifecycle"`
	Feed struct {
		Mode    string   `yaml:"mode" default:"websocket"` // websocket, kafka, backfill
		Symbols []string `yaml:"symbols"`
	} `yaml:"feed"`
	Binance struct {
		RESTURL        string        `yaml:"rest_url" default:"https://api.binance.com"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://stream.binance.com:9443"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		RequestsPerSec float64       `yaml:"requests_per_sec" default:"5"`
		Backfill       struct {
			Bars      int `yaml:"bars" default:"1000"`
			BatchSize int `yaml:"batch_size" default:"500"`
		} `yaml:"backfill"`
	} `yaml:"binance"`
	Archive struct {
		Backend      string        `yaml:"backend" default:"none"` // kafka, clickhouse, none
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"5s"`
	} `yaml:"archive"`
	Kafka struct {
		Brokers          []string `yaml:"brokers"`
		BarsTopic        string   `yaml:"bars_topic" default:"edgelab.bars"`
		TransitionsTopic string   `yaml:"transitions_topic" default:"edgelab.transitions"`
		RequiredAcks     int      `yaml:"required_acks" default:"1"`
		Compression      string   `yaml:"compression" default:"snappy"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"edgelab"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"250ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"10s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"edgelab"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Queue    struct {
			Workers    int           `yaml:"workers" default:"1"`
			RetryLimit int           `yaml:"retry_limit" default:"5"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		} `yaml:"queue"`
		PoolExport struct {
			Enabled bool          `yaml:"enabled"`
			Spec    string        `yaml:"spec" default:"@every 15s"`
			TTL     time.Duration `yaml:"ttl" default:"1m"`
		} `yaml:"pool_export"`
		Lock struct {
			Enabled bool          `yaml:"enabled"`
			Key     string        `yaml:"key" default:"engine:leader"`
			TTL     time.Duration `yaml:"ttl" default:"90s"`
			Refresh string        `yaml:"refresh" default:"@every 30s"`
		} `yaml:"lock"`
	} `yaml:"redis"`
	Cache struct {
		Enabled         bool          `yaml:"enabled"`
		TTL             time.Duration `yaml:"ttl" default:"2s"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
	} `yaml:"cache"`
	RateLimit struct {
		Enabled bool    `yaml:"enabled"`
		RPS     float64 `yaml:"rps" default:"20"`
		Burst   int     `yaml:"burst" default:"40"`
	} `yaml:"ratelimit"`
	Scheduler struct {
		SnapshotSpec  string `yaml:"snapshot_spec" default:"@every 1m"`
		RetentionSpec string `yaml:"retention_spec" default:"@every 10m"`
	} `yaml:"scheduler"`
	LogCollector struct {
		Enabled        bool          `yaml:"enabled"`
		Topic          string        `yaml:"topic" default:"edgelab.logs"`
		Interval       time.Duration `yaml:"interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"log_collector"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
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
		c.Feed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("FEED_MODE"); v != "" {
		c.Feed.Mode = v
	}
	if v := os.Getenv("ARCHIVE_BACKEND"); v != "" {
		c.Archive.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Feed.Mode {
	case "websocket", "kafka", "backfill":
	default:
		return fmt.Errorf("feed.mode must be 'websocket', 'kafka' or 'backfill', got '%s'", c.Feed.Mode)
	}
	if c.Feed.Mode != "kafka" && len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols cannot be empty")
	}
	switch c.Archive.Backend {
	case "kafka", "clickhouse", "none":
	default:
		return fmt.Errorf("archive.backend must be 'kafka', 'clickhouse' or 'none', got '%s'", c.Archive.Backend)
	}
	if (c.Feed.Mode == "kafka" || c.Archive.Backend == "kafka") && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Archive.Backend == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("archive.backend is 'clickhouse' but clickhouse is disabled")
	}
	if c.Engine.Window < 2 {
		return fmt.Errorf("engine.window must be at least 2")
	}
	if c.Lifecycle.Confidence <= 0.5 || c.Lifecycle.Confidence >= 1 {
		return fmt.Errorf("lifecycle.confidence must be in (0.5, 1)")
	}
	if c.Lifecycle.Power <= 0.5 || c.Lifecycle.Power >= 1 {
		return fmt.Errorf("lifecycle.power must be in (0.5, 1)")
	}
	if c.Lifecycle.Delta <= 0 || c.Lifecycle.Delta >= 0.5 {
		return fmt.Errorf("lifecycle.delta must be in (0, 0.5)")
	}
	if c.Lifecycle.MinSamples < 1 {
		return fmt.Errorf("lifecycle.min_samples must be at least 1")
	}
	if c.Lifecycle.MaxSamples < c.Lifecycle.MinSamples {
		return fmt.Errorf("lifecycle.max_samples must be >= min_samples")
	}
	if c.Lifecycle.PoolCapacity < 1 {
		return fmt.Errorf("lifecycle.pool_capacity must be at least 1")
	}
	if c.Lifecycle.DecayThreshold <= 0 || c.Lifecycle.DecayThreshold >= 1 {
		return fmt.Errorf("lifecycle.decay_threshold must be in (0, 1)")
	}
	if c.Lifecycle.Epsilon <= 0 {
		return fmt.Errorf("lifecycle.epsilon must be positive")
	}
	return nil
}
