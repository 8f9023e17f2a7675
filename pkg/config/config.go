package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
		BodyLimit       string        `yaml:"body_limit" default:"1M"`
		// CORSOrigins are the dashboards allowed to call the API from a browser. Empty disables CORS.
		CORSOrigins []string `yaml:"cors_origins" default:"[\"*\"]"`
		// RateLimit is a per-client token bucket on the /api routes. Burst 0 disables it.
		RateLimit struct {
			Burst     float64 `yaml:"burst" default:"20" validate:"gte=0"`
			PerSecond float64 `yaml:"per_second" default:"10" validate:"gte=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Artifacts struct {
		// Base is a directory or an http(s) URL prefix that relative locations resolve against.
		Base         string        `yaml:"base"`
		Model        string        `yaml:"model" default:"tfjs_model/model.json" validate:"required"`
		Scaler       string        `yaml:"scaler" default:"scaler_params.json" validate:"required"`
		Labels       string        `yaml:"labels" default:"label_classes.json" validate:"required"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"10s"`
	} `yaml:"artifacts"`
	Model struct {
		Engine string `yaml:"engine" default:"tfjs" validate:"oneof=tfjs onnx remote"`
		Scaler string `yaml:"scaler" default:"auto" validate:"oneof=auto standard minmax"`
		ONNX   struct {
			LibraryPath string `yaml:"library_path"`
			InputName   string `yaml:"input_name"`
			OutputName  string `yaml:"output_name"`
		} `yaml:"onnx"`
		// Remote applies when engine is remote; artifacts.model is then the predict URL.
		Remote struct {
			Attempts int           `yaml:"attempts" default:"1" validate:"gte=1"`
			Backoff  time.Duration `yaml:"backoff" default:"50ms"`
		} `yaml:"remote"`
	} `yaml:"model"`
	Cache struct {
		Enabled bool          `yaml:"enabled"`
		Backend string        `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
		TTL     time.Duration `yaml:"ttl" default:"10m"`
		MaxSize int           `yaml:"max_size" default:"1000" validate:"gte=1"`
		// L1TTL bounds how long a Redis hit stays in memory with the layered backend.
		L1TTL time.Duration `yaml:"l1_ttl" default:"1m"`
		Redis struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"bizhealth"`
			PoolSize int    `yaml:"pool_size" default:"10" validate:"gte=1"`
			MinIdle  int    `yaml:"min_idle" default:"2" validate:"gte=0"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		InputTopic   string        `yaml:"input_topic" default:"umkm.weekly_metrics"`
		OutputTopic  string        `yaml:"output_topic" default:"umkm.health_predictions"`
		LogTopic     string        `yaml:"log_topic"`
		LogInterval  time.Duration `yaml:"log_interval" default:"30s"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"bizhealth"`
			Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"64" validate:"gte=1"`
			RetryMax   int           `yaml:"retry_max" default:"3" validate:"gte=0"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"umkm.weekly_metrics.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
}

var validate = validator.New()

// Default returns a config populated only with defaults. It is valid as-is.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A missing file is not an error: the defaults are used instead.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		c, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BIZHEALTH_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ARTIFACTS_BASE"); v != "" {
		c.Artifacts.Base = v
	}
	if v := os.Getenv("MODEL_ENGINE"); v != "" {
		c.Model.Engine = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, err := splitHostPort(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_ADDR: %w", err)
		}
		c.Cache.Redis.Host, c.Cache.Redis.Port = host, port
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Kafka.Enabled && c.Kafka.InputTopic == c.Kafka.OutputTopic {
		return fmt.Errorf("kafka.input_topic and kafka.output_topic must differ, got '%s'", c.Kafka.InputTopic)
	}
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i <= 0 || i == len(addr)-1 {
		return "", 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	var port int
	if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err != nil {
		return "", 0, fmt.Errorf("bad port in %q: %w", addr, err)
	}
	return addr[:i], port, nil
}
