package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sungwon/mailbatch/internal/auth"
	"github.com/sungwon/mailbatch/internal/msgstore"
	"github.com/sungwon/mailbatch/internal/transport"
)

// Config holds all application configuration.
type Config struct {
	Pipeline  PipelineConfig   `mapstructure:"pipeline"`
	Store     msgstore.Config  `mapstructure:"store"`
	Ledger    LedgerConfig     `mapstructure:"ledger"`
	Transport transport.Config `mapstructure:"transport"`
	API       APIConfig        `mapstructure:"api"`
	SMTP      SMTPConfig       `mapstructure:"smtp"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Tracing   TracingConfig    `mapstructure:"tracing"`
}

// PipelineConfig sizes the prepare and send stages.
type PipelineConfig struct {
	PrepareQueueSize int             `mapstructure:"prepare_queue_size"`
	SendQueueSize    int             `mapstructure:"send_queue_size"`
	PrepareWorkers   int             `mapstructure:"prepare_workers"`
	SendWorkers      int             `mapstructure:"send_workers"`
	SendDelay        time.Duration   `mapstructure:"send_delay"` // per send worker
	LoadRetryBackoff []time.Duration `mapstructure:"load_retry_backoff"`
}

// LedgerConfig selects where status rows are persisted besides memory.
type LedgerConfig struct {
	Backend        string        `mapstructure:"backend"` // memory, postgres, redis
	DatabaseURL    string        `mapstructure:"database_url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	RedisTTL       time.Duration `mapstructure:"redis_ttl"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Keys authenticate clients of the batch API and the SMTP ingress.
	// Without keys both are open.
	Keys []auth.Key `mapstructure:"keys"`
}

// SMTPConfig holds the SMTP submission ingress configuration.
type SMTPConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port"`
	Domain               string        `mapstructure:"domain"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	MaxConnections       int           `mapstructure:"max_connections"`
	AllowInsecureAuth    bool          `mapstructure:"allow_insecure_auth"`
	AllowedSenderDomains []string      `mapstructure:"allowed_sender_domains"`
	TLSCertFile          string        `mapstructure:"tls_cert_file"`
	TLSKeyFile           string        `mapstructure:"tls_key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"` // stdout, stderr, file
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// TracingConfig turns on the in-process span recorder. Disabled, spans go
// to whatever global provider the process has installed.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.prepare_queue_size", 1000)
	v.SetDefault("pipeline.send_queue_size", 1000)
	v.SetDefault("pipeline.prepare_workers", 1)
	v.SetDefault("pipeline.send_workers", 1)
	v.SetDefault("pipeline.send_delay", time.Duration(0))
	v.SetDefault("pipeline.load_retry_backoff", []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
	})

	v.SetDefault("store.type", "local")
	v.SetDefault("store.path", "./data/messages")
	v.SetDefault("store.s3_bucket", "")
	v.SetDefault("store.s3_prefix", "")
	v.SetDefault("store.s3_endpoint", "")
	v.SetDefault("store.s3_region", "us-east-1")

	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.database_url", "")
	v.SetDefault("ledger.pool_min", 2)
	v.SetDefault("ledger.pool_max", 10)
	v.SetDefault("ledger.connect_timeout", 5*time.Second)
	v.SetDefault("ledger.redis_addr", "localhost:6379")
	v.SetDefault("ledger.redis_password", "")
	v.SetDefault("ledger.redis_db", 0)
	v.SetDefault("ledger.redis_ttl", 7*24*time.Hour)

	v.SetDefault("transport.type", "stdout")
	v.SetDefault("transport.host", "")
	v.SetDefault("transport.port", 25)
	v.SetDefault("transport.username", "")
	v.SetDefault("transport.password", "")
	v.SetDefault("transport.tls_mode", "starttls")
	v.SetDefault("transport.insecure_skip_verify", false)
	v.SetDefault("transport.helo_name", "")
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.default_from", "")
	v.SetDefault("transport.output_dir", "./mail_output")
	v.SetDefault("transport.dkim.selector", "")
	v.SetDefault("transport.dkim.domain", "")
	v.SetDefault("transport.dkim.key_file", "")
	v.SetDefault("transport.dkim.private_key", "")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)
	v.SetDefault("api.shutdown_timeout", 30*time.Second)

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "0.0.0.0")
	v.SetDefault("smtp.port", 2525)
	v.SetDefault("smtp.domain", "mailbatch")
	v.SetDefault("smtp.read_timeout", 60*time.Second)
	v.SetDefault("smtp.write_timeout", 60*time.Second)
	v.SetDefault("smtp.max_message_size", 25*1024*1024)
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.allow_insecure_auth", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "./logs/mailbatch.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads config.yaml from configPath. A missing file is not an error:
// every key has a default. Environment variables with prefix MAILBATCH_
// override file values, e.g. MAILBATCH_PIPELINE_SEND_WORKERS overrides
// pipeline.send_workers.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAILBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.PrepareQueueSize < 1 || p.SendQueueSize < 1:
		return fmt.Errorf("config: queue sizes must be positive (prepare=%d, send=%d)", p.PrepareQueueSize, p.SendQueueSize)
	case p.PrepareWorkers < 1 || p.SendWorkers < 1:
		return fmt.Errorf("config: worker counts must be positive (prepare=%d, send=%d)", p.PrepareWorkers, p.SendWorkers)
	case p.SendDelay < 0:
		return fmt.Errorf("config: send_delay must not be negative")
	}
	switch c.Ledger.Backend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("config: unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Ledger.Backend == "postgres" && c.Ledger.DatabaseURL == "" {
		return errors.New("config: ledger.database_url is required for the postgres backend")
	}
	for i, k := range c.API.Keys {
		if k.Principal == "" || k.Hash == "" {
			return fmt.Errorf("config: api.keys[%d] needs a principal and a hash", i)
		}
	}
	if c.SMTP.Enabled {
		if c.SMTP.Port < 1 || c.SMTP.MaxConnections < 1 {
			return fmt.Errorf("config: smtp port and max_connections must be positive")
		}
		if (c.SMTP.TLSCertFile == "") != (c.SMTP.TLSKeyFile == "") {
			return errors.New("config: smtp.tls_cert_file and smtp.tls_key_file must be set together")
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("config: tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}
