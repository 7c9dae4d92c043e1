package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Pairs      []string         `yaml:"pairs"`
	OrderBook  OrderBookConfig  `yaml:"order_book"`
	UserStream UserStreamConfig `yaml:"user_stream"`
	TimeSync   TimeSyncConfig   `yaml:"time_sync"`
	Writer     WriterConfig     `yaml:"writer"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	PublicURL      string               `yaml:"public_url"`
	PrivateURL     string               `yaml:"private_url"`
	APIKey         string               `yaml:"api_key"`
	SecretKey      string               `yaml:"secret_key"`
	AuthScheme     string               `yaml:"auth_scheme"`
	Timeout        time.Duration        `yaml:"timeout"`
	LocalIP        string               `yaml:"local_ip"`
	UserAgent      string               `yaml:"user_agent"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimits     []RateLimitConfig    `yaml:"rate_limits"`
}

// HasCredentials reports whether both API key and secret are set.
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.SecretKey != ""
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// RateLimitConfig overrides one exchange quota pool.
type RateLimitConfig struct {
	ID       string        `yaml:"id"`
	Limit    int           `yaml:"limit"`
	Interval time.Duration `yaml:"interval"`
	Linked   []string      `yaml:"linked"`
}

type OrderBookConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	Stream       StreamConfig  `yaml:"stream"`
}

type StreamConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ReconnectBurst    int           `yaml:"reconnect_burst"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

type UserStreamConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

type TimeSyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type WriterConfig struct {
	Buffer       BufferConfig       `yaml:"buffer"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Formats      FormatsConfig      `yaml:"formats"`
}

type BufferConfig struct {
	SnapshotFlushInterval time.Duration `yaml:"snapshot_flush_interval"`
	MaxRows               int           `yaml:"max_rows"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Enabled        bool             `yaml:"enabled"`
	Address        string           `yaml:"address"`
	QueueSize      bool             `yaml:"queue_size"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		App: AppConfig{Name: "payeerflow"},
		Exchange: ExchangeConfig{
			PublicURL:  "https://payeer.com/api/trade/",
			PrivateURL: "https://payeer.com/api/trade/",
			AuthScheme: "timestamp",
			Timeout:    10 * time.Second,
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		OrderBook: OrderBookConfig{
			Enabled:      true,
			PollInterval: time.Second,
			ErrorBackoff: 5 * time.Second,
			Stream: StreamConfig{
				ReconnectInterval: 5 * time.Second,
				ReconnectBurst:    1,
				PingInterval:      15 * time.Second,
			},
		},
		UserStream: UserStreamConfig{
			PollInterval: 5 * time.Second,
			ErrorBackoff: 5 * time.Second,
		},
		TimeSync: TimeSyncConfig{Interval: time.Minute},
		Writer: WriterConfig{
			Buffer:       BufferConfig{SnapshotFlushInterval: time.Minute},
			Partitioning: PartitioningConfig{TimeFormat: "{year}/{month}/{day}/{hour}"},
			Formats:      FormatsConfig{Parquet: ParquetConfig{Compression: "snappy"}},
		},
		Metrics: MetricsConfig{
			Address:        "0.0.0.0:2112",
			QueueSize:      true,
			ReportInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config, AppEnvironment()); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PAYEER_API_KEY"); v != "" {
		config.Exchange.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAYEER_SECRET_KEY"); v != "" {
		config.Exchange.SecretKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAYEER_PAIRS"); v != "" {
		config.Pairs = splitList(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Storage.Kafka.Brokers = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateConfig(cfg *Config, env string) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	// An empty list means every pair the exchange lists is tracked.
	for _, p := range cfg.Pairs {
		if !pairRegexp.MatchString(p) {
			return fmt.Errorf("pair '%s' must look like BASE-QUOTE", p)
		}
	}

	switch cfg.Exchange.AuthScheme {
	case "timestamp", "body":
	default:
		return fmt.Errorf("exchange.auth_scheme must be 'timestamp' or 'body'")
	}
	for _, u := range []string{cfg.Exchange.PublicURL, cfg.Exchange.PrivateURL} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("exchange url '%s' is invalid", u)
		}
		if IsProductionLike(env) && parsed.Scheme != "https" {
			return fmt.Errorf("exchange url '%s' must use https in %s", u, env)
		}
	}
	if cfg.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be greater than 0")
	}
	for _, rl := range cfg.Exchange.RateLimits {
		if rl.ID == "" || rl.Limit <= 0 || rl.Interval <= 0 {
			return fmt.Errorf("exchange.rate_limits entries need id, limit and interval")
		}
	}

	if cfg.OrderBook.PollInterval <= 0 || cfg.OrderBook.ErrorBackoff <= 0 {
		return fmt.Errorf("order_book.poll_interval and order_book.error_backoff must be greater than 0")
	}
	if cfg.OrderBook.Stream.Enabled && cfg.OrderBook.Stream.URL == "" {
		return fmt.Errorf("order_book.stream.url is required when the stream is enabled")
	}

	if cfg.UserStream.Enabled {
		if !cfg.Exchange.HasCredentials() {
			return fmt.Errorf("exchange.api_key and exchange.secret_key are required when user_stream is enabled")
		}
		if cfg.UserStream.PollInterval <= 0 || cfg.UserStream.ErrorBackoff <= 0 {
			return fmt.Errorf("user_stream.poll_interval and user_stream.error_backoff must be greater than 0")
		}
	}

	if cfg.TimeSync.Enabled && cfg.TimeSync.Interval <= 0 {
		return fmt.Errorf("time_sync.interval must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Writer.Buffer.SnapshotFlushInterval <= 0 {
			return fmt.Errorf("writer.buffer.snapshot_flush_interval must be greater than 0")
		}
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when Kafka is enabled")
		}
	}

	return nil
}

var pairRegexp = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+$`)

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
