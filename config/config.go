package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

type Config struct {
	Bookflow  BookflowConfig  `yaml:"bookflow"`
	Logging   LoggingConfig   `yaml:"logging"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Stream    StreamConfig    `yaml:"stream"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Provider  ProviderConfig  `yaml:"provider"`
	Streams   []StreamEntry   `yaml:"streams"`
}

type BookflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
	CloudWatch    bool   `yaml:"cloudwatch"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
}

type ChannelsConfig struct {
	QueueBuffer int `yaml:"queue_buffer"`
}

type SchedulerConfig struct {
	LivenessInterval time.Duration `yaml:"liveness_interval"`
}

type StreamConfig struct {
	ConflateMs int           `yaml:"conflate_ms"`
	DataFields []string      `yaml:"data_fields"`
	Retry      RetryConfig   `yaml:"retry"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
}

type RetryConfig struct {
	Multiplier int           `yaml:"multiplier"`
	MinWait    time.Duration `yaml:"min_wait"`
	MaxWait    time.Duration `yaml:"max_wait"`
}

type WriterConfig struct {
	Backend string       `yaml:"backend"`
	Buffer  BufferConfig `yaml:"buffer"`
}

type BufferConfig struct {
	MaxSize      int           `yaml:"max_size"`
	MaxIdle      time.Duration `yaml:"max_idle"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ReceiveWait  time.Duration `yaml:"receive_wait"`
}

type StorageConfig struct {
	DataDir string      `yaml:"data_dir"`
	S3      S3Config    `yaml:"s3"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ProviderConfig struct {
	APIURL            string        `yaml:"api_url"`
	StreamURL         string        `yaml:"stream_url"`
	AppKey            string        `yaml:"app_key"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

// MarketFilterConfig is the catalog-side market filter for a schedule entry.
// MarketTypeCodes is renamed into the streaming filter's market_types shape
// before subscribing (see ScheduleEntries).
type MarketFilterConfig struct {
	EventIDs        []string `yaml:"event_ids"`
	EventTypeIDs    []string `yaml:"event_type_ids"`
	CountryCodes    []string `yaml:"country_codes"`
	MarketTypeCodes []string `yaml:"market_type_codes"`
}

// StreamEntry is one scheduled stream as written in the config file. The
// start time uses a fixed local date-time layout, parsed in ScheduleEntries.
type StreamEntry struct {
	StartTime    string             `yaml:"start_time"`
	Name         string             `yaml:"name"`
	MarketFilter MarketFilterConfig `yaml:"market_filter"`
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Scheduler: SchedulerConfig{LivenessInterval: 90 * time.Second},
		Stream: StreamConfig{
			Retry: RetryConfig{Multiplier: 1, MinWait: 2 * time.Second, MaxWait: 20 * time.Second},
		},
		Writer: WriterConfig{
			Backend: "file",
			Buffer: BufferConfig{
				MaxSize:      5,
				MaxIdle:      10 * time.Second,
				PollInterval: 5 * time.Second,
				ReceiveWait:  500 * time.Millisecond,
			},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when present
	if v := os.Getenv("PROVIDER_USERNAME"); v != "" {
		config.Provider.Username = strings.TrimSpace(v)
	}
	if v := os.Getenv("PROVIDER_PASSWORD"); v != "" {
		config.Provider.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("PROVIDER_APP_KEY"); v != "" {
		config.Provider.AppKey = strings.TrimSpace(v)
	}
	if config.Writer.Backend == "s3" {
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

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bookflow.Name == "" {
		return fmt.Errorf("bookflow.name is required")
	}

	if cfg.Bookflow.Version == "" {
		return fmt.Errorf("bookflow.version is required")
	}

	if cfg.Channels.QueueBuffer <= 0 {
		return fmt.Errorf("channels.queue_buffer must be greater than 0")
	}

	if cfg.Scheduler.LivenessInterval <= 0 {
		return fmt.Errorf("scheduler.liveness_interval must be greater than 0")
	}

	if cfg.Stream.Retry.Multiplier <= 0 {
		return fmt.Errorf("stream.retry.multiplier must be greater than 0")
	}
	if cfg.Stream.Retry.MinWait <= 0 || cfg.Stream.Retry.MaxWait < cfg.Stream.Retry.MinWait {
		return fmt.Errorf("stream.retry wait bounds are invalid")
	}

	if cfg.Writer.Buffer.MaxSize <= 0 {
		return fmt.Errorf("writer.buffer.max_size must be greater than 0")
	}
	if cfg.Writer.Buffer.MaxIdle <= 0 {
		return fmt.Errorf("writer.buffer.max_idle must be greater than 0")
	}
	if cfg.Writer.Buffer.PollInterval <= 0 {
		return fmt.Errorf("writer.buffer.poll_interval must be greater than 0")
	}

	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	switch cfg.Writer.Backend {
	case "file":
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required for the s3 backend")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	case "kafka":
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required for the kafka backend")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required for the kafka backend")
		}
	default:
		return fmt.Errorf("writer.backend '%s' is not registered", cfg.Writer.Backend)
	}

	for i, s := range cfg.Streams {
		if s.Name == "" {
			return fmt.Errorf("streams[%d].name is required", i)
		}
		if s.StartTime == "" {
			return fmt.Errorf("streams[%d].start_time is required", i)
		}
	}

	return nil
}

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
