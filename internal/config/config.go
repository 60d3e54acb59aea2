package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Bus      BusConfig      `mapstructure:"bus"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type IngestConfig struct {
	MaxBodyBytes         int64         `mapstructure:"max_body_bytes"`
	InlineThresholdBytes int           `mapstructure:"inline_threshold_bytes"`
	FreshnessWindow      time.Duration `mapstructure:"freshness_window"`
}

type BusConfig struct {
	Driver            string        `mapstructure:"driver"`
	BufferSize        int           `mapstructure:"buffer_size"`
	MaxRedeliveries   int           `mapstructure:"max_redeliveries"`
	RedeliveryBackoff time.Duration `mapstructure:"redelivery_backoff"`
	NATS              NATSConfig    `mapstructure:"nats"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type DeliveryConfig struct {
	Workers             int           `mapstructure:"workers"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffCap          time.Duration `mapstructure:"backoff_cap"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	DestinationCacheTTL time.Duration `mapstructure:"destination_cache_ttl"`
}

type SecretsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type BlobConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("formsink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/formsink")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FORMSINK")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/formsink.db")

	viper.SetDefault("ingest.max_body_bytes", 256*1024)
	viper.SetDefault("ingest.inline_threshold_bytes", 32*1024)
	viper.SetDefault("ingest.freshness_window", 5*time.Minute)

	viper.SetDefault("bus.driver", "memory")
	viper.SetDefault("bus.buffer_size", 64)
	viper.SetDefault("bus.max_redeliveries", 5)
	viper.SetDefault("bus.redelivery_backoff", 1*time.Second)
	viper.SetDefault("bus.nats.url", "nats://localhost:4222")
	viper.SetDefault("bus.nats.name", "formsink")
	viper.SetDefault("bus.nats.max_reconnects", -1)
	viper.SetDefault("bus.nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("bus.nats.timeout", 5*time.Second)

	viper.SetDefault("delivery.workers", 50)
	viper.SetDefault("delivery.timeout", 10*time.Second)
	viper.SetDefault("delivery.max_attempts", 5)
	viper.SetDefault("delivery.backoff_base", 2*time.Second)
	viper.SetDefault("delivery.backoff_cap", 15*time.Minute)
	viper.SetDefault("delivery.poll_interval", 1*time.Second)
	viper.SetDefault("delivery.destination_cache_ttl", 60*time.Second)

	viper.SetDefault("secrets.cache_ttl", 30*time.Second)

	viper.SetDefault("blob.dir", "./data/blobs")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
