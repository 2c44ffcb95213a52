// Package config loads the proxy configuration from a YAML file, an optional
// .env file and AGP_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MQTT configures the optional publisher. An empty Broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client-id"`
	TopicPrefix string `yaml:"topic-prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Config holds every setting of the proxy
type Config struct {
	Debug       bool   `yaml:"debug"`
	LogToStdout bool   `yaml:"log-to-stdout"`
	ServiceName string `yaml:"service-name"`

	Hostname     string `yaml:"hostname"`
	Port         int    `yaml:"port"`
	SensorType   string `yaml:"sensor-type"`
	TimeoutSecs  int    `yaml:"timeout-secs"`
	LongReadSecs int    `yaml:"long-read-secs"`

	PollFreqSecs        int `yaml:"poll-freq-secs"`
	PollFreqOffset      int `yaml:"poll-freq-offset"`
	ArchiveIntervalSecs int `yaml:"archive-interval-secs"`

	DatabaseDriver string `yaml:"database-driver"`
	DatabaseFile   string `yaml:"database-file"`
	DatabaseURL    string `yaml:"database-url"`

	ServerPort     int      `yaml:"server-port"`
	AllowedOrigins []string `yaml:"allowed-origins"`

	MQTT MQTT `yaml:"mqtt"`
}

// ConfigurationError reports a setting that prevents startup
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// Default returns the configuration used for keys that are not set
func Default() Config {
	return Config{
		ServiceName:         "airgradient-proxy",
		Port:                80,
		SensorType:          "airgradient",
		TimeoutSecs:         25,
		LongReadSecs:        10,
		PollFreqSecs:        30,
		PollFreqOffset:      0,
		ArchiveIntervalSecs: 300,
		DatabaseDriver:      "sqlite",
		DatabaseFile:        "/home/airgradient-proxy/archive/airgradient-proxy.sdb",
		ServerPort:          8000,
		MQTT: MQTT{
			ClientID:    "airgradient-proxy",
			TopicPrefix: "airgradient",
		},
	}
}

// Load reads path over the defaults, loads .env files and applies environment
// overrides. An empty path skips the YAML file. The result is validated.
func Load(path string, envFiles ...string) (Config, error) {
	return load(path, Config.Validate, envFiles)
}

// LoadStore is Load for commands that only read the database. It validates
// the store settings and ignores the sensor ones.
func LoadStore(path string, envFiles ...string) (Config, error) {
	return load(path, Config.ValidateStore, envFiles)
}

func load(path string, validate func(Config) error, envFiles []string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := LoadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (".env" when none are given) into the
// process environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from AGP_* environment variables
func (c *Config) ApplyEnv() error {
	var err error
	c.Debug, err = getEnvBool("AGP_DEBUG", c.Debug)
	if err != nil {
		return err
	}
	c.LogToStdout, err = getEnvBool("AGP_LOG_TO_STDOUT", c.LogToStdout)
	if err != nil {
		return err
	}
	c.ServiceName = getEnv("AGP_SERVICE_NAME", c.ServiceName)
	c.Hostname = getEnv("AGP_HOSTNAME", c.Hostname)
	c.SensorType = getEnv("AGP_SENSOR_TYPE", c.SensorType)
	c.DatabaseDriver = getEnv("AGP_DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseFile = getEnv("AGP_DATABASE_FILE", c.DatabaseFile)
	c.DatabaseURL = getEnv("AGP_DATABASE_URL", c.DatabaseURL)
	c.MQTT.Broker = getEnv("AGP_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("AGP_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.TopicPrefix = getEnv("AGP_MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)
	c.MQTT.Username = getEnv("AGP_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("AGP_MQTT_PASSWORD", c.MQTT.Password)

	if origins := getEnv("AGP_ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"AGP_PORT", &c.Port},
		{"AGP_SERVER_PORT", &c.ServerPort},
		{"AGP_TIMEOUT_SECS", &c.TimeoutSecs},
		{"AGP_LONG_READ_SECS", &c.LongReadSecs},
		{"AGP_POLL_FREQ_SECS", &c.PollFreqSecs},
		{"AGP_POLL_FREQ_OFFSET", &c.PollFreqOffset},
		{"AGP_ARCHIVE_INTERVAL_SECS", &c.ArchiveIntervalSecs},
	}
	for _, i := range ints {
		if *i.dst, err = getEnvInt(i.key, *i.dst); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that the configuration can be run
func (c Config) Validate() error {
	if c.Hostname == "" {
		return &ConfigurationError{Key: "hostname", Reason: "must be set to the sensor's host name or address"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigurationError{Key: "port", Reason: fmt.Sprintf("%d is not a valid port", c.Port)}
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return &ConfigurationError{Key: "server-port", Reason: fmt.Sprintf("%d is not a valid port", c.ServerPort)}
	}
	if c.TimeoutSecs <= 0 {
		return &ConfigurationError{Key: "timeout-secs", Reason: "must be positive"}
	}
	if c.LongReadSecs <= 0 {
		return &ConfigurationError{Key: "long-read-secs", Reason: "must be positive"}
	}
	if c.PollFreqSecs <= 0 {
		return &ConfigurationError{Key: "poll-freq-secs", Reason: "must be positive"}
	}
	if c.ArchiveIntervalSecs <= 0 {
		return &ConfigurationError{Key: "archive-interval-secs", Reason: "must be positive"}
	}
	if c.ArchiveIntervalSecs%c.PollFreqSecs != 0 {
		return &ConfigurationError{
			Key:    "archive-interval-secs",
			Reason: fmt.Sprintf("%d is not a multiple of poll-freq-secs %d", c.ArchiveIntervalSecs, c.PollFreqSecs),
		}
	}

	if err := c.ValidateStore(); err != nil {
		return err
	}

	if c.SensorType == "" {
		return &ConfigurationError{Key: "sensor-type", Reason: "must be set"}
	}

	return nil
}

// ValidateStore checks only the database settings
func (c Config) ValidateStore() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			return &ConfigurationError{Key: "database-file", Reason: "must be set for the sqlite driver"}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return &ConfigurationError{Key: "database-url", Reason: "must be set for the postgres driver"}
		}
	default:
		return &ConfigurationError{Key: "database-driver", Reason: fmt.Sprintf("unknown driver %q", c.DatabaseDriver)}
	}
	return nil
}

// PollInterval returns poll-freq-secs as a duration
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollFreqSecs) * time.Second
}

// PollOffset returns poll-freq-offset as a duration
func (c Config) PollOffset() time.Duration {
	return time.Duration(c.PollFreqOffset) * time.Second
}

// ArchiveInterval returns archive-interval-secs as a duration
func (c Config) ArchiveInterval() time.Duration {
	return time.Duration(c.ArchiveIntervalSecs) * time.Second
}

// Timeout returns timeout-secs as a duration
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// LongRead returns long-read-secs as a duration
func (c Config) LongRead() time.Duration {
	return time.Duration(c.LongReadSecs) * time.Second
}
