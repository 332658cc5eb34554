package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPath            = "/etc/gopetcare/config.yaml"
	DefaultHTTPAddr        = "0.0.0.0:8080"
	DefaultRefreshInterval = 120 * time.Second
	DefaultLogLevel        = "info"
	DefaultMQTTPort        = 1883
	DefaultMQTTTopicPrefix = "gopetcare"
)

// Config is the daemon configuration.
type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	LogLevel        string        `mapstructure:"log_level"`

	PetKit PetKitConfig `mapstructure:"petkit"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
}

// PetKitConfig locates the account bootstrap file and tunes the vendor
// client.
type PetKitConfig struct {
	BootstrapFile string `mapstructure:"bootstrap_file"`
	Timezone      string `mapstructure:"timezone"`
	RelayType     int    `mapstructure:"relay_type"`
}

// MQTTConfig points at the broker state snapshots are published to. A
// missing host disables publishing.
type MQTTConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	TLS         bool   `mapstructure:"tls"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GOPETCARE")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = DefaultMQTTPort
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.PetKit.BootstrapFile == "" {
		return fmt.Errorf("petkit.bootstrap_file is required")
	}
	if cfg.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh_interval must be at least one minute")
	}
	return nil
}
