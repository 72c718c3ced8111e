package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds application settings. Environment variables cover deployment
// concerns; the optional YAML file carries gateway/hub tuning that rarely
// changes per environment.
type Config struct {
	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	ConfigFile string `envconfig:"CONFIG_FILE" default:""`

	Tuning Tuning `ignored:"true"`
}

// Tuning holds fan-out and session-hub knobs loaded from YAML.
type Tuning struct {
	Gateway struct {
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		SendBuffer     int           `yaml:"send_buffer"`
	} `yaml:"gateway"`
	Hub struct {
		IdleEviction  time.Duration `yaml:"idle_eviction"`
		JanitorPeriod time.Duration `yaml:"janitor_period"`
	} `yaml:"hub"`
}

// Load reads env settings and, if CONFIG_FILE is set, merges the YAML tuning
// file on top of the defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env config: %w", err)
	}

	cfg.Tuning = defaultTuning()
	if cfg.ConfigFile != "" {
		data, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg.Tuning); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return &cfg, nil
}

func defaultTuning() Tuning {
	var t Tuning
	t.Gateway.WriteTimeout = 10 * time.Second
	t.Gateway.ReadTimeout = 60 * time.Second
	t.Gateway.PingInterval = 30 * time.Second
	t.Gateway.MaxMessageSize = 1024
	t.Gateway.SendBuffer = 256
	t.Hub.IdleEviction = 15 * time.Minute
	t.Hub.JanitorPeriod = time.Minute
	return t
}
