// Package config loads the daemon configuration from YAML with environment
// overrides. Every field has a sane default, so running without a config
// file is supported.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr" default:":8080"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	} `yaml:"log"`
	Window struct {
		Capacity int `yaml:"capacity" default:"100" validate:"gte=10,lte=1000"`
	} `yaml:"window"`
	Dispatch struct {
		HistoryLimit int           `yaml:"history_limit" default:"100" validate:"gte=10,lte=1000"`
		InboundQueue int           `yaml:"inbound_queue" default:"64" validate:"gte=1"`
		SeedTimeout  time.Duration `yaml:"seed_timeout" default:"10s"`
	} `yaml:"dispatch"`
	Gateway struct {
		ClientQueue int `yaml:"client_queue" default:"256" validate:"gte=1"`
	} `yaml:"gateway"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
}

var validate = validator.New()

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path yields pure defaults.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyEnv()

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}
