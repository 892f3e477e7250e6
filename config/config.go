// Package config loads settings from the environment and an optional JSON
// file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	APIURL        string `mapstructure:"api_url"`
	WSURL         string `mapstructure:"ws_url"`
	RedisURL      string `mapstructure:"redis_url"`
	ListenAddr    string `mapstructure:"listen_addr"`
	TasksPageSize int    `mapstructure:"tasks_page_size"`
	Profile       string `mapstructure:"profile"`
	Debug         bool   `mapstructure:"debug"`
}

var defaults = map[string]any{
	"api_url":         "http://localhost:8080/api",
	"ws_url":          "ws://localhost:8080",
	"redis_url":       "localhost:6379",
	"listen_addr":     "127.0.0.1:7070",
	"tasks_page_size": 1000,
	"profile":         "default",
	"debug":           false,
}

// Load reads path when it is set and exists, then overlays the environment.
// Keys map to upper-case variables, e.g. tasks_page_size to TASKS_PAGE_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("missing API_URL")
	}
	if c.TasksPageSize <= 0 {
		return errors.New("invalid TASKS_PAGE_SIZE: must be greater than zero")
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	c.WSURL = strings.TrimRight(c.WSURL, "/")
	return nil
}
