package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string         `mapstructure:"port" yaml:"port"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

type DownloadConfig struct {
	OutDir  string `mapstructure:"out_dir" yaml:"out_dir"`
	Workers int    `mapstructure:"workers" yaml:"workers"`

	// Channel capacities for the command/task/event tiers and the
	// state mutation queue.
	CommandBuffer int `mapstructure:"command_buffer" yaml:"command_buffer"`
	TaskBuffer    int `mapstructure:"task_buffer" yaml:"task_buffer"`
	EventBuffer   int `mapstructure:"event_buffer" yaml:"event_buffer"`
	StateBuffer   int `mapstructure:"state_buffer" yaml:"state_buffer"`

	// PageDelayMS is the per-page rate-limit delay workers honor
	// between transfers.
	PageDelayMS int `mapstructure:"page_delay_ms" yaml:"page_delay_ms"`

	// MaxRetries bounds per-page fetch attempts before an item is
	// marked errored.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// PollMS is the state consumer's idle wakeup interval.
	PollMS int `mapstructure:"poll_ms" yaml:"poll_ms"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// PageDelay returns the per-page delay as a duration.
func (d DownloadConfig) PageDelay() time.Duration {
	return time.Duration(d.PageDelayMS) * time.Millisecond
}

// PollTimeout returns the state consumer's idle wakeup interval.
func (d DownloadConfig) PollTimeout() time.Duration {
	return time.Duration(d.PollMS) * time.Millisecond
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()

	v.SetDefault("port", "8490")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.workers", 3)
	v.SetDefault("download.command_buffer", 16)
	v.SetDefault("download.task_buffer", 64)
	v.SetDefault("download.event_buffer", 256)
	v.SetDefault("download.state_buffer", 4096)
	v.SetDefault("download.page_delay_ms", 250)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.poll_ms", 100)
	v.SetDefault("log.path", "galleryd.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "galleryd.db")

	// A missing file is fine: defaults plus environment cover it.
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("GALLERYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Download.Workers <= 0 {
		c.Download.Workers = 3
	}
	if c.Download.MaxRetries <= 0 {
		c.Download.MaxRetries = 3
	}
	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}
	if c.Download.PageDelayMS < 0 {
		return fmt.Errorf("download.page_delay_ms must not be negative")
	}
	return nil
}
