package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/bideuchre/go/internal/client/buffer"
	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/runner"
)

type Config struct {
	Game struct {
		TargetScore int  `yaml:"target_score"`
		StrictMode  bool `yaml:"strict_mode"`
	} `yaml:"game"`
	Runner struct {
		MaxSteps int `yaml:"max_steps"`
	} `yaml:"runner"`
	Client struct {
		Linger time.Duration `yaml:"linger"`
	} `yaml:"client"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var config Config
	config.Game.TargetScore = machine.DefaultTargetScore
	config.Game.StrictMode = true
	config.Runner.MaxSteps = runner.DefaultMaxSteps
	config.Client.Linger = buffer.DefaultLinger
	config.Log.Level = "info"
	return &config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Game.TargetScore <= 0 {
		return nil, fmt.Errorf("game.target_score must be positive, got %d", config.Game.TargetScore)
	}
	if config.Runner.MaxSteps <= 0 {
		return nil, fmt.Errorf("runner.max_steps must be positive, got %d", config.Runner.MaxSteps)
	}
	return config, nil
}

func (c *Config) runnerConfig() runner.Config {
	mode := machine.Lenient
	if c.Game.StrictMode {
		mode = machine.Strict
	}
	return runner.Config{MaxSteps: c.Runner.MaxSteps, Mode: mode}
}

func (c *Config) logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}
