// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/ioqueue/ioqueue"
)

// Config is the ioq configuration file.
type Config struct {
	Queue  ioqueue.Config `yaml:"queue"`
	Log    LogConfig      `yaml:"log"`
	Buffer BufferConfig   `yaml:"buffer"`
	Server ServerConfig   `yaml:"server"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// BufferConfig sizes the scatter-gather arrays used for every transfer.
type BufferConfig struct {
	Size     int `yaml:"size"`
	Segments int `yaml:"segments"`
}

type ServerConfig struct {
	Backlog int `yaml:"backlog"`
	// Workers caps the goroutines serving connections.
	Workers int32 `yaml:"workers"`
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Queue:  *ioqueue.DefaultConfig(),
		Log:    LogConfig{Level: "info"},
		Buffer: BufferConfig{Size: 64 << 10, Segments: 4},
		Server: ServerConfig{Backlog: 128, Workers: 10000},
	}
}

// LoadConfig reads path over the defaults. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Queue.Driver = strings.ToLower(c.Queue.Driver)
	switch c.Queue.Driver {
	case ioqueue.DriverEpoll, ioqueue.DriverUring:
	default:
		return fmt.Errorf("unknown driver %q", c.Queue.Driver)
	}
	if c.Buffer.Size <= 0 {
		return fmt.Errorf("buffer.size must be positive")
	}
	if c.Buffer.Segments < 1 || c.Buffer.Segments > 10 {
		return fmt.Errorf("buffer.segments must be in [1, 10]")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func newLogger(c LogConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
