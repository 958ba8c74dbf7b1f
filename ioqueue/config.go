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

package ioqueue

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudwego/ioqueue/driver"
	"github.com/cloudwego/ioqueue/driver/epoll"
	"github.com/cloudwego/ioqueue/driver/uring"
)

const (
	DriverEpoll = "epoll"
	DriverUring = "uring"
)

// Config selects and tunes the driver a Manager creates.
type Config struct {
	// Driver is DriverEpoll or DriverUring.
	Driver string `yaml:"driver"`
	// PollEvents bounds the readiness events handled per reap (epoll).
	PollEvents int `yaml:"poll_events"`
	// UringEntries is the submission queue size (uring).
	UringEntries uint32 `yaml:"uring_entries"`
	// SQEBatchSize flushes submissions after this many entries (uring).
	SQEBatchSize int `yaml:"sqe_batch_size"`
	// SQESubmitInterval, if > 0, also flushes submissions on a ticker (uring).
	SQESubmitInterval time.Duration `yaml:"sqe_submit_interval"`
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Driver:       DriverEpoll,
		PollEvents:   128,
		UringEntries: 1024,
		SQEBatchSize: 64,
	}
}

// Option configures a Manager.
type Option func(m *Manager)

// WithConfig replaces the default Config.
func WithConfig(cfg *Config) Option {
	return func(m *Manager) {
		if cfg != nil {
			m.cfg = cfg
		}
	}
}

// WithDriver makes the Manager use d instead of creating one from Config.
// The Manager owns d and closes it on Shutdown.
func WithDriver(d driver.Driver) Option {
	return func(m *Manager) { m.drv = d }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func newDriver(cfg *Config, logger *zap.Logger) (driver.Driver, error) {
	switch cfg.Driver {
	case "", DriverEpoll:
		p, err := epoll.New(cfg.PollEvents, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverUring:
		r, err := uring.New(&uring.Config{
			Entries:           cfg.UringEntries,
			SQEBatchSize:      cfg.SQEBatchSize,
			SQESubmitInterval: cfg.SQESubmitInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}
