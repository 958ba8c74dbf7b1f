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

package uring

import "time"

// Config holds the tunables of a Ring.
type Config struct {
	// Entries is the submission channel size; the ring holds twice as many.
	Entries uint32
	// SQEBatchSize flushes to the kernel after this many SQEs.
	SQEBatchSize int
	// SQESubmitInterval, if > 0, also flushes on a ticker.
	SQESubmitInterval time.Duration
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Entries:      1024,
		SQEBatchSize: 64,
	}
}
