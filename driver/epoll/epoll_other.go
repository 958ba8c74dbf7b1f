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

//go:build !linux

package epoll

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/driver"
)

// New is only supported on Linux.
func New(maxEvents int, logger *zap.Logger) (driver.Driver, error) {
	return nil, unix.ENOSYS
}
