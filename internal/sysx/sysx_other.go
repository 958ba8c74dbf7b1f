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

package sysx

import (
	"golang.org/x/sys/unix"
)

// The queue drivers only run on Linux; these stubs keep dependents compiling.

func Socket(domain, typ, proto int) (int, error)            { return -1, unix.ENOSYS }
func Open(path string, flags int, mode uint32) (int, error) { return -1, unix.ENOSYS }
func Readv(fd int, bufs [][]byte) (int, error)              { return 0, unix.ENOSYS }
func Writev(fd int, bufs [][]byte) (int, error)             { return 0, unix.ENOSYS }
func Accept(fd int) (int, unix.Sockaddr, error)             { return -1, nil, unix.ENOSYS }
func Connect(fd int, sa unix.Sockaddr) error                { return unix.ENOSYS }
func Writable(fd int) bool                                  { return false }
func SockError(fd int) error                                { return unix.ENOSYS }
func Close(fd int) error                                    { return unix.Close(fd) }
