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

// Package driver defines the contract between the queue layer and the
// kernel I/O mechanism beneath it.
//
// A Driver only sees native descriptors and Ops. The queue layer tries every
// op once on the caller's goroutine (see Try); ops that are not ready are
// handed to Submit, and come back out of Reap when they finish.
package driver

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/internal/sysx"
)

// OpKind is the kind of native operation.
type OpKind uint8

const (
	OpPush OpKind = iota + 1
	OpPop
	OpAccept
	OpConnect
)

func (k OpKind) String() string {
	switch k {
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	case OpAccept:
		return "accept"
	case OpConnect:
		return "connect"
	}
	return "unknown"
}

// Inbound reports whether the op waits for the descriptor to become readable.
func (k OpKind) Inbound() bool {
	return k == OpPop || k == OpAccept
}

var (
	// ErrCanceled is set on ops dropped by Detach.
	ErrCanceled = errors.New("operation canceled")
	// ErrNotAttached is returned by Submit for an unknown descriptor.
	ErrNotAttached = errors.New("descriptor not attached")
	// ErrNotPollable is returned by Submit for descriptors that never block,
	// such as regular files.
	ErrNotPollable = errors.New("descriptor not pollable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("driver closed")
)

// Op is one native operation.
//
// For OpPush, Bufs holds the bytes still to be written and N the bytes
// written so far. For OpPop, Bufs is the destination and N the bytes read;
// N == 0 with a nil Err means end of stream.
type Op struct {
	ID   uint64
	Kind OpKind
	Fd   int
	Bufs [][]byte

	N     int
	NewFd int // OpAccept result
	Err   error
}

// Driver performs native I/O for the queue layer.
//
// Attach, Detach, Submit and Wakeup may be called from any goroutine.
// Reap must not be called concurrently with itself.
type Driver interface {
	// Attach registers fd. pollable is false for descriptors that never
	// report readiness (regular files); their ops always finish in Try.
	Attach(fd int) (pollable bool, err error)

	// Detach forgets fd and returns its pending ops with Err set to
	// ErrCanceled. It does not close fd.
	Detach(fd int) []*Op

	// Submit queues op until fd is ready. Ops of the same direction on
	// the same fd finish in submission order.
	Submit(op *Op) error

	// Reap drives progress and returns finished ops. It blocks up to
	// timeout; a negative timeout blocks until something finishes or
	// Wakeup is called.
	Reap(timeout time.Duration) ([]*Op, error)

	// Wakeup makes a blocked or the next Reap return promptly.
	Wakeup() error

	Close() error
}

// Try attempts op once without blocking. It returns true when op has
// finished, successfully or with op.Err set.
func Try(op *Op) bool {
	switch op.Kind {
	case OpPush:
		for len(op.Bufs) > 0 {
			n, err := sysx.Writev(op.Fd, op.Bufs)
			if err != nil {
				if sysx.IsTemporary(err) {
					return false
				}
				op.Err = err
				return true
			}
			op.N += n
			op.Bufs = sysx.Advance(op.Bufs, n)
		}
		return true

	case OpPop:
		if sysx.Total(op.Bufs) == 0 {
			return true
		}
		n, err := sysx.Readv(op.Fd, op.Bufs)
		if err != nil {
			if sysx.IsTemporary(err) {
				return false
			}
			op.Err = err
			return true
		}
		op.N = n
		return true

	case OpAccept:
		nfd, _, err := sysx.Accept(op.Fd)
		if err != nil {
			if sysx.IsTemporary(err) {
				return false
			}
			op.Err = err
			return true
		}
		op.NewFd = nfd
		return true

	case OpConnect:
		if !sysx.Writable(op.Fd) {
			return false
		}
		op.Err = sysx.SockError(op.Fd)
		return true
	}
	op.Err = unix.EINVAL
	return true
}

// Timeout converts d to epoll/io_uring milliseconds, rounding up.
func Timeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
