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

//go:build linux

package epoll

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/driver"
)

func newPair(t *testing.T) [2]int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds
}

func newPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := New(0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// reapUntil reaps until n ops finished or the deadline passes.
func reapUntil(t *testing.T, p *Poller, n int) []*driver.Op {
	t.Helper()
	var done []*driver.Op
	deadline := time.Now().Add(2 * time.Second)
	for len(done) < n && time.Now().Before(deadline) {
		ops, err := p.Reap(100 * time.Millisecond)
		require.NoError(t, err)
		done = append(done, ops...)
	}
	require.Len(t, done, n)
	return done
}

func TestPollerPop(t *testing.T) {
	p := newPoller(t)
	fds := newPair(t)
	for _, fd := range fds {
		pollable, err := p.Attach(fd)
		require.NoError(t, err)
		require.True(t, pollable)
	}

	buf := make([]byte, 16)
	op := &driver.Op{ID: 1, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{buf}}
	require.False(t, driver.Try(op))
	require.NoError(t, p.Submit(op))

	ops, err := p.Reap(0)
	require.NoError(t, err)
	assert.Empty(t, ops)

	_, err = unix.Write(fds[0], []byte("hello"))
	require.NoError(t, err)

	done := reapUntil(t, p, 1)
	assert.Same(t, op, done[0])
	assert.NoError(t, op.Err)
	assert.Equal(t, 5, op.N)
	assert.Equal(t, "hello", string(buf[:op.N]))
}

func TestPollerPopOrder(t *testing.T) {
	p := newPoller(t)
	fds := newPair(t)
	_, err := p.Attach(fds[1])
	require.NoError(t, err)

	a, b := make([]byte, 3), make([]byte, 3)
	opA := &driver.Op{ID: 1, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{a}}
	opB := &driver.Op{ID: 2, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{b}}
	require.NoError(t, p.Submit(opA))
	require.NoError(t, p.Submit(opB))

	_, err = unix.Write(fds[0], []byte("abcdef"))
	require.NoError(t, err)

	done := reapUntil(t, p, 2)
	assert.Equal(t, uint64(1), done[0].ID)
	assert.Equal(t, uint64(2), done[1].ID)
	assert.Equal(t, "abc", string(a))
	assert.Equal(t, "def", string(b))
}

func TestPollerWakeup(t *testing.T) {
	p := newPoller(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Wakeup()
	}()
	start := time.Now()
	ops, err := p.Reap(-1)
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPollerDetach(t *testing.T) {
	p := newPoller(t)
	fds := newPair(t)
	_, err := p.Attach(fds[1])
	require.NoError(t, err)

	op := &driver.Op{ID: 7, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{make([]byte, 1)}}
	require.NoError(t, p.Submit(op))

	ops := p.Detach(fds[1])
	require.Len(t, ops, 1)
	assert.ErrorIs(t, ops[0].Err, driver.ErrCanceled)
	assert.Nil(t, p.Detach(fds[1]))
	assert.ErrorIs(t, p.Submit(op), driver.ErrNotAttached)
}

func TestPollerRegularFile(t *testing.T) {
	p := newPoller(t)
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	pollable, err := p.Attach(fd)
	require.NoError(t, err)
	assert.False(t, pollable)

	op := &driver.Op{Kind: driver.OpPop, Fd: fd, Bufs: [][]byte{make([]byte, 4)}}
	assert.ErrorIs(t, p.Submit(op), driver.ErrNotPollable)
}

func TestPollerClosed(t *testing.T) {
	p, err := New(8, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.Attach(0)
	assert.ErrorIs(t, err, driver.ErrClosed)
	_, err = p.Reap(-1)
	assert.ErrorIs(t, err, driver.ErrClosed)
	assert.ErrorIs(t, p.Wakeup(), driver.ErrClosed)
}
