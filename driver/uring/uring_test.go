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

package uring

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/driver"
)

func newRing(t *testing.T) *Ring {
	t.Helper()
	r, err := New(&Config{Entries: 64, SQEBatchSize: 8}, nil)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

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

func reapUntil(t *testing.T, r *Ring, n int) []*driver.Op {
	t.Helper()
	var done []*driver.Op
	deadline := time.Now().Add(2 * time.Second)
	for len(done) < n && time.Now().Before(deadline) {
		ops, err := r.Reap(100 * time.Millisecond)
		require.NoError(t, err)
		done = append(done, ops...)
	}
	require.Len(t, done, n)
	return done
}

func TestRingPopOrder(t *testing.T) {
	r := newRing(t)
	fds := newPair(t)
	pollable, err := r.Attach(fds[1])
	require.NoError(t, err)
	require.True(t, pollable)

	a, b := make([]byte, 3), make([]byte, 3)
	opA := &driver.Op{ID: 1, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{a}}
	opB := &driver.Op{ID: 2, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{b}}
	require.NoError(t, r.Submit(opA))
	require.NoError(t, r.Submit(opB))

	_, err = unix.Write(fds[0], []byte("abcdef"))
	require.NoError(t, err)

	done := reapUntil(t, r, 2)
	assert.Equal(t, uint64(1), done[0].ID)
	assert.Equal(t, uint64(2), done[1].ID)
	assert.Equal(t, "abc", string(a))
	assert.Equal(t, "def", string(b))
}

func TestRingPushLarge(t *testing.T) {
	r := newRing(t)
	fds := newPair(t)
	_, err := r.Attach(fds[0])
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 1<<16)
	op := &driver.Op{ID: 9, Kind: driver.OpPush, Fd: fds[0], Bufs: [][]byte{payload[:100], payload[100:]}}
	require.NoError(t, r.Submit(op))

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 64<<10)
	var done []*driver.Op
	deadline := time.Now().Add(5 * time.Second)
	for (len(got) < len(payload) || len(done) == 0) && time.Now().Before(deadline) {
		n, err := unix.Read(fds[1], buf)
		if err == nil {
			got = append(got, buf[:n]...)
		}
		ops, err := r.Reap(time.Millisecond)
		require.NoError(t, err)
		done = append(done, ops...)
	}
	require.Len(t, done, 1)
	assert.NoError(t, op.Err)
	assert.Equal(t, len(payload), op.N)
	assert.True(t, bytes.Equal(payload, got))
}

func TestRingDetach(t *testing.T) {
	r := newRing(t)
	fds := newPair(t)
	_, err := r.Attach(fds[1])
	require.NoError(t, err)

	op := &driver.Op{ID: 7, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{make([]byte, 1)}}
	require.NoError(t, r.Submit(op))

	ops := r.Detach(fds[1])
	require.Len(t, ops, 1)
	assert.ErrorIs(t, ops[0].Err, driver.ErrCanceled)
	assert.Nil(t, r.Detach(fds[1]))
	assert.ErrorIs(t, r.Submit(op), driver.ErrNotAttached)

	// the canceled read must not surface later
	_, err = unix.Write(fds[0], []byte("z"))
	require.NoError(t, err)
	ops, err = r.Reap(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRingDetachReleasesBuffers(t *testing.T) {
	r := newRing(t)
	fds := newPair(t)
	_, err := r.Attach(fds[1])
	require.NoError(t, err)

	buf := make([]byte, 4)
	require.NoError(t, r.Submit(&driver.Op{ID: 9, Kind: driver.OpPop, Fd: fds[1], Bufs: [][]byte{buf}}))
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.inflight) == 1
	}, time.Second, time.Millisecond)

	require.Len(t, r.Detach(fds[1]), 1)
	r.mu.Lock()
	assert.Empty(t, r.inflight)
	r.mu.Unlock()

	_, err = unix.Write(fds[0], []byte("late"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, make([]byte, 4), buf)
}

func TestRingRegularFile(t *testing.T) {
	r := newRing(t)
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	pollable, err := r.Attach(fd)
	require.NoError(t, err)
	assert.False(t, pollable)
	op := &driver.Op{Kind: driver.OpPop, Fd: fd, Bufs: [][]byte{make([]byte, 4)}}
	assert.ErrorIs(t, r.Submit(op), driver.ErrNotPollable)
}

func TestRingWakeupAndClose(t *testing.T) {
	r := newRing(t)
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Wakeup()
	}()
	ops, err := r.Reap(-1)
	require.NoError(t, err)
	assert.Empty(t, ops)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Reap(-1)
	assert.ErrorIs(t, err, driver.ErrClosed)
	_, err = r.Attach(0)
	assert.ErrorIs(t, err, driver.ErrClosed)
}
