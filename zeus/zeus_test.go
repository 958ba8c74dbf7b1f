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

package zeus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/ioqueue"
	"github.com/cloudwego/ioqueue/sga"
)

func newLibOS(t *testing.T) *LibOS {
	t.Helper()
	m, err := ioqueue.New()
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	return New(m)
}

func connect(t *testing.T, z *LibOS) (client, server int) {
	t.Helper()
	lqd := z.Queue(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.GreaterOrEqual(t, lqd, 0)
	require.Equal(t, 0, z.Bind(lqd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.Equal(t, 0, z.Listen(lqd, 4))
	sa, err := unix.Getsockname(z.QD2FD(lqd))
	require.NoError(t, err)

	client = z.Queue(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.GreaterOrEqual(t, client, 0)
	done := make(chan int, 1)
	go func() { done <- z.Connect(client, sa) }()

	var peer unix.Sockaddr
	server = z.Accept(lqd, &peer)
	require.GreaterOrEqual(t, server, 0)
	require.Equal(t, 0, <-done)
	require.NotNil(t, peer)
	return client, server
}

func TestErrNo(t *testing.T) {
	z := newLibOS(t)
	assert.Equal(t, ErrNo, z.Close(3))
	assert.Equal(t, ErrNo, z.QD2FD(3))
	assert.Equal(t, ErrNo, z.Push(3, sga.New([]byte("x"))))
	assert.Equal(t, ErrNo, z.Pop(3, sga.Alloc(1, 1)))
	assert.Equal(t, ErrNo, z.WaitAny(nil))
	assert.Equal(t, ErrNo, z.WaitAll([]int{42}))
	assert.Equal(t, ErrNo, z.Queue(-1, 0, 0))
	assert.Equal(t, ErrNo, z.Open(filepath.Join(t.TempDir(), "missing"), unix.O_RDONLY))
	assert.Equal(t, ErrNo, z.Merge(0, 1))

	qd := z.Open(os.DevNull, unix.O_RDONLY)
	require.Equal(t, 0, qd)
	assert.Equal(t, ErrNo, z.Listen(qd, 1))
	assert.Equal(t, ErrNo, z.Accept(qd, nil))
}

func TestQueueTableLimit(t *testing.T) {
	z := newLibOS(t)
	for i := 0; i < MaxQueueDepth; i++ {
		require.Equal(t, i, z.Open(os.DevNull, unix.O_RDONLY))
	}
	assert.Equal(t, ErrNo, z.Open(os.DevNull, unix.O_RDONLY))
	assert.Equal(t, 0, z.Close(5))
	assert.Equal(t, 5, z.Open(os.DevNull, unix.O_RDONLY))
}

func TestEcho(t *testing.T) {
	z := newLibOS(t)
	client, server := connect(t, z)

	src := sga.New([]byte("ping"), []byte("-"), []byte("pong"))
	assert.Equal(t, 9, z.BlockingPush(client, src))

	dst := sga.Alloc(1, 16)
	qt := z.Pop(server, dst)
	require.GreaterOrEqual(t, qt, 0)
	if qt != 0 {
		require.Equal(t, 0, z.WaitAny([]int{qt}))
	}
	assert.Equal(t, "ping-pong", string(dst.Bytes()))

	over := &sga.SGArray{NumBufs: MaxSGArraySize + 1}
	assert.Equal(t, ErrNo, z.Push(server, over))

	// WaitAll sums the bytes
	a, b := sga.Alloc(1, 8), sga.Alloc(1, 8)
	qa := z.Pop(client, a)
	require.Positive(t, qa)
	assert.Equal(t, 3, z.BlockingPush(server, sga.New([]byte("abc"))))
	assert.Equal(t, 3, z.WaitAll([]int{qa}))
	assert.Equal(t, "abc", string(a.Bytes()))

	qb := z.Pop(client, b)
	require.Positive(t, qb)
	require.Equal(t, 0, z.Close(client))
	assert.Equal(t, ErrNo, z.WaitAny([]int{qb}))
}

func TestFiles(t *testing.T) {
	z := newLibOS(t)
	path := filepath.Join(t.TempDir(), "f")
	qd := z.Creat(path, 0o644)
	require.GreaterOrEqual(t, qd, 0)
	assert.Equal(t, 0, z.Push(qd, sga.New([]byte("abc"), []byte("def"))))
	require.Equal(t, 0, z.Close(qd))

	qd = z.OpenMode(path, unix.O_RDWR|unix.O_APPEND, 0o644)
	require.GreaterOrEqual(t, qd, 0)
	assert.Equal(t, 2, z.BlockingPush(qd, sga.New([]byte("gh"))))
	require.Equal(t, 0, z.Close(qd))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(data))

	qd = z.Open(path, unix.O_RDONLY)
	dst := sga.Alloc(1, 3)
	assert.Equal(t, 3, z.BlockingPop(qd, dst))
	assert.Equal(t, "abc", string(dst.Bytes()))
}
