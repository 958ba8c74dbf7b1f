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

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloudwego/ioqueue/ioqueue"
)

func newManager(t *testing.T) *ioqueue.Manager {
	t.Helper()
	m, err := ioqueue.New()
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func TestEchoServer(t *testing.T) {
	m := newManager(t)
	bc := BufferConfig{Size: 16, Segments: 3}
	lqd, err := listenOn(m, "127.0.0.1:0", 8)
	require.NoError(t, err)
	sa, err := m.LocalAddr(lqd)
	require.NoError(t, err)
	domain, sa, err := resolve(formatAddr(sa))
	require.NoError(t, err)

	s := &echoServer{m: m, pool: gopool.NewPool("test-echo", 16, gopool.NewConfig()), buf: bc, logger: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.serve(ctx, lqd) }()

	for i := 0; i < 2; i++ {
		qd, err := dialQueue(m, domain, sa)
		require.NoError(t, err)
		// longer than the server buffer, so replies span several pops
		rtt, err := echoRounds(m, qd, []byte("a message longer than sixteen bytes"), 5, bc)
		require.NoError(t, err)
		assert.Positive(t, rtt)
		require.NoError(t, m.Close(qd))
	}

	cancel()
	select {
	case err = <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, int64(2), s.served.Load())
	require.Eventually(t, func() bool { return m.Outstanding() == 0 }, time.Second, 5*time.Millisecond)

	_, err = echoRounds(m, 0, nil, 1, bc)
	assert.Error(t, err)
}

func TestCopyQueue(t *testing.T) {
	m := newManager(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	data := bytes.Repeat([]byte("0123456789"), 10000)
	require.NoError(t, os.WriteFile(src, data, 0o600))

	sqd, err := m.Open(src, os.O_RDONLY)
	require.NoError(t, err)
	dqd, err := m.Creat(filepath.Join(dir, "dst"), 0o600)
	require.NoError(t, err)

	n, err := copyQueue(m, dqd, sqd, BufferConfig{Size: 4096, Segments: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	require.NoError(t, m.Close(dqd))

	got, err := os.ReadFile(filepath.Join(dir, "dst"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	dst := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(src, []byte("copied through queues\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetErr(nil)

	rootCmd.SetArgs([]string{"copy", src, dst, "--mode", "600", "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "22 bytes")
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "copied through queues\n", string(got))

	out.Reset()
	rootCmd.SetArgs([]string{"cat", src, dst})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "copied through queues\ncopied through queues\n", out.String())

	rootCmd.SetArgs([]string{"cat", filepath.Join(dir, "missing")})
	assert.Error(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"cat", src, "--driver", "kqueue"})
	assert.Error(t, rootCmd.Execute())
}
