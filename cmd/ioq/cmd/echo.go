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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/ioqueue"
	"github.com/cloudwego/ioqueue/sga"
)

var (
	echoCount   int
	echoMessage string
)

var echoServerCmd = &cobra.Command{
	Use:   "echo-server <addr>",
	Short: "Echo every byte received on addr back to its sender",
	Example: `  ioq echo-server 127.0.0.1:7000
  ioq echo-server unix:/tmp/echo.sock --driver uring`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lqd, err := listenOn(mgr, args[0], cfg.Server.Backlog)
		if err != nil {
			return err
		}
		sa, _ := mgr.LocalAddr(lqd)
		fmt.Fprintf(cmd.OutOrStdout(), "%s listening on %s (%s)\n", okFmt("ready"), formatAddr(sa), cfg.Queue.Driver)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		pool := gopool.NewPool("ioq-echo", cfg.Server.Workers, gopool.NewConfig())
		pool.SetPanicHandler(func(_ context.Context, r interface{}) {
			logger.Error("connection handler panicked", zap.Any("panic", r))
		})
		s := &echoServer{m: mgr, pool: pool, buf: cfg.Buffer, logger: logger}
		err = s.serve(ctx, lqd)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d connections served\n", dimFmt("stopped:"), s.served.Load())
		return err
	},
}

var echoClientCmd = &cobra.Command{
	Use:   "echo-client <addr>",
	Short: "Send a message to an echo server and check the replies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, sa, err := resolve(args[0])
		if err != nil {
			return err
		}
		qd, err := dialQueue(mgr, domain, sa)
		if err != nil {
			return err
		}
		defer mgr.Close(qd)

		rtt, err := echoRounds(mgr, qd, []byte(echoMessage), echoCount, cfg.Buffer)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", errFmt("failed:"), err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d round trips, avg %s\n",
			okFmt("ok"), echoCount, infoFmt(rtt/time.Duration(echoCount)))
		return nil
	},
}

func init() {
	echoClientCmd.Flags().IntVarP(&echoCount, "count", "n", 10, "Number of round trips")
	echoClientCmd.Flags().StringVarP(&echoMessage, "message", "m", "hello, ioqueue", "Payload of each round trip")
	rootCmd.AddCommand(echoServerCmd, echoClientCmd)
}

// listenOn opens a listening queue on addr.
func listenOn(m *ioqueue.Manager, addr string, backlog int) (ioqueue.QD, error) {
	domain, sa, err := resolve(addr)
	if err != nil {
		return -1, err
	}
	qd, err := m.Queue(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if domain != unix.AF_UNIX {
		fd, _ := m.QD2FD(qd)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	if err = m.Bind(qd, sa); err != nil {
		m.Close(qd)
		return -1, err
	}
	if err = m.Listen(qd, backlog); err != nil {
		m.Close(qd)
		return -1, err
	}
	return qd, nil
}

// dialQueue opens a socket queue connected to sa.
func dialQueue(m *ioqueue.Manager, domain int, sa unix.Sockaddr) (ioqueue.QD, error) {
	qd, err := m.Queue(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	res, err := m.Connect(qd, sa)
	if err == nil && res.Pending() {
		_, _, err = m.WaitAny([]ioqueue.QToken{res.Token})
	}
	if err != nil {
		m.Close(qd)
		return -1, err
	}
	return qd, nil
}

type echoServer struct {
	m      *ioqueue.Manager
	pool   gopool.Pool
	buf    BufferConfig
	logger *zap.Logger
	served atomic.Int64
}

// serve accepts connections on lqd until ctx is done.
func (s *echoServer) serve(ctx context.Context, lqd ioqueue.QD) error {
	for {
		res, err := s.m.Accept(lqd)
		c := res.Completion
		if err == nil && res.Pending() {
			_, c, err = s.m.WaitAnyContext(ctx, []ioqueue.QToken{res.Token})
			if ctx.Err() != nil {
				s.m.Close(lqd)
				if err == nil {
					s.m.Close(c.Accepted)
				} else {
					// closing lqd resolved the accept; retire it
					s.m.WaitAny([]ioqueue.QToken{res.Token})
				}
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, ioqueue.ErrCapacity) {
				s.logger.Warn("queue table full, connection dropped")
				continue
			}
			return err
		}
		qd := c.Accepted
		s.served.Add(1)
		if sa, err := s.m.RemoteAddr(qd); err == nil {
			s.logger.Info("connection accepted", zap.Int("qd", int(qd)), zap.String("peer", formatAddr(sa)))
		}
		s.pool.CtxGo(ctx, func() { s.handle(qd) })
	}
}

// handle echoes qd until the peer hangs up.
func (s *echoServer) handle(qd ioqueue.QD) {
	defer s.m.Close(qd)
	buf := mcache.Malloc(s.buf.Size)
	defer mcache.Free(buf)
	for {
		arr := sga.Split(buf, s.buf.Segments)
		c, err := s.m.BlockingPop(qd, arr)
		if err != nil {
			s.logger.Debug("pop failed", zap.Int("qd", int(qd)), zap.Error(err))
			return
		}
		if c.N == 0 {
			s.logger.Debug("peer closed", zap.Int("qd", int(qd)))
			return
		}
		// arr now describes exactly the bytes read
		if _, err = s.m.BlockingPush(qd, arr); err != nil {
			s.logger.Debug("push failed", zap.Int("qd", int(qd)), zap.Error(err))
			return
		}
	}
}

// echoRounds sends msg count times on qd and checks each reply.
func echoRounds(m *ioqueue.Manager, qd ioqueue.QD, msg []byte, count int, bc BufferConfig) (time.Duration, error) {
	if len(msg) == 0 {
		return 0, errors.New("empty message")
	}
	if count < 1 {
		return 0, fmt.Errorf("invalid count %d", count)
	}
	buf := mcache.Malloc(len(msg))
	defer mcache.Free(buf)
	start := time.Now()
	for i := 0; i < count; i++ {
		if _, err := m.BlockingPush(qd, sga.Split(msg, bc.Segments)); err != nil {
			return 0, err
		}
		got := 0
		for got < len(msg) {
			c, err := m.BlockingPop(qd, sga.New(buf[got:]))
			if err != nil {
				return 0, err
			}
			if c.N == 0 {
				return 0, fmt.Errorf("round %d: server closed the connection", i)
			}
			got += c.N
		}
		if !bytes.Equal(buf, msg) {
			return 0, fmt.Errorf("round %d: echo mismatch: %q", i, buf)
		}
	}
	return time.Since(start), nil
}
