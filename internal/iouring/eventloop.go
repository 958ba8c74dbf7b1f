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

package iouring

import (
	"errors"
	"runtime"
	"sync"
	"time"
)

// ErrLoopClosed is returned by Submit after Close.
var ErrLoopClosed = errors.New("io_uring event loop closed")

// closeUserData tags the NOP that stops the completion goroutine.
const closeUserData = ^uint64(0)

// Config holds the tunables of an EventLoop.
type Config struct {
	// QueueSize is the capacity of the submission channel; the ring has
	// twice as many entries.
	QueueSize uint32
	// SQEBatchSize flushes to the kernel after this many SQEs even while
	// more are queued.
	SQEBatchSize int
	// SQESubmitInterval, if > 0, also flushes on a ticker.
	SQESubmitInterval time.Duration
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:         4096,
		SQEBatchSize:      256,
		SQESubmitInterval: 0,
	}
}

// Handler receives every completion except the loop's own.
// It runs on the completion goroutine and must not block.
type Handler func(userData uint64, res int32, flags uint32)

// EventLoop owns one ring: a submission goroutine serializes and batches
// SQEs, a completion goroutine waits for CQEs and dispatches them.
type EventLoop struct {
	ring    *IOUring
	handler Handler
	sqeChan chan IOUringSQE
	done    chan struct{} // closed when cqeLoop exits
	sqeDone chan struct{} // closed when sqeLoop exits

	closeOnce sync.Once
}

// NewEventLoop creates the ring and starts both goroutines.
func NewEventLoop(cfg *Config, h Handler) (*EventLoop, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	r, err := NewIOUring(2 * cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	l := &EventLoop{
		ring:    r,
		handler: h,
		sqeChan: make(chan IOUringSQE, cfg.QueueSize),
		done:    make(chan struct{}),
		sqeDone: make(chan struct{}),
	}
	go l.sqeLoop(cfg.SQEBatchSize, cfg.SQESubmitInterval)
	go l.cqeLoop()
	return l, nil
}

// Submit queues sqe for submission. It blocks while the channel is full.
func (l *EventLoop) Submit(sqe IOUringSQE) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}
	select {
	case l.sqeChan <- sqe:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// Close stops both goroutines and releases the ring once neither of them
// touches it anymore.
func (l *EventLoop) Close() error {
	var err error
	l.closeOnce.Do(func() {
		select {
		case l.sqeChan <- IOUringSQE{Opcode: IORING_OP_NOP, UserData: closeUserData}:
		case <-l.done:
		}
		<-l.done
		<-l.sqeDone
		err = l.ring.Close()
	})
	return err
}

func (l *EventLoop) prepare(x *IOUringSQE) bool {
	sqe := l.ring.PeekSQE(false)
	for sqe == nil { // ring full, let the kernel consume
		select {
		case <-l.done:
			return false
		default:
		}
		l.flush()
		runtime.Gosched()
		sqe = l.ring.PeekSQE(false)
	}
	*sqe = *x
	l.ring.AdvanceSQ()
	return true
}

func (l *EventLoop) flush() {
	if _, err := l.ring.Submit(); err != nil {
		Logger().Sugar().Errorf("io_uring submit: %v", err)
	}
}

// sqeLoop serializes submissions and flushes when the channel drains,
// the batch is full, or the ticker fires. It also stops if cqeLoop dies.
func (l *EventLoop) sqeLoop(batchSize int, interval time.Duration) {
	defer close(l.sqeDone)
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	n := 0
	for {
		select {
		case x := <-l.sqeChan:
			if !l.prepare(&x) {
				return
			}
			n++
			if x.UserData == closeUserData {
				l.flush()
				return
			}
		case <-tick:
		case <-l.done:
			return
		}
		if n > 0 && (n >= batchSize || len(l.sqeChan) == 0) {
			l.flush()
			n = 0
		}
	}
}

// cqeLoop waits for completions and dispatches them.
func (l *EventLoop) cqeLoop() {
	defer close(l.done)
	for {
		cqe, err := l.ring.WaitCQE()
		if err != nil {
			Logger().Sugar().Errorf("io_uring wait: %v", err)
			return
		}
		ud, res, flags := cqe.UserData, cqe.Res, cqe.Flags
		l.ring.AdvanceCQ()
		switch ud {
		case closeUserData:
			return
		case 0: // cancel requests and other fire-and-forget entries
		default:
			l.handler(ud, res, flags)
		}
	}
}
