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
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/driver"
	"github.com/cloudwego/ioqueue/internal/iouring"
	"github.com/cloudwego/ioqueue/internal/sysx"
)

var _ driver.Driver = &Ring{}

// lane is the pending ops of one direction of a descriptor.
type lane struct {
	q    *queue.Queue
	busy uint64 // user data of the head's request in the ring, 0 if none
	poll bool   // the head hit EAGAIN and waits for readiness
}

type fdState struct {
	fd       int
	pollable bool
	in, out  lane
}

func (fs *fdState) lane(k driver.OpKind) *lane {
	if k.Inbound() {
		return &fs.in
	}
	return &fs.out
}

// flight is one request in the ring.
type flight struct {
	op       *driver.Op
	fs       *fdState
	ln       *lane
	poll     bool
	iov      []iouring.Iovec // referenced by the SQE until completion
	canceled bool
	gone     chan struct{} // closed once a canceled flight is out of the kernel
}

// cancelWait bounds how long Detach waits for the kernel to let go of a
// canceled request.
const cancelWait = time.Second

// Ring is a completion driver on io_uring.
type Ring struct {
	loop   *iouring.EventLoop
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	fds      map[int]*fdState
	inflight map[uint64]*flight
	seq      uint64
	done     []*driver.Op

	notify   chan struct{}
	shutdown chan struct{}
	once     sync.Once
}

// New sets up a ring and its event loop.
func New(cfg *Config, logger *zap.Logger) (*Ring, error) {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.Entries == 0 {
		cfg.Entries = def.Entries
	}
	if cfg.SQEBatchSize <= 0 {
		cfg.SQEBatchSize = def.SQEBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Ring{
		logger:   logger,
		fds:      make(map[int]*fdState),
		inflight: make(map[uint64]*flight),
		notify:   make(chan struct{}, 1),
		shutdown: make(chan struct{}),
	}
	loop, err := iouring.NewEventLoop(&iouring.Config{
		QueueSize:         cfg.Entries,
		SQEBatchSize:      cfg.SQEBatchSize,
		SQESubmitInterval: cfg.SQESubmitInterval,
	}, r.complete)
	if err != nil {
		return nil, err
	}
	r.loop = loop
	return r, nil
}

func (r *Ring) Attach(fd int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, driver.ErrClosed
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false, err
	}
	mode := st.Mode & unix.S_IFMT
	fs := &fdState{
		fd:       fd,
		pollable: mode != unix.S_IFREG && mode != unix.S_IFDIR,
		in:       lane{q: queue.New()},
		out:      lane{q: queue.New()},
	}
	r.fds[fd] = fs
	return fs.pollable, nil
}

// Detach returns only after every request of fd still in the kernel has
// completed or been canceled, so the buffers of the returned ops are no
// longer written to.
func (r *Ring) Detach(fd int) []*driver.Op {
	r.mu.Lock()
	fs := r.fds[fd]
	if fs == nil {
		r.mu.Unlock()
		return nil
	}
	delete(r.fds, fd)
	var ops []*driver.Op
	var gone []chan struct{}
	for _, ln := range []*lane{&fs.in, &fs.out} {
		if ln.busy != 0 {
			// the flight stays in the map until its CQE arrives
			f := r.inflight[ln.busy]
			f.canceled = true
			f.gone = make(chan struct{})
			var sqe iouring.IOUringSQE
			iouring.PrepCancel(&sqe, ln.busy)
			if err := r.loop.Submit(sqe); err != nil {
				r.logger.Debug("io_uring cancel failed", zap.Int("fd", fd), zap.Error(err))
			} else {
				gone = append(gone, f.gone)
			}
			ln.busy = 0
		}
		for ln.q.Length() > 0 {
			op := ln.q.Remove().(*driver.Op)
			op.Err = driver.ErrCanceled
			ops = append(ops, op)
		}
	}
	r.mu.Unlock()
	r.await(fd, gone)
	return ops
}

// await blocks until every channel in gone is closed, the ring shuts down,
// or cancelWait passes.
func (r *Ring) await(fd int, gone []chan struct{}) {
	if len(gone) == 0 {
		return
	}
	timer := time.NewTimer(cancelWait)
	defer timer.Stop()
	for _, ch := range gone {
		select {
		case <-ch:
		case <-r.shutdown:
			return
		case <-timer.C:
			r.logger.Warn("io_uring cancel not acknowledged", zap.Int("fd", fd))
			return
		}
	}
}

func (r *Ring) Submit(op *driver.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return driver.ErrClosed
	}
	fs := r.fds[op.Fd]
	if fs == nil {
		return driver.ErrNotAttached
	}
	if !fs.pollable {
		return driver.ErrNotPollable
	}
	ln := fs.lane(op.Kind)
	ln.q.Add(op)
	r.issue(fs, ln)
	return nil
}

// issue puts the head of ln into the ring unless it is already there.
// Must hold r.mu.
func (r *Ring) issue(fs *fdState, ln *lane) {
	if ln.busy != 0 || ln.q.Length() == 0 || r.closed {
		return
	}
	op := ln.q.Peek().(*driver.Op)
	f := &flight{op: op, fs: fs, ln: ln}

	var sqe iouring.IOUringSQE
	switch {
	case op.Kind == driver.OpConnect:
		f.poll = true
		iouring.PrepPoll(&sqe, fs.fd, iouring.POLLOUT)
	case ln.poll && op.Kind.Inbound():
		f.poll = true
		iouring.PrepPoll(&sqe, fs.fd, iouring.POLLIN|iouring.POLLRDHUP)
	case ln.poll:
		f.poll = true
		iouring.PrepPoll(&sqe, fs.fd, iouring.POLLOUT)
	case op.Kind == driver.OpAccept:
		iouring.PrepAccept(&sqe, fs.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	case op.Kind == driver.OpPush:
		f.iov = iouring.Iovecs(nil, op.Bufs)
		iouring.PrepRW(&sqe, iouring.IORING_OP_WRITEV, fs.fd, f.iov)
	default:
		f.iov = iouring.Iovecs(nil, op.Bufs)
		iouring.PrepRW(&sqe, iouring.IORING_OP_READV, fs.fd, f.iov)
	}

	r.seq++
	sqe.UserData = r.seq
	r.inflight[r.seq] = f
	ln.busy = r.seq
	if err := r.loop.Submit(sqe); err != nil {
		delete(r.inflight, r.seq)
		ln.busy = 0
		r.failLane(ln, err)
	}
}

// failLane finishes every op of ln with err. Must hold r.mu.
func (r *Ring) failLane(ln *lane, err error) {
	for ln.q.Length() > 0 {
		op := ln.q.Remove().(*driver.Op)
		op.Err = err
		r.done = append(r.done, op)
	}
	r.signal()
}

// complete is the event loop handler.
func (r *Ring) complete(ud uint64, res int32, _ uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.inflight[ud]
	if f == nil {
		return
	}
	delete(r.inflight, ud)
	if f.canceled {
		if f.op.Kind == driver.OpAccept && res >= 0 {
			sysx.Close(int(res))
		}
		if f.gone != nil {
			close(f.gone)
		}
		return
	}
	ln := f.ln
	ln.busy = 0
	if f.apply(res) {
		ln.poll = false
		ln.q.Remove()
		r.done = append(r.done, f.op)
		r.signal()
	}
	r.issue(f.fs, ln)
}

// apply folds one CQE into the op and reports whether the op has finished.
func (f *flight) apply(res int32) bool {
	op := f.op
	if f.poll {
		if op.Kind == driver.OpConnect {
			if res < 0 {
				op.Err = unix.Errno(-res)
			} else {
				op.Err = sysx.SockError(f.fs.fd)
			}
			return true
		}
		if res < 0 && res != -int32(unix.EINTR) {
			op.Err = unix.Errno(-res)
			return true
		}
		f.ln.poll = false
		return false
	}

	switch {
	case res == -int32(unix.EAGAIN):
		f.ln.poll = true
		return false
	case res == -int32(unix.EINTR):
		return false
	case res < 0:
		op.Err = unix.Errno(-res)
		return true
	}
	switch op.Kind {
	case driver.OpPush:
		op.N += int(res)
		op.Bufs = sysx.Advance(op.Bufs, int(res))
		return len(op.Bufs) == 0
	case driver.OpAccept:
		op.NewFd = int(res)
	default:
		op.N = int(res)
	}
	return true
}

func (r *Ring) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Ring) take() ([]*driver.Op, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.done
	r.done = nil
	if len(ops) == 0 && r.closed {
		return nil, driver.ErrClosed
	}
	return ops, nil
}

func (r *Ring) Reap(timeout time.Duration) ([]*driver.Op, error) {
	if ops, err := r.take(); len(ops) > 0 || err != nil {
		return ops, err
	}
	var expire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-r.notify:
	case <-expire:
	case <-r.shutdown:
	}
	return r.take()
}

func (r *Ring) Wakeup() error {
	r.signal()
	return nil
}

// Close stops the event loop and releases the ring. Attached descriptors
// are not closed.
func (r *Ring) Close() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.fds = map[int]*fdState{}
		r.mu.Unlock()
		err = r.loop.Close()
		close(r.shutdown)
	})
	return err
}
