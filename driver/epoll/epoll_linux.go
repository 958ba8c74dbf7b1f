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
	"sync"
	"time"
	"unsafe"

	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/driver"
)

var _ driver.Driver = &Poller{}

// fdOperator holds the pending ops of one descriptor.
// reads holds OpPop/OpAccept, writes holds OpPush/OpConnect.
type fdOperator struct {
	fd       int
	pollable bool
	reads    *queue.Queue
	writes   *queue.Queue
}

func (fo *fdOperator) interest() uint32 {
	var ev uint32
	if fo.reads.Length() > 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if fo.writes.Length() > 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Poller is a readiness driver on epoll(7).
//
// Descriptors are registered EPOLLONESHOT and re-armed only while they have
// pending ops, so an idle or hung-up descriptor never spins the poller.
type Poller struct {
	epfd   int
	wakefd int
	logger *zap.Logger

	mu     sync.Mutex
	fds    map[int]*fdOperator
	closed bool

	events []unix.EpollEvent // owned by Reap
}

// New creates a Poller. maxEvents bounds the events handled per Reap.
func New(maxEvents int, logger *zap.Logger) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		logger: logger,
		fds:    make(map[int]*fdOperator),
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *Poller) Attach(fd int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, driver.ErrClosed
	}
	fo := &fdOperator{fd: fd, pollable: true, reads: queue.New(), writes: queue.New()}
	// registered disarmed; Submit arms it
	ev := unix.EpollEvent{Events: unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if err != unix.EPERM {
			return false, err
		}
		// regular files and directories never block
		fo.pollable = false
	}
	p.fds[fd] = fo
	return fo.pollable, nil
}

func (p *Poller) Detach(fd int) []*driver.Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	fo := p.fds[fd]
	if fo == nil {
		return nil
	}
	delete(p.fds, fd)
	if fo.pollable {
		var ev unix.EpollEvent
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev); err != nil {
			p.logger.Debug("epoll del failed", zap.Int("fd", fd), zap.Error(err))
		}
	}
	var ops []*driver.Op
	for _, q := range []*queue.Queue{fo.reads, fo.writes} {
		for q.Length() > 0 {
			op := q.Remove().(*driver.Op)
			op.Err = driver.ErrCanceled
			ops = append(ops, op)
		}
	}
	return ops
}

func (p *Poller) Submit(op *driver.Op) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return driver.ErrClosed
	}
	fo := p.fds[op.Fd]
	if fo == nil {
		return driver.ErrNotAttached
	}
	if !fo.pollable {
		return driver.ErrNotPollable
	}
	if op.Kind.Inbound() {
		fo.reads.Add(op)
	} else {
		fo.writes.Add(op)
	}
	return p.arm(fo)
}

// arm re-registers interest for fo's pending ops. Must hold p.mu.
func (p *Poller) arm(fo *fdOperator) error {
	want := fo.interest()
	if want == 0 {
		return nil
	}
	ev := unix.EpollEvent{Events: want | unix.EPOLLONESHOT, Fd: int32(fo.fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fo.fd, &ev); err != nil {
		return err
	}
	return nil
}

// Reap must not overlap Close.
func (p *Poller) Reap(timeout time.Duration) ([]*driver.Op, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, driver.ErrClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events, driver.Timeout(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var done []*driver.Op
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWakeup()
			continue
		}
		fo := p.fds[fd]
		if fo == nil {
			continue // detached while we were waiting
		}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			done = progress(fo.reads, done)
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			done = progress(fo.writes, done)
		}
		if err := p.arm(fo); err != nil {
			p.logger.Warn("epoll rearm failed", zap.Int("fd", fd), zap.Error(err))
			done = fail(fo, err, done)
		}
	}
	return done, nil
}

// progress runs the head of q until it would block.
func progress(q *queue.Queue, done []*driver.Op) []*driver.Op {
	for q.Length() > 0 {
		op := q.Peek().(*driver.Op)
		if !driver.Try(op) {
			break
		}
		q.Remove()
		done = append(done, op)
	}
	return done
}

// fail finishes every pending op of fo with err.
func fail(fo *fdOperator, err error, done []*driver.Op) []*driver.Op {
	for _, q := range []*queue.Queue{fo.reads, fo.writes} {
		for q.Length() > 0 {
			op := q.Remove().(*driver.Op)
			op.Err = err
			done = append(done, op)
		}
	}
	return done
}

func (p *Poller) Wakeup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return driver.ErrClosed
	}
	var buf [8]byte
	*(*uint64)(unsafe.Pointer(&buf[0])) = 1
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		return nil // counter saturated, a wakeup is already pending
	}
	return err
}

func (p *Poller) drainWakeup() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// Close releases the epoll instance. Attached descriptors are not closed.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.fds = map[int]*fdOperator{}
	p.mu.Unlock()

	err := unix.Close(p.epfd)
	if cerr := unix.Close(p.wakefd); err == nil {
		err = cerr
	}
	return err
}
