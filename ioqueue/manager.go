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

package ioqueue

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/driver"
	"github.com/cloudwego/ioqueue/internal/sysx"
)

// Manager owns a descriptor table, a token arena and a driver.
// It is safe for concurrent use, but operations issued concurrently on the
// same descriptor are not ordered against each other.
type Manager struct {
	cfg    *Config
	logger *zap.Logger
	drv    driver.Driver

	mu      sync.Mutex
	cond    *sync.Cond
	queues  table
	toks    tokens
	leading bool // a waiter is inside drv.Reap
	closed  bool
}

// New creates a Manager.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cond = sync.NewCond(&m.mu)
	if m.drv == nil {
		d, err := newDriver(m.cfg, m.logger)
		if err != nil {
			return nil, err
		}
		m.drv = d
	}
	return m, nil
}

// Queue creates a socket-backed queue.
func (m *Manager) Queue(domain, typ, proto int) (QD, error) {
	const op = "queue"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRoom(op); err != nil {
		return -1, err
	}
	fd, err := sysx.Socket(domain, typ, proto)
	if err != nil {
		return -1, newError(op, -1, KindResource, err)
	}
	return m.adopt(op, &socketQueue{native: native{fd: fd}, domain: domain, typ: typ, proto: proto})
}

// Open creates a file-backed queue. mode is used when flags create the file.
func (m *Manager) Open(path string, flags int, mode ...uint32) (QD, error) {
	const op = "open"
	var perm uint32
	if len(mode) > 0 {
		perm = mode[0]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRoom(op); err != nil {
		return -1, err
	}
	fd, err := sysx.Open(path, flags, perm)
	if err != nil {
		return -1, newError(op, -1, KindResource, &pathError{path: path, err: err})
	}
	return m.adopt(op, &fileQueue{native: native{fd: fd}, path: path, flags: flags, mode: perm})
}

// Creat is Open(path, O_CREAT|O_WRONLY|O_TRUNC, mode).
func (m *Manager) Creat(path string, mode uint32) (QD, error) {
	return m.Open(path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode)
}

type pathError struct {
	path string
	err  error
}

func (e *pathError) Error() string { return e.path + ": " + e.err.Error() }
func (e *pathError) Unwrap() error { return e.err }

// checkRoom fails when no descriptor can be handed out. Must hold m.mu.
func (m *Manager) checkRoom(op string) error {
	if m.closed {
		return newError(op, -1, KindResource, ErrClosed)
	}
	if m.queues.full() {
		return newError(op, -1, KindCapacity, nil)
	}
	return nil
}

// adopt attaches r's descriptor to the driver and enters it in the table.
// On failure the descriptor is closed. Must hold m.mu.
func (m *Manager) adopt(op string, r resource) (QD, error) {
	n := r.nat()
	pollable, err := m.drv.Attach(n.fd)
	if err != nil {
		sysx.Close(n.fd)
		return -1, newError(op, -1, KindResource, err)
	}
	n.pollable = pollable
	qd, ok := m.queues.insert(r)
	if !ok {
		m.drv.Detach(n.fd)
		sysx.Close(n.fd)
		return -1, newError(op, -1, KindCapacity, nil)
	}
	m.logger.Debug("queue opened",
		zap.Int("qd", int(qd)), zap.Stringer("kind", r.Kind()),
		zap.Int("fd", n.fd), zap.Bool("pollable", pollable))
	return qd, nil
}

// socket returns the socket behind qd. Must hold m.mu.
func (m *Manager) socket(op string, qd QD) (*socketQueue, error) {
	s, ok := m.queues.get(qd).(*socketQueue)
	if !ok {
		return nil, newError(op, qd, KindInvalidQueue, nil)
	}
	return s, nil
}

// Bind assigns a local address to a socket queue.
func (m *Manager) Bind(qd QD, sa unix.Sockaddr) error {
	const op = "bind"
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.socket(op, qd)
	if err != nil {
		return err
	}
	if err = unix.Bind(s.fd, sa); err != nil {
		return newError(op, qd, KindResource, err)
	}
	s.bound = true
	return nil
}

// Listen marks a socket queue as accepting connections.
func (m *Manager) Listen(qd QD, backlog int) error {
	const op = "listen"
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.socket(op, qd)
	if err != nil {
		return err
	}
	if err = unix.Listen(s.fd, backlog); err != nil {
		return newError(op, qd, KindResource, err)
	}
	s.listening = true
	return nil
}

// Accept takes one connection off a listening queue. The completion's
// Accepted field is the new queue.
func (m *Manager) Accept(qd QD) (Result, error) {
	const op = "accept"
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.socket(op, qd)
	if err != nil {
		return Result{}, err
	}
	return m.startLocked(op, qd, &s.native, &driver.Op{Kind: driver.OpAccept, Fd: s.fd}, nil)
}

// Connect connects a socket queue to sa. The operation finishes when the
// handshake has completed or failed.
func (m *Manager) Connect(qd QD, sa unix.Sockaddr) (Result, error) {
	const op = "connect"
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.socket(op, qd)
	if err != nil {
		return Result{}, err
	}
	err = sysx.Connect(s.fd, sa)
	switch {
	case err == nil:
		s.connected = true
		return Result{Completion: Completion{QD: qd, Op: OpConnect}}, nil
	case err == unix.EINPROGRESS || err == unix.EAGAIN:
		return m.startLocked(op, qd, &s.native, &driver.Op{Kind: driver.OpConnect, Fd: s.fd}, nil)
	}
	return Result{}, newError(op, qd, KindTransfer, err)
}

// Close releases qd. Operations still pending on it resolve to a transfer
// error wrapping ErrClosed. Closing a merged queue leaves its members open.
func (m *Manager) Close(qd QD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(qd)
}

func (m *Manager) closeLocked(qd QD) error {
	r := m.queues.remove(qd)
	if r == nil {
		return newError("close", qd, KindInvalidQueue, nil)
	}
	n := r.nat()
	if n == nil {
		m.logger.Debug("queue closed", zap.Int("qd", int(qd)), zap.Stringer("kind", r.Kind()))
		return nil
	}
	m.drv.Detach(n.fd)
	n.closed = true
	canceled := 0
	m.toks.each(func(tok QToken, rec *record) {
		if rec.nat == n && !rec.done {
			rec.comp = Completion{
				QD:  rec.qd,
				Op:  rec.op.Kind,
				Err: &Error{Op: rec.op.Kind.String(), QD: rec.qd, Token: tok, Kind: KindTransfer, Err: ErrClosed},
			}
			rec.done = true
			canceled++
		}
	})
	n.inPending, n.outPending = 0, 0
	err := sysx.Close(n.fd)
	m.logger.Debug("queue closed",
		zap.Int("qd", int(qd)), zap.Stringer("kind", r.Kind()),
		zap.Int("fd", n.fd), zap.Int("canceled", canceled))
	if canceled > 0 {
		m.cond.Broadcast()
		m.wakeup()
	}
	if err != nil {
		return newError("close", qd, KindResource, err)
	}
	return nil
}

// QD2FD returns the native descriptor behind qd.
func (m *Manager) QD2FD(qd QD) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.queues.get(qd)
	if r == nil || r.nat() == nil {
		return -1, newError("qd2fd", qd, KindInvalidQueue, nil)
	}
	return r.nat().fd, nil
}

// Kind returns the kind of resource behind qd.
func (m *Manager) Kind(qd QD) (QueueKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.queues.get(qd)
	if r == nil {
		return 0, newError("kind", qd, KindInvalidQueue, nil)
	}
	return r.Kind(), nil
}

// Merge returns a new descriptor that serves each push and pop from one of
// qd1 and qd2 in turn, skipping members that have been closed.
func (m *Manager) Merge(qd1, qd2 QD) (QD, error) {
	const op = "merge"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRoom(op); err != nil {
		return -1, err
	}
	if qd1 == qd2 {
		return -1, newError(op, qd2, KindInvalidQueue, errors.New("cannot merge a queue with itself"))
	}
	mq := &mergedQueue{members: [2]QD{qd1, qd2}}
	for i, qd := range mq.members {
		r := m.queues.get(qd)
		if r == nil || r.nat() == nil {
			return -1, newError(op, qd, KindInvalidQueue, nil)
		}
		mq.ids[i] = r.nat()
	}
	qd, _ := m.queues.insert(mq)
	m.logger.Debug("queue merged", zap.Int("qd", int(qd)), zap.Int("qd1", int(qd1)), zap.Int("qd2", int(qd2)))
	return qd, nil
}

// route resolves qd to the descriptor that services the next operation.
// Must hold m.mu.
func (m *Manager) route(op string, qd QD) (QD, *native, error) {
	r := m.queues.get(qd)
	if r == nil {
		return -1, nil, newError(op, qd, KindInvalidQueue, nil)
	}
	mq, ok := r.(*mergedQueue)
	if !ok {
		return qd, r.nat(), nil
	}
	for i := 0; i < len(mq.members); i++ {
		j := (mq.next + i) % len(mq.members)
		member := m.queues.get(mq.members[j])
		if member != nil && member.nat() == mq.ids[j] {
			mq.next = (j + 1) % len(mq.members)
			return mq.members[j], mq.ids[j], nil
		}
	}
	return -1, nil, newError(op, qd, KindInvalidQueue, errors.New("all merged queues are closed"))
}

// LocalAddr returns the bound address of a socket queue.
func (m *Manager) LocalAddr(qd QD) (unix.Sockaddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.socket("local_addr", qd)
	if err != nil {
		return nil, err
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil, newError("local_addr", qd, KindResource, err)
	}
	return sa, nil
}

// RemoteAddr returns the peer address of a connected socket queue.
func (m *Manager) RemoteAddr(qd QD) (unix.Sockaddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.socket("remote_addr", qd)
	if err != nil {
		return nil, err
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return nil, newError("remote_addr", qd, KindResource, err)
	}
	return sa, nil
}

// Len returns the number of open descriptors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues.n
}

// Outstanding returns the number of issued tokens no wait has retired yet.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toks.live
}

// Shutdown closes every queue and the driver. Waiters still blocked
// return with their tokens resolved to transfer errors.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.queues.each(func(qd QD, r resource) {
		if err := m.closeLocked(qd); err != nil {
			m.logger.Warn("close on shutdown failed", zap.Int("qd", int(qd)), zap.Error(err))
		}
	})
	m.closed = true
	m.cond.Broadcast()
	m.wakeup()
	// the driver may only go away once no waiter is inside Reap
	for m.leading {
		m.cond.Wait()
	}
	m.mu.Unlock()
	return m.drv.Close()
}

func (m *Manager) wakeup() {
	if err := m.drv.Wakeup(); err != nil {
		m.logger.Debug("driver wakeup failed", zap.Error(err))
	}
}
