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
	"go.uber.org/zap"

	"github.com/cloudwego/ioqueue/driver"
	"github.com/cloudwego/ioqueue/internal/sysx"
	"github.com/cloudwego/ioqueue/sga"
)

// Push writes the payload of s to qd. A zero token means every byte has
// been written; otherwise the bytes not yet written go out in order once
// qd is writable, and no partial progress is reported.
func (m *Manager) Push(qd QD, s *sga.SGArray) (Result, error) {
	return m.transfer("push", driver.OpPush, qd, s)
}

// Pop reads into the segments of s. A zero token means s already holds the
// data; otherwise s is filled when the token resolves, and its buffers must
// stay alive until then. A pop finishes as soon as any bytes arrive; zero
// bytes means end of stream.
func (m *Manager) Pop(qd QD, s *sga.SGArray) (Result, error) {
	return m.transfer("pop", driver.OpPop, qd, s)
}

func (m *Manager) transfer(op string, kind driver.OpKind, qd QD, s *sga.SGArray) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, n, err := m.route(op, qd)
	if err != nil {
		return Result{}, err
	}
	if !s.Valid() {
		return Result{}, newError(op, qd, KindCapacity, nil)
	}
	// the driver advances Bufs, the caller's array stays untouched
	bufs := append([][]byte(nil), s.Segments()...)
	return m.startLocked(op, target, n, &driver.Op{Kind: kind, Fd: n.fd, Bufs: bufs}, s)
}

// startLocked tries op once and, if it would block, issues a token for it.
// Must hold m.mu.
func (m *Manager) startLocked(name string, qd QD, n *native, op *driver.Op, dst *sga.SGArray) (Result, error) {
	rec := &record{qd: qd, op: op, nat: n, dst: dst}
	pending := n.pending(op.Kind)
	if *pending == 0 && driver.Try(op) {
		m.finish(0, rec)
		return Result{Completion: rec.comp}, rec.comp.Err
	}
	tok, ok := m.toks.issue(rec)
	if !ok {
		return Result{}, newError(name, qd, KindCapacity, nil)
	}
	op.ID = uint64(tok)
	if err := m.drv.Submit(op); err != nil {
		m.toks.retire(tok)
		return Result{}, &Error{Op: name, QD: qd, Kind: KindTransfer, Err: err}
	}
	*pending++
	m.logger.Debug("token issued",
		zap.Int("qd", int(qd)), zap.Stringer("op", op.Kind), zap.Int("token", int(tok)))
	return Result{Token: tok}, nil
}

// finish fills rec.comp from its finished op. Must hold m.mu.
func (m *Manager) finish(tok QToken, rec *record) {
	op := rec.op
	c := Completion{QD: rec.qd, Op: op.Kind, N: op.N}
	err := op.Err
	if err == nil {
		switch op.Kind {
		case driver.OpPop:
			rec.dst.Trim(op.N)
		case driver.OpAccept:
			c.Accepted, err = m.adopt("accept", &socketQueue{native: native{fd: op.NewFd}, connected: true})
		case driver.OpConnect:
			if s, ok := m.queues.get(rec.qd).(*socketQueue); ok && &s.native == rec.nat {
				s.connected = true
			}
		}
	}
	if err != nil {
		kind := KindTransfer
		if e, ok := err.(*Error); ok {
			kind, err = e.Kind, e.Err
		}
		c.Err = &Error{Op: op.Kind.String(), QD: rec.qd, Token: tok, Kind: kind, Err: err}
	}
	rec.comp = c
	rec.done = true
}

// applyLocked resolves the records of ops returned by the driver.
// Must hold m.mu.
func (m *Manager) applyLocked(ops []*driver.Op) {
	for _, op := range ops {
		tok := QToken(op.ID)
		rec := m.toks.lookup(tok)
		if rec == nil || rec.done || rec.op != op {
			// resolved by Close already
			if op.Kind == driver.OpAccept && op.Err == nil {
				sysx.Close(op.NewFd)
			}
			continue
		}
		if p := rec.nat.pending(op.Kind); *p > 0 {
			*p--
		}
		m.finish(tok, rec)
	}
}
