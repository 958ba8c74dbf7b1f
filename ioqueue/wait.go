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
	"context"

	"go.uber.org/zap"

	"github.com/cloudwego/ioqueue/sga"
)

// WaitAny blocks until one of tokens resolves, retires it and returns its
// index and completion. Ties go to the lowest index. The error is the
// operation's own error, or an invalid token error when tokens is empty or
// holds a token that is not outstanding.
func (m *Manager) WaitAny(tokens []QToken) (int, Completion, error) {
	return m.WaitAnyContext(context.Background(), tokens)
}

// WaitAnyContext is WaitAny that gives up with ctx.Err() when ctx is done,
// leaving every token outstanding.
func (m *Manager) WaitAnyContext(ctx context.Context, tokens []QToken) (int, Completion, error) {
	const op = "wait_any"
	if len(tokens) == 0 {
		return -1, Completion{}, tokenError(op, 0, nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, err := m.lookupAll(op, tokens)
	if err != nil {
		return -1, Completion{}, err
	}
	stop := m.watch(ctx)
	defer stop()
	for {
		for i, rec := range recs {
			if m.toks.lookup(tokens[i]) != rec {
				return -1, Completion{}, tokenError(op, tokens[i], nil)
			}
			if rec.done {
				m.retire(tokens[i])
				return i, rec.comp, rec.comp.Err
			}
		}
		if err = ctx.Err(); err != nil {
			return -1, Completion{}, err
		}
		if err = m.progressLocked(op); err != nil {
			return -1, Completion{}, err
		}
	}
}

// WaitAll blocks until every token resolves and retires them all. The
// completions are in token order; the error is the first operation error in
// that order.
func (m *Manager) WaitAll(tokens []QToken) ([]Completion, error) {
	return m.WaitAllContext(context.Background(), tokens)
}

// WaitAllContext is WaitAll that gives up with ctx.Err() when ctx is done,
// leaving every token outstanding.
func (m *Manager) WaitAllContext(ctx context.Context, tokens []QToken) ([]Completion, error) {
	const op = "wait_all"
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, err := m.lookupAll(op, tokens)
	if err != nil {
		return nil, err
	}
	stop := m.watch(ctx)
	defer stop()
	for {
		all := true
		for i, rec := range recs {
			if m.toks.lookup(tokens[i]) != rec {
				return nil, tokenError(op, tokens[i], nil)
			}
			all = all && rec.done
		}
		if all {
			break
		}
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if err = m.progressLocked(op); err != nil {
			return nil, err
		}
	}
	comps := make([]Completion, len(recs))
	var first error
	for i, rec := range recs {
		m.retire(tokens[i])
		comps[i] = rec.comp
		if first == nil {
			first = rec.comp.Err
		}
	}
	return comps, first
}

// BlockingPush is Push followed by a wait on its token.
func (m *Manager) BlockingPush(qd QD, s *sga.SGArray) (Completion, error) {
	return m.block(m.Push(qd, s))
}

// BlockingPop is Pop followed by a wait on its token.
func (m *Manager) BlockingPop(qd QD, s *sga.SGArray) (Completion, error) {
	return m.block(m.Pop(qd, s))
}

func (m *Manager) block(res Result, err error) (Completion, error) {
	if err != nil || !res.Pending() {
		return res.Completion, err
	}
	_, c, err := m.WaitAny([]QToken{res.Token})
	return c, err
}

// lookupAll resolves tokens to their records. Must hold m.mu.
func (m *Manager) lookupAll(op string, tokens []QToken) ([]*record, error) {
	recs := make([]*record, len(tokens))
	for i, tok := range tokens {
		if recs[i] = m.toks.lookup(tok); recs[i] == nil {
			return nil, tokenError(op, tok, nil)
		}
	}
	return recs, nil
}

func (m *Manager) retire(tok QToken) {
	m.toks.retire(tok)
	m.logger.Debug("token retired", zap.Int("token", int(tok)))
}

// watch wakes every waiter once ctx is done.
func (m *Manager) watch(ctx context.Context) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
		m.wakeup()
	})
}

// progressLocked lets one waiter reap the driver while the others sleep on
// m.cond; the reaper wakes them after applying what it got. Must hold m.mu;
// it is released while blocked.
func (m *Manager) progressLocked(op string) error {
	if m.closed {
		return newError(op, -1, KindTransfer, ErrClosed)
	}
	if m.leading {
		m.cond.Wait()
		return nil
	}
	m.leading = true
	m.mu.Unlock()
	ops, err := m.drv.Reap(-1)
	m.mu.Lock()
	m.leading = false
	m.applyLocked(ops)
	m.cond.Broadcast()
	if err != nil {
		m.logger.Warn("driver reap failed", zap.Error(err))
		return newError(op, -1, KindTransfer, err)
	}
	return nil
}
