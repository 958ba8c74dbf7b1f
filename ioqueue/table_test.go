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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTableLowestFree(t *testing.T) {
	var tb table
	for i := 0; i < 3; i++ {
		qd, ok := tb.insert(&fileQueue{})
		require.True(t, ok)
		assert.Equal(t, QD(i), qd)
	}
	require.NotNil(t, tb.remove(1))
	assert.Nil(t, tb.remove(1))
	assert.Nil(t, tb.get(1))
	assert.Nil(t, tb.get(-1))
	assert.Nil(t, tb.get(MaxQueueDepth))

	qd, ok := tb.insert(&fileQueue{})
	require.True(t, ok)
	assert.Equal(t, QD(1), qd)

	for !tb.full() {
		_, ok = tb.insert(&fileQueue{})
		require.True(t, ok)
	}
	_, ok = tb.insert(&fileQueue{})
	assert.False(t, ok)
	assert.Equal(t, MaxQueueDepth, tb.n)
}

func TestTokensReuse(t *testing.T) {
	var ts tokens
	a := &record{}
	tok, ok := ts.issue(a)
	require.True(t, ok)
	assert.NotZero(t, tok)
	assert.Same(t, a, ts.lookup(tok))

	ts.retire(tok)
	assert.Nil(t, ts.lookup(tok))
	assert.Equal(t, 0, ts.live)
	ts.retire(tok) // retiring twice is a no-op
	assert.Equal(t, 0, ts.live)

	// same slot, new generation
	b := &record{}
	tok2, ok := ts.issue(b)
	require.True(t, ok)
	assert.NotEqual(t, tok, tok2)
	assert.Equal(t, int(tok)&maxSlots, int(tok2)&maxSlots)
	assert.Nil(t, ts.lookup(tok))
	assert.Same(t, b, ts.lookup(tok2))

	assert.Nil(t, ts.lookup(0))
	assert.Nil(t, ts.lookup(-5))
	assert.Nil(t, ts.lookup(QToken(1<<slotBits|77)))
}

func TestTokensFitInt32(t *testing.T) {
	var ts tokens
	var last QToken
	for i := 0; i < 3000; i++ {
		tok, ok := ts.issue(&record{})
		require.True(t, ok)
		require.Positive(t, tok)
		require.LessOrEqual(t, int64(tok), int64(1<<31-1))
		ts.retire(tok)
		last = tok
	}
	assert.Nil(t, ts.lookup(last))
}

func TestErrorMatching(t *testing.T) {
	err := error(&Error{Op: "pop", QD: 3, Token: 1<<slotBits | 1, Kind: KindTransfer, Err: unix.ECONNRESET})
	assert.True(t, errors.Is(err, ErrTransfer))
	assert.True(t, errors.Is(err, unix.ECONNRESET))
	assert.False(t, errors.Is(err, ErrInvalidQueue))
	assert.Equal(t, "ioqueue: pop qd=3 token=1048577: transfer error: connection reset by peer", err.Error())

	err = newError("queue", -1, KindCapacity, nil)
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, "ioqueue: queue: capacity exceeded", err.Error())

	var e *Error
	require.True(t, errors.As(tokenError("wait_any", 9, nil), &e))
	assert.Equal(t, KindInvalidToken, e.Kind)
}
