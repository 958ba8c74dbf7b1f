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
	"github.com/cloudwego/ioqueue/driver"
	"github.com/cloudwego/ioqueue/sga"
)

// QToken identifies one outstanding operation. Zero means the operation
// has already completed.
type QToken int

// A token is gen<<slotBits | slot+1. The generation changes every time a
// slot is reused, so a retired token does not alias a later operation.
const (
	slotBits = 20
	maxSlots = 1<<slotBits - 1
	genMask  = 1<<11 - 1
)

// OpKind is the kind of operation a token stands for.
type OpKind = driver.OpKind

const (
	OpPush    = driver.OpPush
	OpPop     = driver.OpPop
	OpAccept  = driver.OpAccept
	OpConnect = driver.OpConnect
)

// Completion is the outcome of one operation.
type Completion struct {
	// QD is the descriptor that serviced the operation. For an operation
	// issued on a merged queue it names the member.
	QD QD
	Op OpKind
	// N is the number of bytes transferred.
	N int
	// Accepted is the new descriptor of a completed Accept, unset otherwise.
	Accepted QD
	Err      error
}

// Result is what Push, Pop, Accept and Connect return: either a finished
// Completion with a zero Token, or a Token to wait on.
type Result struct {
	Token      QToken
	Completion Completion
}

// Pending reports whether the caller has to wait on Token.
func (r Result) Pending() bool { return r.Token != 0 }

// record tracks an issued token until a wait retires it.
type record struct {
	qd   QD
	op   *driver.Op
	nat  *native
	dst  *sga.SGArray // pop destination
	done bool
	comp Completion
}

type tokenSlot struct {
	gen uint32
	rec *record
}

// tokens is an arena of records with a free list.
type tokens struct {
	slots []tokenSlot
	free  []int
	live  int
}

func (t *tokens) issue(rec *record) (QToken, bool) {
	var i int
	if n := len(t.free); n > 0 {
		i = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) == maxSlots {
			return 0, false
		}
		i = len(t.slots)
		t.slots = append(t.slots, tokenSlot{})
	}
	s := &t.slots[i]
	s.gen = (s.gen + 1) & genMask
	if s.gen == 0 {
		s.gen = 1
	}
	s.rec = rec
	t.live++
	return QToken(int(s.gen)<<slotBits | (i + 1)), true
}

func (t *tokens) lookup(tok QToken) *record {
	i := int(tok)&maxSlots - 1
	if tok <= 0 || i < 0 || i >= len(t.slots) {
		return nil
	}
	s := &t.slots[i]
	if s.rec == nil || uint32(int(tok)>>slotBits) != s.gen {
		return nil
	}
	return s.rec
}

func (t *tokens) retire(tok QToken) {
	if t.lookup(tok) == nil {
		return
	}
	i := int(tok)&maxSlots - 1
	t.slots[i].rec = nil
	t.free = append(t.free, i)
	t.live--
}

// each calls f for every live record.
func (t *tokens) each(f func(tok QToken, rec *record)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.rec != nil {
			f(QToken(int(s.gen)<<slotBits|(i+1)), s.rec)
		}
	}
}
