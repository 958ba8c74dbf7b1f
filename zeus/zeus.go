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

// Package zeus is the integer-returning queue interface.
//
// Every call returns ErrNo on failure and a non-negative value otherwise.
// Push and Pop return a token, zero when the operation has already
// completed. Accept and Connect finish before they return.
package zeus

import (
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ioqueue/ioqueue"
	"github.com/cloudwego/ioqueue/sga"
)

const (
	// ErrNo is returned by every call that fails.
	ErrNo = -9

	MaxQueueDepth  = ioqueue.MaxQueueDepth
	MaxSGArraySize = sga.MaxSize
)

// LibOS exposes a Manager through integer handles.
type LibOS struct {
	m *ioqueue.Manager
}

// New wraps m.
func New(m *ioqueue.Manager) *LibOS {
	return &LibOS{m: m}
}

// Manager returns the wrapped Manager.
func (z *LibOS) Manager() *ioqueue.Manager { return z.m }

func qd(q ioqueue.QD, err error) int {
	if err != nil {
		return ErrNo
	}
	return int(q)
}

func status(err error) int {
	if err != nil {
		return ErrNo
	}
	return 0
}

// Queue creates a socket queue and returns its descriptor.
func (z *LibOS) Queue(domain, typ, protocol int) int {
	return qd(z.m.Queue(domain, typ, protocol))
}

// Listen marks socket q as accepting connections.
func (z *LibOS) Listen(q, backlog int) int {
	return status(z.m.Listen(ioqueue.QD(q), backlog))
}

// Bind assigns the local address sa to socket q.
func (z *LibOS) Bind(q int, sa unix.Sockaddr) int {
	return status(z.m.Bind(ioqueue.QD(q), sa))
}

// Accept waits for a connection on q and returns its descriptor. If sa is
// not nil it receives the peer address.
func (z *LibOS) Accept(q int, sa *unix.Sockaddr) int {
	c, err := z.wait(z.m.Accept(ioqueue.QD(q)))
	if err != nil {
		return ErrNo
	}
	if sa != nil {
		if *sa, err = z.m.RemoteAddr(c.Accepted); err != nil {
			*sa = nil
		}
	}
	return int(c.Accepted)
}

// Connect connects q to sa and waits for the handshake.
func (z *LibOS) Connect(q int, sa unix.Sockaddr) int {
	_, err := z.wait(z.m.Connect(ioqueue.QD(q), sa))
	return status(err)
}

// Close releases q; its pending tokens resolve with a transfer error.
func (z *LibOS) Close(q int) int {
	return status(z.m.Close(ioqueue.QD(q)))
}

// Open opens path as a file queue.
func (z *LibOS) Open(path string, flags int) int {
	return qd(z.m.Open(path, flags))
}

// OpenMode is Open with the permission bits used when creating path.
func (z *LibOS) OpenMode(path string, flags int, mode uint32) int {
	return qd(z.m.Open(path, flags, mode))
}

// Creat creates or truncates path for writing.
func (z *LibOS) Creat(path string, mode uint32) int {
	return qd(z.m.Creat(path, mode))
}

func token(res ioqueue.Result, err error) int {
	if err != nil {
		return ErrNo
	}
	return int(res.Token)
}

// Push writes s to q and returns a token, zero if the write already finished.
func (z *LibOS) Push(q int, s *sga.SGArray) int {
	return token(z.m.Push(ioqueue.QD(q), s))
}

// Pop reads into s from q and returns a token, zero if s already holds the data.
func (z *LibOS) Pop(q int, s *sga.SGArray) int {
	return token(z.m.Pop(ioqueue.QD(q), s))
}

func tokens(qts []int) []ioqueue.QToken {
	ret := make([]ioqueue.QToken, len(qts))
	for i, t := range qts {
		ret[i] = ioqueue.QToken(t)
	}
	return ret
}

// WaitAny returns the index of the first token to resolve.
func (z *LibOS) WaitAny(qts []int) int {
	i, _, err := z.m.WaitAny(tokens(qts))
	if err != nil {
		return ErrNo
	}
	return i
}

// WaitAll returns the number of bytes transferred by all tokens.
func (z *LibOS) WaitAll(qts []int) int {
	comps, err := z.m.WaitAll(tokens(qts))
	if err != nil {
		return ErrNo
	}
	n := 0
	for _, c := range comps {
		n += c.N
	}
	return n
}

// BlockingPush returns the number of bytes written.
func (z *LibOS) BlockingPush(q int, s *sga.SGArray) int {
	c, err := z.m.BlockingPush(ioqueue.QD(q), s)
	if err != nil {
		return ErrNo
	}
	return c.N
}

// BlockingPop returns the number of bytes read, zero at end of stream.
func (z *LibOS) BlockingPop(q int, s *sga.SGArray) int {
	c, err := z.m.BlockingPop(ioqueue.QD(q), s)
	if err != nil {
		return ErrNo
	}
	return c.N
}

// QD2FD returns the native descriptor behind q.
func (z *LibOS) QD2FD(q int) int {
	fd, err := z.m.QD2FD(ioqueue.QD(q))
	if err != nil {
		return ErrNo
	}
	return fd
}

// Merge returns a queue that serves q1 and q2 in turn.
func (z *LibOS) Merge(q1, q2 int) int {
	return qd(z.m.Merge(ioqueue.QD(q1), ioqueue.QD(q2)))
}

func (z *LibOS) wait(res ioqueue.Result, err error) (ioqueue.Completion, error) {
	if err != nil || !res.Pending() {
		return res.Completion, err
	}
	_, c, err := z.m.WaitAny([]ioqueue.QToken{res.Token})
	return c, err
}
