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
	"fmt"
	"strings"
)

// ErrorKind classifies the failures of the queue layer.
type ErrorKind uint8

const (
	// KindResource is a failure to create or set up a native resource.
	KindResource ErrorKind = iota + 1
	// KindInvalidQueue is an unknown, closed or mismatched descriptor.
	KindInvalidQueue
	// KindCapacity is an exceeded table or scatter-gather limit.
	KindCapacity
	// KindInvalidToken is a wait on an unknown or retired token.
	KindInvalidToken
	// KindTransfer is a read or write that failed after it was accepted.
	KindTransfer
)

var (
	ErrResource     = errors.New("resource error")
	ErrInvalidQueue = errors.New("invalid queue")
	ErrCapacity     = errors.New("capacity exceeded")
	ErrInvalidToken = errors.New("invalid token")
	ErrTransfer     = errors.New("transfer error")

	// ErrClosed is the cause of transfer errors on queues closed while
	// operations were pending, and of calls made after Shutdown.
	ErrClosed = errors.New("queue closed")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindResource:
		return ErrResource
	case KindInvalidQueue:
		return ErrInvalidQueue
	case KindCapacity:
		return ErrCapacity
	case KindInvalidToken:
		return ErrInvalidToken
	case KindTransfer:
		return ErrTransfer
	}
	return nil
}

func (k ErrorKind) String() string {
	if err := k.sentinel(); err != nil {
		return err.Error()
	}
	return "unknown error"
}

// Error is returned by every Manager method.
// errors.Is matches it against the sentinel of its Kind and, through Unwrap,
// against its cause.
type Error struct {
	Op    string
	QD    QD // -1 when no descriptor is involved
	Token QToken
	Kind  ErrorKind
	Err   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("ioqueue: ")
	sb.WriteString(e.Op)
	if e.QD >= 0 {
		fmt.Fprintf(&sb, " qd=%d", e.QD)
	}
	if e.Token != 0 {
		fmt.Fprintf(&sb, " token=%d", e.Token)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Kind.String())
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(op string, qd QD, kind ErrorKind, err error) *Error {
	return &Error{Op: op, QD: qd, Kind: kind, Err: err}
}

func tokenError(op string, tok QToken, err error) *Error {
	return &Error{Op: op, QD: -1, Token: tok, Kind: KindInvalidToken, Err: err}
}
