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

// Package iouring is a minimal io_uring binding: ring setup, SQE/CQE ring
// access and an EventLoop that batches submissions and dispatches
// completions to a handler.
//
// Requires Linux 5.5+ (IORING_FEAT_SINGLE_MMAP, IORING_OP_ACCEPT).
package iouring

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// opcodes used by this module
const (
	IORING_OP_NOP          = 0
	IORING_OP_READV        = 1
	IORING_OP_WRITEV       = 2
	IORING_OP_POLL_ADD     = 6
	IORING_OP_ACCEPT       = 13
	IORING_OP_ASYNC_CANCEL = 14
)

const (
	IORING_FEAT_SINGLE_MMAP = 1 << 0
	IORING_ENTER_GETEVENTS  = 1 << 0

	// mmap offset of the SQE array
	IORING_OFF_SQES = 0x10000000
)

// poll masks for IORING_OP_POLL_ADD
const (
	POLLIN    = 0x0001
	POLLOUT   = 0x0004
	POLLERR   = 0x0008
	POLLHUP   = 0x0010
	POLLRDHUP = 0x2000
)

// IOUringParams is struct io_uring_params.
type IOUringParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCpu  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        SQRingOffsets
	CqOff        CQRingOffsets
}

// SQRingOffsets locates the submission ring fields inside the mapping.
type SQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

// CQRingOffsets locates the completion ring fields inside the mapping.
type CQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint64
	Resv1       uint32
	Resv2       uint64
}

// IOUring is one io_uring instance.
//
// The application produces SQEs (tail) and consumes CQEs (head); the kernel
// does the opposite. Head and tail are shared memory and accessed atomically.
type IOUring struct {
	fd     int
	params IOUringParams

	sqHead  *uint32
	sqTail  *uint32
	sqMask  uint32
	sqSize  uint32
	sqArray unsafe.Pointer
	sqes    []IOUringSQE

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []IOUringCQE

	ringMem []byte
	sqeMem  []byte
}

// NewIOUring sets up a ring with at least entries submission slots.
func NewIOUring(entries uint32) (*IOUring, error) {
	var params IOUringParams
	fd, err := Setup(entries, &params)
	if err != nil {
		return nil, fmt.Errorf("io_uring_setup: %w", err)
	}
	if params.Features&IORING_FEAT_SINGLE_MMAP == 0 {
		unix.Close(fd)
		return nil, errors.New("io_uring: kernel lacks IORING_FEAT_SINGLE_MMAP")
	}
	r := &IOUring{fd: fd, params: params}

	// SQ and CQ rings share one mapping; size it for the larger of the two
	sqSize := params.SqOff.Array + params.SqEntries*uint32(unsafe.Sizeof(uint32(0)))
	cqSize := params.CqOff.Cqes + params.CqEntries*uint32(unsafe.Sizeof(IOUringCQE{}))
	size := sqSize
	if cqSize > size {
		size = cqSize
	}
	r.ringMem, err = unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("io_uring mmap ring: %w", err)
	}
	sqeSize := params.SqEntries * uint32(unsafe.Sizeof(IOUringSQE{}))
	r.sqeMem, err = unix.Mmap(fd, IORING_OFF_SQES, int(sqeSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("io_uring mmap sqes: %w", err)
	}

	at := func(off uint32) unsafe.Pointer { return unsafe.Pointer(&r.ringMem[off]) }
	r.sqHead = (*uint32)(at(params.SqOff.Head))
	r.sqTail = (*uint32)(at(params.SqOff.Tail))
	r.sqMask = *(*uint32)(at(params.SqOff.RingMask))
	r.sqSize = *(*uint32)(at(params.SqOff.RingEntries))
	r.sqArray = at(params.SqOff.Array)
	r.sqes = unsafe.Slice((*IOUringSQE)(unsafe.Pointer(&r.sqeMem[0])), params.SqEntries)

	r.cqHead = (*uint32)(at(params.CqOff.Head))
	r.cqTail = (*uint32)(at(params.CqOff.Tail))
	r.cqMask = *(*uint32)(at(params.CqOff.RingMask))
	r.cqes = unsafe.Slice((*IOUringCQE)(at(params.CqOff.Cqes)), params.CqEntries)

	runtime.SetFinalizer(r, (*IOUring).Close)
	return r, nil
}

// PeekSQE returns the next free SQE, or nil if the submission ring is full.
// The entry is not visible to the kernel until AdvanceSQ.
func (r *IOUring) PeekSQE(reset bool) *IOUringSQE {
	tail := atomic.LoadUint32(r.sqTail)
	if tail-atomic.LoadUint32(r.sqHead) >= r.sqSize {
		return nil
	}
	idx := tail & r.sqMask
	sqe := &r.sqes[idx]
	if reset {
		*sqe = IOUringSQE{}
	}
	*(*uint32)(unsafe.Add(r.sqArray, uintptr(idx)*4)) = idx
	return sqe
}

// AdvanceSQ publishes the SQE returned by PeekSQE.
func (r *IOUring) AdvanceSQ() {
	atomic.AddUint32(r.sqTail, 1)
}

// PendingSQEs returns the number of published but unconsumed SQEs.
func (r *IOUring) PendingSQEs() uint32 {
	return atomic.LoadUint32(r.sqTail) - atomic.LoadUint32(r.sqHead)
}

// Submit hands pending SQEs to the kernel.
func (r *IOUring) Submit() (int, error) {
	n := r.PendingSQEs()
	if n == 0 {
		return 0, nil
	}
	for {
		submitted, errno := Enter(r.fd, n, 0, 0, nil)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return submitted, errno
		}
		return submitted, nil
	}
}

// PeekCQE returns the oldest CQE without waiting, or nil.
// Call AdvanceCQ once it has been handled.
func (r *IOUring) PeekCQE() *IOUringCQE {
	head := atomic.LoadUint32(r.cqHead)
	if head == atomic.LoadUint32(r.cqTail) {
		return nil
	}
	return &r.cqes[head&r.cqMask]
}

// WaitCQE blocks until a CQE is available and returns it.
// Call AdvanceCQ once it has been handled.
func (r *IOUring) WaitCQE() (*IOUringCQE, error) {
	head := atomic.LoadUint32(r.cqHead)
	for head == atomic.LoadUint32(r.cqTail) {
		_, errno := Enter(r.fd, 0, 1, IORING_ENTER_GETEVENTS, nil)
		if errno == unix.EINTR || errno == unix.EAGAIN {
			runtime.Gosched()
			continue
		}
		if errno != 0 {
			return nil, errno
		}
	}
	return &r.cqes[head&r.cqMask], nil
}

// AdvanceCQ releases the oldest CQE slot.
func (r *IOUring) AdvanceCQ() {
	atomic.AddUint32(r.cqHead, 1)
}

// Close unmaps the rings and closes the ring descriptor.
func (r *IOUring) Close() error {
	if r == nil {
		return nil
	}
	runtime.SetFinalizer(r, nil)
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.ringMem != nil {
		keep(unix.Munmap(r.ringMem))
		r.ringMem = nil
	}
	if r.sqeMem != nil {
		keep(unix.Munmap(r.sqeMem))
		r.sqeMem = nil
	}
	if r.fd >= 0 {
		keep(unix.Close(r.fd))
		r.fd = -1
	}
	return firstErr
}
