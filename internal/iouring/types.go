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

package iouring

import "unsafe"

// IOUringSQE is a submission queue entry. 64 bytes, kernel ABI.
type IOUringSQE struct {
	Opcode      uint8     // IORING_OP_*
	Flags       uint8     // IOSQE_*
	IoPrio      uint16    // request priority
	Fd          int32     // target descriptor
	Off         uint64    // file offset, or addr2 for accept
	Addr        uint64    // buffer / iovec array / user data to cancel
	Len         uint32    // buffer length or iovec count
	OpcodeFlags uint32    // poll mask, accept flags, ...
	UserData    uint64    // echoed back in the CQE
	BufIndex    uint16    // registered buffer index
	Personality uint16    // registered credentials
	SpliceFdIn  int32     // splice source
	_           [2]uint64 // pad to 64 bytes
}

// IOUringCQE is a completion queue entry. 16 bytes, kernel ABI.
type IOUringCQE struct {
	UserData uint64 // from the SQE
	Res      int32  // result or -errno
	Flags    uint32
}

// Iovec mirrors struct iovec.
type Iovec struct {
	Base uintptr
	Len  uint64
}

// Set points p at b.
func (p *Iovec) Set(b []byte) {
	p.Len = uint64(len(b))
	if p.Len > 0 {
		p.Base = uintptr(unsafe.Pointer(&b[0]))
	}
}

// Iovecs appends an Iovec for every non-empty buffer in bufs to dst.
// The caller keeps bufs reachable until the kernel is done with them.
func Iovecs(dst []Iovec, bufs [][]byte) []Iovec {
	for _, b := range bufs {
		if len(b) > 0 {
			var iv Iovec
			iv.Set(b)
			dst = append(dst, iv)
		}
	}
	return dst
}

// PrepRW fills sqe for a vectored read or write.
func PrepRW(sqe *IOUringSQE, opcode uint8, fd int, ivs []Iovec) {
	sqe.Opcode = opcode
	sqe.Fd = int32(fd)
	sqe.Off = 0
	sqe.Len = 0
	sqe.Addr = 0
	if len(ivs) > 0 {
		sqe.Len = uint32(len(ivs))
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&ivs[0])))
	}
}

// PrepAccept fills sqe for accept4 with flags, discarding the peer address.
func PrepAccept(sqe *IOUringSQE, fd int, flags uint32) {
	sqe.Opcode = IORING_OP_ACCEPT
	sqe.Fd = int32(fd)
	sqe.OpcodeFlags = flags
}

// PrepPoll fills sqe for a one-shot poll on mask.
func PrepPoll(sqe *IOUringSQE, fd int, mask uint32) {
	sqe.Opcode = IORING_OP_POLL_ADD
	sqe.Fd = int32(fd)
	sqe.OpcodeFlags = mask
}

// PrepCancel fills sqe to cancel the request submitted with userData.
func PrepCancel(sqe *IOUringSQE, userData uint64) {
	sqe.Opcode = IORING_OP_ASYNC_CANCEL
	sqe.Fd = -1
	sqe.Addr = userData
}
