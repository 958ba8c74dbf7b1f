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

// Package sga implements the scatter-gather array used by queue push and pop.
//
// An SGArray never owns the memory it points to. Push reads from the
// segments, pop writes into them, and the caller keeps them alive until the
// operation has completed.
package sga

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
)

// MaxSize is the fixed number of segments an SGArray can describe.
const MaxSize = 10

// SGArray describes one logical payload split across up to MaxSize
// discontiguous buffers. Only Bufs[:NumBufs] are meaningful.
type SGArray struct {
	NumBufs int
	Bufs    [MaxSize][]byte
}

// New returns an SGArray over bufs.
// NumBufs is always len(bufs), so passing more than MaxSize buffers yields an
// array that fails Valid; only the first MaxSize buffers are stored.
func New(bufs ...[]byte) *SGArray {
	s := &SGArray{NumBufs: len(bufs)}
	copy(s.Bufs[:], bufs)
	return s
}

// Alloc returns an SGArray of n freshly allocated segments of size bytes each.
// The segments are not zeroed.
func Alloc(n, size int) *SGArray {
	if n > MaxSize {
		n = MaxSize
	}
	s := &SGArray{NumBufs: n}
	for i := 0; i < n; i++ {
		s.Bufs[i] = dirtmake.Bytes(size, size)
	}
	return s
}

// Split returns an SGArray whose segments are n consecutive slices of b.
// The last segment takes the remainder. n is clamped to [1, MaxSize].
func Split(b []byte, n int) *SGArray {
	if n < 1 {
		n = 1
	}
	if n > MaxSize {
		n = MaxSize
	}
	if n > len(b) && len(b) > 0 {
		n = len(b)
	}
	s := &SGArray{NumBufs: n}
	step := len(b) / n
	for i := 0; i < n; i++ {
		if i == n-1 {
			s.Bufs[i] = b[i*step:]
		} else {
			s.Bufs[i] = b[i*step : (i+1)*step]
		}
	}
	return s
}

// Valid reports whether NumBufs is within [0, MaxSize].
func (s *SGArray) Valid() bool {
	return s != nil && s.NumBufs >= 0 && s.NumBufs <= MaxSize
}

// Segments returns the meaningful segments. s must be Valid.
func (s *SGArray) Segments() [][]byte {
	return s.Bufs[:s.NumBufs]
}

// Len returns the total number of bytes described by the array.
func (s *SGArray) Len() int {
	n := 0
	for _, b := range s.Segments() {
		n += len(b)
	}
	return n
}

// Bytes returns a copy of all segments concatenated.
func (s *SGArray) Bytes() []byte {
	ret := make([]byte, 0, s.Len())
	for _, b := range s.Segments() {
		ret = append(ret, b...)
	}
	return ret
}

// Trim shrinks the segments so they describe exactly the first n bytes,
// as filled by a completed pop. Segments keep their backing arrays;
// NumBufs becomes the number of segments that hold data.
func (s *SGArray) Trim(n int) {
	used := 0
	for i := 0; i < s.NumBufs && n > 0; i++ {
		b := s.Bufs[i]
		if len(b) > n {
			b = b[:n]
		}
		s.Bufs[i] = b
		n -= len(b)
		used = i + 1
	}
	s.NumBufs = used
}
