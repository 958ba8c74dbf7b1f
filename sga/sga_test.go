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

package sga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValid(t *testing.T) {
	s := New([]byte("hello"), []byte(" "), []byte("world"))
	require.True(t, s.Valid())
	assert.Equal(t, 3, s.NumBufs)
	assert.Equal(t, 11, s.Len())
	assert.Equal(t, "hello world", string(s.Bytes()))

	bufs := make([][]byte, MaxSize)
	for i := range bufs {
		bufs[i] = []byte{byte(i)}
	}
	assert.True(t, New(bufs...).Valid())

	bufs = append(bufs, []byte{0xff})
	s = New(bufs...)
	assert.Equal(t, MaxSize+1, s.NumBufs)
	assert.False(t, s.Valid())

	s = &SGArray{NumBufs: -1}
	assert.False(t, s.Valid())

	var nilsga *SGArray
	assert.False(t, nilsga.Valid())
}

func TestSplit(t *testing.T) {
	data := []byte("0123456789abcdef")

	s := Split(data, 3)
	require.Equal(t, 3, s.NumBufs)
	assert.Equal(t, "01234", string(s.Bufs[0]))
	assert.Equal(t, "56789", string(s.Bufs[1]))
	assert.Equal(t, "abcdef", string(s.Bufs[2]))
	assert.Equal(t, data, s.Bytes())

	s = Split(data, 100)
	assert.Equal(t, MaxSize, s.NumBufs)
	assert.Equal(t, data, s.Bytes())

	s = Split([]byte("ab"), 5)
	assert.Equal(t, 2, s.NumBufs)

	s = Split(nil, 0)
	assert.Equal(t, 1, s.NumBufs)
	assert.Equal(t, 0, s.Len())
}

func TestAlloc(t *testing.T) {
	s := Alloc(4, 16)
	require.Equal(t, 4, s.NumBufs)
	assert.Equal(t, 64, s.Len())

	s = Alloc(MaxSize+3, 1)
	assert.Equal(t, MaxSize, s.NumBufs)
}

func TestTrim(t *testing.T) {
	a, b, c := make([]byte, 4), make([]byte, 4), make([]byte, 4)
	s := New(a, b, c)

	s.Trim(6)
	require.Equal(t, 2, s.NumBufs)
	assert.Len(t, s.Bufs[0], 4)
	assert.Len(t, s.Bufs[1], 2)
	assert.Same(t, &a[0], &s.Bufs[0][0])
	assert.Same(t, &b[0], &s.Bufs[1][0])

	s = New(a, b, c)
	s.Trim(12)
	assert.Equal(t, 3, s.NumBufs)
	assert.Equal(t, 12, s.Len())

	s.Trim(0)
	assert.Equal(t, 0, s.NumBufs)
	assert.Equal(t, 0, s.Len())
}
