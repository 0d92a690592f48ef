/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package unsafex

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/heapx/brk"
)

func TestNewSlab(t *testing.T) {
	_, err := NewSlab(0)
	assert.Error(t, err)
	_, err = NewSlab(-1)
	assert.Error(t, err)

	s, err := NewSlab(4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, s.Len())
	assert.EqualValues(t, 4096, s.End()-s.Base())
	assert.Equal(t, uintptr(unsafe.Pointer(&s.buf[0])), s.Base())
	assert.EqualValues(t, 4096, s.Arena().Size())
}

func TestSlabBytes(t *testing.T) {
	s, err := NewSlab(64)
	require.NoError(t, err)
	base := s.Base()

	b, ok := s.Bytes(base+8, 16)
	require.True(t, ok)
	assert.Len(t, b, 16)
	assert.Equal(t, 16, cap(b))
	b[0] = 0xAB
	assert.Equal(t, byte(0xAB), s.buf[8])

	// the view address is the requested address
	assert.Equal(t, base+8, uintptr(unsafe.Pointer(&b[0])))

	tests := []struct {
		name string
		addr uintptr
		n    int
		ok   bool
	}{
		{"whole", base, 64, true},
		{"empty_at_end", base + 64, 0, true},
		{"past_end", base + 60, 8, false},
		{"before_base", base - 1, 1, false},
		{"negative_len", base, -1, false},
		{"after_end", base + 65, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := s.Bytes(tt.addr, tt.n)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSlabWithAllocator(t *testing.T) {
	s, err := NewSlab(1024)
	require.NoError(t, err)
	a, err := brk.New(s.Arena())
	require.NoError(t, err)

	p1, err := a.Sbrk(100)
	require.NoError(t, err)
	p2, err := a.Sbrk(100)
	require.NoError(t, err)

	b1, ok := s.Bytes(p1, 100)
	require.True(t, ok)
	b2, ok := s.Bytes(p2, 100)
	require.True(t, ok)
	for i := range b1 {
		b1[i] = 1
	}
	for i := range b2 {
		b2[i] = 2
	}
	assert.Equal(t, byte(1), b1[99])
	assert.Equal(t, byte(2), b2[0])
}

func TestSlabDigest(t *testing.T) {
	s, err := NewSlab(128)
	require.NoError(t, err)
	b, _ := s.Bytes(s.Base(), 128)
	for i := range b {
		b[i] = byte(i)
	}

	d1, err := s.Digest(s.Base(), s.Base()+32)
	require.NoError(t, err)
	d2, err := s.Digest(s.Base(), s.Base()+32)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	b[0] = 0xFF
	d3, err := s.Digest(s.Base(), s.Base()+32)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)

	_, err = s.Digest(s.Base()+10, s.Base())
	assert.Error(t, err)
	_, err = s.Digest(s.Base(), s.End()+1)
	assert.Error(t, err)
}
