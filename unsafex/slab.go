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

// Package unsafex provides Go-owned memory addressed by real process
// addresses, so a brk.Arena can describe it the way a linker script
// describes RAM.
package unsafex

import (
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/cloudwego/heapx/brk"
)

// Slab is a fixed block of memory. Its contents are not zeroed on creation.
//
// The backing array is referenced by the Slab, so addresses stay valid for
// as long as the Slab is reachable.
type Slab struct {
	buf  []byte
	base uintptr
}

// NewSlab allocates a slab of size bytes.
func NewSlab(size int) (*Slab, error) {
	if size <= 0 {
		return nil, fmt.Errorf("slab size must be > 0, got %d", size)
	}
	buf := dirtmake.Bytes(size, size)
	return &Slab{
		buf:  buf,
		base: uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
	}, nil
}

// Base returns the address of the first byte.
func (s *Slab) Base() uintptr { return s.base }

// End returns the address one past the last byte.
func (s *Slab) End() uintptr { return s.base + uintptr(len(s.buf)) }

// Len returns the slab size in bytes.
func (s *Slab) Len() int { return len(s.buf) }

// Arena returns the whole slab as an arena.
func (s *Slab) Arena() brk.Arena {
	return brk.Arena{Start: s.base, Limit: s.End()}
}

// Contains reports whether [addr, addr+n) lies inside the slab.
func (s *Slab) Contains(addr uintptr, n int) bool {
	if n < 0 || addr < s.base {
		return false
	}
	off := addr - s.base
	return off <= uintptr(len(s.buf)) && uintptr(n) <= uintptr(len(s.buf))-off
}

// Bytes returns a view of n bytes at addr. The view's capacity is n, so
// appending to it never writes past the range.
func (s *Slab) Bytes(addr uintptr, n int) ([]byte, bool) {
	if !s.Contains(addr, n) {
		return nil, false
	}
	off := int(addr - s.base)
	return s.buf[off : off+n : off+n], true
}

// Digest returns the xxhash3 of [from, to).
func (s *Slab) Digest(from, to uintptr) (uint64, error) {
	if to < from {
		return 0, fmt.Errorf("digest range [%#x, %#x) is reversed", from, to)
	}
	b, ok := s.Bytes(from, int(to-from))
	if !ok {
		return 0, fmt.Errorf("digest range [%#x, %#x) outside slab %s", from, to, s.Arena())
	}
	return xxhash3.Hash(b), nil
}
