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

// Package brk implements a growth-only program break over a fixed arena.
//
// An Allocator hands out contiguous ranges from [Start, Limit) by moving a
// single cursor forward, the way sbrk(2) moves the program break on a system
// without an operating system. Memory is never reclaimed.
//
// The default alignment of 1 grants requests byte-exact, as a C runtime's
// sbrk does. Use WithAlignment(4) or WithAlignment(8) with a word-aligned
// Start to get word-aligned ranges.
//
// An Allocator is not safe for concurrent use; wrap it with NewLocked when
// more than one goroutine grows the same arena.
package brk

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when a request would move the cursor past Limit.
	ErrOutOfMemory = errors.New("brk: out of memory")

	// ErrNegativeIncrement is returned for negative requests when shrinking is
	// disabled, or when a shrink would move the cursor below Start.
	ErrNegativeIncrement = errors.New("brk: negative increment")

	// ErrInvalidArena is returned by New when Start > Limit.
	ErrInvalidArena = errors.New("brk: invalid arena")
)

// Grower grows a heap by delta bytes and returns the base of the new range.
type Grower interface {
	Sbrk(delta int) (uintptr, error)
}

// Arena is the address range [Start, Limit) supplied by the environment.
type Arena struct {
	Start uintptr
	Limit uintptr
}

// Size returns the number of bytes in the arena.
func (a Arena) Size() uintptr {
	if a.Limit < a.Start {
		return 0
	}
	return a.Limit - a.Start
}

// Contains reports whether addr lies inside [Start, Limit).
func (a Arena) Contains(addr uintptr) bool {
	return addr >= a.Start && addr < a.Limit
}

// Validate checks Start <= Limit.
func (a Arena) Validate() error {
	if a.Start > a.Limit {
		return fmt.Errorf("%w: start %#x > limit %#x", ErrInvalidArena, a.Start, a.Limit)
	}
	return nil
}

func (a Arena) String() string {
	return fmt.Sprintf("[%#x, %#x)", a.Start, a.Limit)
}

// Allocator is a bump allocator owning one cursor inside one arena.
type Allocator struct {
	arena Arena

	// cursor is only meaningful once started is set.
	cursor  uintptr
	started bool

	align  uintptr
	shrink bool

	stats Stats
}

// New creates an Allocator over arena. The cursor is placed at arena.Start
// on the first call to Sbrk.
func New(arena Arena, opts ...Option) (*Allocator, error) {
	if err := arena.Validate(); err != nil {
		return nil, err
	}
	a := &Allocator{arena: arena, align: 1}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Sbrk moves the cursor by delta bytes and returns its previous value.
//
// A zero delta returns the current cursor. When the request does not fit,
// the cursor is left unchanged and the error matches ErrOutOfMemory.
// Negative deltas fail with ErrNegativeIncrement unless WithShrink is set.
func (a *Allocator) Sbrk(delta int) (uintptr, error) {
	if !a.started {
		a.cursor = a.arena.Start
		a.started = true
	}
	a.stats.Calls++

	next, err := a.next(delta)
	if err != nil {
		a.stats.Failures++
		return 0, err
	}

	prev := a.cursor
	a.cursor = next
	switch {
	case next > prev:
		a.stats.Grants++
		a.stats.BytesGranted += uint64(next - prev)
		if used := uint64(next - a.arena.Start); used > a.stats.Peak {
			a.stats.Peak = used
		}
	case next < prev:
		a.stats.Shrinks++
	}
	return prev, nil
}

// Peek returns the cursor Sbrk(delta) would leave behind, without moving it.
func (a *Allocator) Peek(delta int) (uintptr, error) {
	return a.next(delta)
}

func (a *Allocator) next(delta int) (uintptr, error) {
	cur := a.Cursor()
	if delta < 0 {
		if !a.shrink {
			return 0, fmt.Errorf("%w: %d", ErrNegativeIncrement, delta)
		}
		// -delta of math.MinInt overflows int but not uintptr.
		n := uintptr(-(delta + 1)) + 1
		if n > cur-a.arena.Start {
			return 0, fmt.Errorf("%w: shrink %d at cursor %#x passes start %#x",
				ErrNegativeIncrement, delta, cur, a.arena.Start)
		}
		return cur - n, nil
	}

	n := uintptr(delta)
	if a.align > 1 {
		if n > ^uintptr(0)-(a.align-1) {
			return 0, fmt.Errorf("%w: request %d overflows address space", ErrOutOfMemory, delta)
		}
		n = alignUp(n, a.align)
	}
	// a.arena.Limit-cur cannot underflow: the cursor never passes Limit.
	if n > a.arena.Limit-cur {
		return 0, fmt.Errorf("%w: request %d at cursor %#x exceeds limit %#x",
			ErrOutOfMemory, delta, cur, a.arena.Limit)
	}
	return cur + n, nil
}

// Cursor returns the current break. Before the first Sbrk it is arena.Start.
func (a *Allocator) Cursor() uintptr {
	if !a.started {
		return a.arena.Start
	}
	return a.cursor
}

// Arena returns the bounds the allocator was created with.
func (a *Allocator) Arena() Arena {
	return a.arena
}

// Used returns the size of the allocated prefix [Start, cursor).
func (a *Allocator) Used() uintptr {
	return a.Cursor() - a.arena.Start
}

// Available returns the size of the free suffix [cursor, Limit).
func (a *Allocator) Available() uintptr {
	return a.arena.Limit - a.Cursor()
}

// Reset puts the cursor back to Start. Every range handed out before is
// invalid afterwards. The counters in Stats are cumulative and keep
// counting across Reset; only Peak starts over.
func (a *Allocator) Reset() {
	a.cursor = 0
	a.started = false
	a.stats.Peak = 0
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
