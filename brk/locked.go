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

package brk

import "sync"

// Locked serializes access to an Allocator.
type Locked struct {
	mu sync.Mutex
	a  *Allocator
}

// NewLocked wraps a. The caller must not use a directly afterwards.
func NewLocked(a *Allocator) *Locked {
	return &Locked{a: a}
}

// Sbrk is Allocator.Sbrk under the lock.
func (l *Locked) Sbrk(delta int) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Sbrk(delta)
}

// Cursor is Allocator.Cursor under the lock.
func (l *Locked) Cursor() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Cursor()
}

// Stats is Allocator.Stats under the lock.
func (l *Locked) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Stats()
}

// Arena returns the bounds of the wrapped allocator. They never change, so
// no lock is taken.
func (l *Locked) Arena() Arena {
	return l.a.Arena()
}
