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

// Package libc exposes the newlib flavour of sbrk on top of a brk.Grower:
// a (void*)-1 sentinel on failure and an errno value that only failures set.
package libc

import (
	"errors"
	"syscall"

	"github.com/cloudwego/heapx/brk"
)

// Failed is the address returned by Sbrk on failure, (void*)-1 in C.
const Failed = ^uintptr(0)

// Env holds the errno of one C runtime instance.
type Env struct {
	heap  brk.Grower
	errno syscall.Errno
}

// NewEnv returns an Env growing heap.
func NewEnv(heap brk.Grower) *Env {
	return &Env{heap: heap}
}

// Sbrk returns the previous break or Failed. On failure Errno is set to
// ENOMEM, or EINVAL for a rejected negative increment. Success leaves Errno
// untouched.
func (e *Env) Sbrk(incr int) uintptr {
	prev, err := e.heap.Sbrk(incr)
	if err != nil {
		e.errno = errnoOf(err)
		return Failed
	}
	return prev
}

// Errno returns the last error recorded by a failed call.
func (e *Env) Errno() syscall.Errno {
	return e.errno
}

// ClearErrno resets Errno to zero.
func (e *Env) ClearErrno() {
	e.errno = 0
}

func errnoOf(err error) syscall.Errno {
	switch {
	case errors.Is(err, brk.ErrNegativeIncrement):
		return syscall.EINVAL
	default:
		return syscall.ENOMEM
	}
}
