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

package libc

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/heapx/brk"
)

func newTestEnv(t *testing.T, start, limit uintptr, opts ...brk.Option) *Env {
	t.Helper()
	a, err := brk.New(brk.Arena{Start: start, Limit: limit}, opts...)
	require.NoError(t, err)
	return NewEnv(a)
}

func TestSbrk(t *testing.T) {
	e := newTestEnv(t, 0x1000, 0x1064)

	assert.EqualValues(t, 0x1000, e.Sbrk(60))
	assert.EqualValues(t, 0, e.Errno())

	assert.Equal(t, Failed, e.Sbrk(50))
	assert.Equal(t, syscall.ENOMEM, e.Errno())

	// success does not clear errno
	assert.EqualValues(t, 0x103c, e.Sbrk(40))
	assert.Equal(t, syscall.ENOMEM, e.Errno())

	e.ClearErrno()
	assert.EqualValues(t, 0, e.Errno())
	assert.Equal(t, Failed, e.Sbrk(1))
	assert.Equal(t, syscall.ENOMEM, e.Errno())
}

func TestSbrkNegative(t *testing.T) {
	e := newTestEnv(t, 0, 100)
	assert.EqualValues(t, 0, e.Sbrk(10))
	assert.Equal(t, Failed, e.Sbrk(-1))
	assert.Equal(t, syscall.EINVAL, e.Errno())

	e = newTestEnv(t, 0, 100, brk.WithShrink())
	assert.EqualValues(t, 0, e.Sbrk(10))
	assert.EqualValues(t, 10, e.Sbrk(-4))
	assert.EqualValues(t, 6, e.Sbrk(0))
	assert.EqualValues(t, 0, e.Errno())
}

func TestSbrkLocked(t *testing.T) {
	a, err := brk.New(brk.Arena{Limit: 8})
	require.NoError(t, err)
	e := NewEnv(brk.NewLocked(a))
	assert.EqualValues(t, 0, e.Sbrk(8))
	assert.Equal(t, Failed, e.Sbrk(1))
	assert.Equal(t, syscall.ENOMEM, e.Errno())
}
