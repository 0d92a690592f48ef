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

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLockedConcurrent(t *testing.T) {
	const (
		workers = 8
		perG    = 200
		size    = 16
	)
	// room for exactly half of the requests
	a := newTestAllocator(t, 0, workers*perG*size/2)
	l := NewLocked(a)

	var (
		mu    sync.Mutex
		bases []uintptr
	)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for j := 0; j < perG; j++ {
				base, err := l.Sbrk(size)
				if errors.Is(err, ErrOutOfMemory) {
					continue
				}
				if err != nil {
					return err
				}
				mu.Lock()
				bases = append(bases, base)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, bases, workers*perG/2)
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	for i, b := range bases {
		assert.EqualValues(t, i*size, b)
	}

	s := l.Stats()
	assert.EqualValues(t, workers*perG, s.Calls)
	assert.EqualValues(t, workers*perG/2, s.Failures)
	assert.Equal(t, l.Arena().Limit, l.Cursor())
}
