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

// Package wasm provides sbrk to WebAssembly guests running in wazero.
//
// Guests built against a newlib-style C runtime import "env"."sbrk" and grow
// their heap from the address in their exported __heap_base global up to
// the maximum of their linear memory.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/cloudwego/heapx/brk"
	"github.com/cloudwego/heapx/logger"
)

const (
	// PageSize is the size of a wasm linear memory page.
	PageSize = 1 << 16 // 64Kb

	// MaxPages is the page limit of a wasm32 memory without a declared maximum.
	MaxPages = 4 * 1024 * 1024 * 1024 / PageSize

	// HeapBaseGlobal is the global a guest exports its heap start in.
	HeapBaseGlobal = "__heap_base"

	// DefaultModuleName is the module guests import sbrk from.
	DefaultModuleName = "env"

	// SbrkFunction is the exported function name.
	SbrkFunction = "sbrk"

	failed = -1
)

// HostModule owns one allocator per guest module calling sbrk.
type HostModule struct {
	name      string
	arena     *brk.Arena
	allocOpts []brk.Option
	log       *slog.Logger

	mu     sync.Mutex
	guests map[api.Module]*Guest
}

// Guest is the heap of one guest module.
type Guest struct {
	mu    sync.Mutex
	alloc *brk.Allocator
}

// Stats returns the allocator statistics of the guest.
func (g *Guest) Stats() brk.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alloc.Stats()
}

// Cursor returns the current break of the guest.
func (g *Guest) Cursor() uintptr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alloc.Cursor()
}

// New returns a HostModule; call Instantiate to add it to a runtime.
func New(opts ...Option) *HostModule {
	h := &HostModule{
		name:   DefaultModuleName,
		log:    logger.Discard(),
		guests: make(map[api.Module]*Guest),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

/*
Instantiate adds the host module to rt. It must be instantiated before the
guests importing it.
*/
func (h *HostModule) Instantiate(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	mod, err := rt.NewHostModuleBuilder(h.name).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.sbrk), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		WithParameterNames("increment").
		Export(SbrkFunction).
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiating host module %q: %w", h.name, err)
	}
	return mod, nil
}

// Guest returns the heap of mod, if mod has called sbrk.
func (h *HostModule) Guest(mod api.Module) (*Guest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.guests[mod]
	return g, ok
}

// Release forgets the heap of mod. Call it when mod is closed.
func (h *HostModule) Release(mod api.Module) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.guests, mod)
}

// Grower returns a brk.Grower moving the break of mod from the host side, so
// the host can manage a heap inside guest memory.
func (h *HostModule) Grower(mod api.Module) brk.Grower {
	return growerFunc(func(delta int) (uintptr, error) {
		return h.grow(mod, delta)
	})
}

type growerFunc func(delta int) (uintptr, error)

func (f growerFunc) Sbrk(delta int) (uintptr, error) { return f(delta) }

func (h *HostModule) sbrk(ctx context.Context, mod api.Module, stack []uint64) {
	delta := api.DecodeI32(stack[0])
	log := h.log.With(logger.Module(mod.Name()))

	prev, err := h.grow(mod, int(delta))
	if err != nil {
		log.WarnContext(ctx, "sbrk failed", slog.Int("increment", int(delta)), logger.Error(err))
		stack[0] = api.EncodeI32(failed)
		return
	}
	log.DebugContext(ctx, "sbrk", slog.Int("increment", int(delta)), logger.Addr("prev", prev))
	stack[0] = api.EncodeI32(int32(uint32(prev)))
}

func (h *HostModule) grow(mod api.Module, delta int) (uintptr, error) {
	g, err := h.guest(mod)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next, err := g.alloc.Peek(delta)
	if err != nil {
		// record the failure in the stats
		return g.alloc.Sbrk(delta)
	}
	if err := ensureMemory(mod.Memory(), next); err != nil {
		return 0, err
	}
	return g.alloc.Sbrk(delta)
}

// guest returns the heap of mod, creating it on the first call.
func (h *HostModule) guest(mod api.Module) (*Guest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if g, ok := h.guests[mod]; ok {
		return g, nil
	}
	arena, err := h.arenaOf(mod)
	if err != nil {
		return nil, err
	}
	a, err := brk.New(arena, h.allocOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating allocator for %q: %w", mod.Name(), err)
	}
	g := &Guest{alloc: a}
	h.guests[mod] = g
	h.log.Debug("guest heap created", logger.Module(mod.Name()), logger.Arena(arena))
	return g, nil
}

func (h *HostModule) arenaOf(mod api.Module) (brk.Arena, error) {
	if h.arena != nil {
		return *h.arena, nil
	}
	base := mod.ExportedGlobal(HeapBaseGlobal)
	if base == nil {
		return brk.Arena{}, fmt.Errorf("module %q exports no %s global", mod.Name(), HeapBaseGlobal)
	}
	mem := mod.Memory()
	if mem == nil {
		return brk.Arena{}, fmt.Errorf("module %q has no memory", mod.Name())
	}
	pages := uint64(MaxPages)
	if declared, encoded := mem.Definition().Max(); encoded {
		pages = uint64(declared)
	}
	return brk.Arena{
		Start: uintptr(api.DecodeU32(base.Get())),
		Limit: clampAddr(pages * PageSize),
	}, nil
}

var errGrow = errors.New("linear memory grow error")

// ensureMemory grows mem until it covers addresses below end.
func ensureMemory(mem api.Memory, end uintptr) error {
	if mem == nil {
		return nil
	}
	size := uint64(mem.Size())
	if uint64(end) <= size {
		return nil
	}
	required := (uint64(end) + PageSize - 1) / PageSize
	current := size / PageSize
	if _, ok := mem.Grow(uint32(required - current)); !ok {
		return fmt.Errorf("%w: from %d pages to %d pages: %w", errGrow, current, required, brk.ErrOutOfMemory)
	}
	return nil
}

func clampAddr(n uint64) uintptr {
	if n > uint64(^uintptr(0)) {
		return ^uintptr(0)
	}
	return uintptr(n)
}
