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

package wasm

import (
	"log/slog"

	"github.com/cloudwego/heapx/brk"
)

// Option configures a HostModule.
type Option func(*HostModule)

// WithModuleName sets the name guests import sbrk from.
func WithModuleName(name string) Option {
	return func(h *HostModule) {
		h.name = name
	}
}

// WithArena uses a fixed arena for every guest instead of __heap_base and
// the guest's memory limit.
func WithArena(a brk.Arena) Option {
	return func(h *HostModule) {
		h.arena = &a
	}
}

// WithAllocatorOptions passes opts to every guest allocator.
func WithAllocatorOptions(opts ...brk.Option) Option {
	return func(h *HostModule) {
		h.allocOpts = append(h.allocOpts, opts...)
	}
}

// WithLogger sets the logger for grants (Debug) and failures (Warn). A nil
// log keeps the default, which discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(h *HostModule) {
		if log != nil {
			h.log = log
		}
	}
}
