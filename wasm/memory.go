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
	"math"

	"github.com/tetratelabs/wazero/api"
)

// Memory exposes a guest linear memory by address. Views returned by Bytes
// are invalidated when the memory grows.
type Memory struct {
	mem api.Memory
}

// NewMemory wraps mem.
func NewMemory(mem api.Memory) *Memory {
	return &Memory{mem: mem}
}

// Bytes returns a view of n bytes at addr.
func (m *Memory) Bytes(addr uintptr, n int) ([]byte, bool) {
	if n < 0 || uint64(addr) > math.MaxUint32 || uint64(n) > math.MaxUint32 {
		return nil, false
	}
	return m.mem.Read(uint32(addr), uint32(n))
}
