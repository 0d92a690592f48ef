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

// Stats is a snapshot of allocator counters.
//
//   - Calls: every Sbrk call, including failures and zero deltas
//   - Grants: successful calls with a positive delta
//   - Failures: calls that returned an error
//   - Shrinks: successful negative calls (only with WithShrink)
//   - BytesGranted: sum of granted sizes after alignment
//   - Peak: high-water mark of Used since New or the last Reset
//
// Every field but Peak and the position fields only grows.
type Stats struct {
	Calls        uint64 `json:"calls" yaml:"calls" cbor:"calls"`
	Grants       uint64 `json:"grants" yaml:"grants" cbor:"grants"`
	Failures     uint64 `json:"failures" yaml:"failures" cbor:"failures"`
	Shrinks      uint64 `json:"shrinks" yaml:"shrinks" cbor:"shrinks"`
	BytesGranted uint64 `json:"bytes_granted" yaml:"bytes_granted" cbor:"bytes_granted"`
	Peak         uint64 `json:"peak" yaml:"peak" cbor:"peak"`

	Start     uint64 `json:"start" yaml:"start" cbor:"start"`
	Limit     uint64 `json:"limit" yaml:"limit" cbor:"limit"`
	Cursor    uint64 `json:"cursor" yaml:"cursor" cbor:"cursor"`
	Used      uint64 `json:"used" yaml:"used" cbor:"used"`
	Available uint64 `json:"available" yaml:"available" cbor:"available"`
}

// Stats returns the current counters together with the arena position.
func (a *Allocator) Stats() Stats {
	s := a.stats
	s.Start = uint64(a.arena.Start)
	s.Limit = uint64(a.arena.Limit)
	s.Cursor = uint64(a.Cursor())
	s.Used = uint64(a.Used())
	s.Available = uint64(a.Available())
	return s
}
