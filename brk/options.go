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

import "fmt"

// Option configures an Allocator.
type Option func(*Allocator) error

// WithAlignment rounds every positive request up to a multiple of n.
// n must be a power of two. The default of 1 grants requests as given.
func WithAlignment(n uintptr) Option {
	return func(a *Allocator) error {
		if n == 0 || n&(n-1) != 0 {
			return fmt.Errorf("alignment must be a power of two, got %d", n)
		}
		a.align = n
		return nil
	}
}

// WithShrink accepts negative requests, moving the cursor back towards
// Start. A shrink past Start still fails.
func WithShrink() Option {
	return func(a *Allocator) error {
		a.shrink = true
		return nil
	}
}
