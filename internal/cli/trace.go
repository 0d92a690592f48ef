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

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Trace operations.
const (
	opSbrk    = "sbrk"
	opMalloc  = "malloc"
	opCalloc  = "calloc"
	opRealloc = "realloc"
	opFree    = "free"
)

/*
Trace is a list of allocator calls, e.g.

	steps:
	  - {op: malloc, size: 100, id: a}
	  - {op: free, id: a}

JSON is accepted too, being a subset of YAML.
*/
type Trace struct {
	Steps []Step `yaml:"steps"`
}

// Step is one call. Size is the increment for sbrk, the byte count for
// malloc and realloc, and the element count for calloc (of Elem bytes each).
// ID names the block a malloc creates and free or realloc refers to.
type Step struct {
	Op   string `yaml:"op"`
	Size int    `yaml:"size"`
	Elem int    `yaml:"elem,omitempty"`
	ID   string `yaml:"id,omitempty"`
}

func loadTrace(filename string) (*Trace, error) {
	if filename == "" {
		return nil, errors.New("trace file not set")
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	t, err := decodeTrace(f)
	if err != nil {
		return nil, fmt.Errorf("decoding trace file %s: %w", filename, err)
	}
	return t, nil
}

func decodeTrace(r io.Reader) (*Trace, error) {
	t := &Trace{}
	if err := yaml.NewDecoder(r).Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return t, nil
}

// validate checks that every op is one of allowed.
func (t *Trace) validate(allowed ...string) error {
	var errs []error
	for i, s := range t.Steps {
		if !contains(allowed, s.Op) {
			errs = append(errs, fmt.Errorf("step %d: unsupported op %q", i, s.Op))
		}
	}
	return errors.Join(errs...)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
