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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cloudwego/heapx/brk"
	"github.com/cloudwego/heapx/logger"
	"github.com/cloudwego/heapx/malloc"
	"github.com/cloudwego/heapx/unsafex"
)

type mallocConfig struct {
	Base *baseConfiguration

	Size       int
	MinBlock   int
	MaxBlock   int
	Trace      string
	MetricsOut string
}

type mallocReport struct {
	SlabSize  int            `json:"slab_size" yaml:"slab_size" cbor:"slab_size"`
	Steps     []mallocResult `json:"steps" yaml:"steps" cbor:"steps"`
	Roots     int            `json:"roots" yaml:"roots" cbor:"roots"`
	Live      int            `json:"live" yaml:"live" cbor:"live"`
	Available int            `json:"available" yaml:"available" cbor:"available"`
	Digest    string         `json:"digest" yaml:"digest" cbor:"digest"`
	Stats     brk.Stats      `json:"stats" yaml:"stats" cbor:"stats"`
}

// mallocResult reports block addresses as offsets from the slab base, so
// reports of the same trace compare equal between runs.
type mallocResult struct {
	Op     string `json:"op" yaml:"op" cbor:"op"`
	ID     string `json:"id,omitempty" yaml:"id,omitempty" cbor:"id,omitempty"`
	Size   int    `json:"size,omitempty" yaml:"size,omitempty" cbor:"size,omitempty"`
	Offset uint64 `json:"offset,omitempty" yaml:"offset,omitempty" cbor:"offset,omitempty"`
	Usable int    `json:"usable,omitempty" yaml:"usable,omitempty" cbor:"usable,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty" cbor:"error,omitempty"`
}

func newMallocCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &mallocConfig{Base: baseConfig}
	cmd := &cobra.Command{
		Use:   "malloc",
		Short: "Replays malloc and free calls against a heap growing with sbrk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMalloc(cmd, config)
		},
	}
	cmd.Flags().IntVar(&config.Size, "size", 4*malloc.DefaultMaxBlockSize, "size of the memory slab the heap grows in")
	cmd.Flags().IntVar(&config.MinBlock, "min-block", malloc.DefaultMinBlockSize, "smallest block size, a power of two")
	cmd.Flags().IntVar(&config.MaxBlock, "max-block", malloc.DefaultMaxBlockSize, "largest block size and heap growth step, a power of two")
	cmd.Flags().StringVar(&config.Trace, keyTrace, "", "trace file (yaml or json) with malloc, calloc, realloc and free steps")
	cmd.Flags().StringVar(&config.MetricsOut, keyMetricsOut, "", "write final allocator metrics in Prometheus text format to this file")
	return cmd
}

func runMalloc(cmd *cobra.Command, config *mallocConfig) error {
	trace, err := loadTrace(config.Trace)
	if err != nil {
		return err
	}
	if err := trace.validate(opMalloc, opCalloc, opRealloc, opFree); err != nil {
		return fmt.Errorf("invalid trace: %w", err)
	}

	slab, err := unsafex.NewSlab(config.Size)
	if err != nil {
		return fmt.Errorf("creating slab: %w", err)
	}
	// reports hash the heap, so start from known contents
	all, _ := slab.Bytes(slab.Base(), slab.Len())
	clear(all)

	alloc, err := brk.New(slab.Arena())
	if err != nil {
		return fmt.Errorf("creating allocator: %w", err)
	}
	log := config.Base.log
	heap, err := malloc.NewHeap(slab, alloc,
		malloc.WithBlockSize(config.MinBlock, config.MaxBlock),
		malloc.WithLogger(log))
	if err != nil {
		return fmt.Errorf("creating heap: %w", err)
	}

	r := &replayer{heap: heap, base: slab.Base(), blocks: make(map[string]uintptr)}
	report := &mallocReport{SlabSize: slab.Len(), Steps: make([]mallocResult, 0, len(trace.Steps))}
	for i, s := range trace.Steps {
		res := r.step(i, s)
		if res.Error != "" {
			log.Debug("step failed", slog.Int("step", i), slog.String("op", s.Op), slog.String("error", res.Error))
		}
		report.Steps = append(report.Steps, res)
	}

	digest, err := slab.Digest(slab.Base(), alloc.Cursor())
	if err != nil {
		return fmt.Errorf("hashing heap: %w", err)
	}
	report.Digest = fmt.Sprintf("%016x", digest)
	report.Roots = heap.Roots()
	report.Live = len(r.blocks)
	report.Available = heap.Available()
	report.Stats = alloc.Stats()
	log.Info("trace replayed", slog.Int("steps", len(trace.Steps)), slog.Int("roots", report.Roots), logger.Addr("break", alloc.Cursor()))

	if err := writeMetrics(config.MetricsOut, "malloc", alloc); err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), config.Base.Output, report)
}

// replayer tracks live blocks by trace id.
type replayer struct {
	heap   *malloc.Heap
	base   uintptr
	blocks map[string]uintptr
}

func (r *replayer) step(i int, s Step) mallocResult {
	res := mallocResult{Op: s.Op, ID: s.ID, Size: s.Size}
	var (
		addr uintptr
		err  error
	)
	switch s.Op {
	case opMalloc:
		addr, err = r.heap.Malloc(s.Size)
	case opCalloc:
		addr, err = r.heap.Calloc(s.Size, s.Elem)
	case opRealloc:
		old, ok := r.blocks[s.ID]
		if !ok {
			res.Error = fmt.Sprintf("unknown block %q", s.ID)
			return res
		}
		addr, err = r.heap.Realloc(old, s.Size)
	case opFree:
		old, ok := r.blocks[s.ID]
		if !ok {
			res.Error = fmt.Sprintf("unknown block %q", s.ID)
			return res
		}
		if err := r.heap.Free(old); err != nil {
			res.Error = err.Error()
			return res
		}
		delete(r.blocks, s.ID)
		return res
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if s.Op == opMalloc {
		// mark the block so the digest reflects what was allocated
		if b, err := r.heap.Bytes(addr); err == nil {
			fill(b, byte(i+1))
		}
	}
	if s.ID != "" {
		r.blocks[s.ID] = addr
	}
	res.Offset = uint64(addr - r.base)
	res.Usable, _ = r.heap.UsableSize(addr)
	return res
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
