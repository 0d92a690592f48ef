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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cloudwego/heapx/brk"
	"github.com/cloudwego/heapx/libc"
	"github.com/cloudwego/heapx/logger"
	"github.com/cloudwego/heapx/metrics"
)

type sbrkConfig struct {
	Base *baseConfiguration

	Start      uint64
	Limit      uint64
	Align      uint64
	Shrink     bool
	Trace      string
	MetricsOut string
}

type sbrkReport struct {
	Arena string       `json:"arena" yaml:"arena" cbor:"arena"`
	Steps []sbrkResult `json:"steps" yaml:"steps" cbor:"steps"`
	Stats brk.Stats    `json:"stats" yaml:"stats" cbor:"stats"`
}

// sbrkResult is the C view of one call: the previous break, or errno.
type sbrkResult struct {
	Size  int    `json:"size" yaml:"size" cbor:"size"`
	Prev  string `json:"prev,omitempty" yaml:"prev,omitempty" cbor:"prev,omitempty"`
	Errno int    `json:"errno,omitempty" yaml:"errno,omitempty" cbor:"errno,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty" cbor:"error,omitempty"`
}

func newSbrkCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &sbrkConfig{Base: baseConfig}
	cmd := &cobra.Command{
		Use:   "sbrk",
		Short: "Replays sbrk calls against an address arena",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSbrk(cmd, config)
		},
	}
	cmd.Flags().Uint64Var(&config.Start, "start", 0, "first address of the arena")
	cmd.Flags().Uint64Var(&config.Limit, "limit", 0, "end of the arena (exclusive)")
	cmd.Flags().Uint64Var(&config.Align, "align", 1, "round every increment up to this power of two")
	cmd.Flags().BoolVar(&config.Shrink, "shrink", false, "accept negative increments")
	cmd.Flags().StringVar(&config.Trace, keyTrace, "", "trace file (yaml or json) with sbrk steps")
	cmd.Flags().StringVar(&config.MetricsOut, keyMetricsOut, "", "write final allocator metrics in Prometheus text format to this file")
	return cmd
}

func runSbrk(cmd *cobra.Command, config *sbrkConfig) error {
	trace, err := loadTrace(config.Trace)
	if err != nil {
		return err
	}
	if err := trace.validate(opSbrk); err != nil {
		return fmt.Errorf("invalid trace: %w", err)
	}

	arena := brk.Arena{Start: uintptr(config.Start), Limit: uintptr(config.Limit)}
	opts := []brk.Option{brk.WithAlignment(uintptr(config.Align))}
	if config.Shrink {
		opts = append(opts, brk.WithShrink())
	}
	alloc, err := brk.New(arena, opts...)
	if err != nil {
		return fmt.Errorf("creating allocator: %w", err)
	}

	log := config.Base.log.With(logger.Arena(arena))
	env := libc.NewEnv(alloc)
	report := &sbrkReport{Arena: arena.String(), Steps: make([]sbrkResult, 0, len(trace.Steps))}
	for _, s := range trace.Steps {
		res := sbrkResult{Size: s.Size}
		if prev := env.Sbrk(s.Size); prev == libc.Failed {
			errno := env.Errno()
			env.ClearErrno()
			res.Errno = int(errno)
			res.Error = errno.Error()
			log.Debug("sbrk failed", logger.Size(s.Size), slog.Int("errno", int(errno)))
		} else {
			res.Prev = fmt.Sprintf("%#x", prev)
		}
		report.Steps = append(report.Steps, res)
	}
	report.Stats = alloc.Stats()
	log.Info("trace replayed", slog.Int("steps", len(trace.Steps)), slog.Uint64("failures", report.Stats.Failures))

	if err := writeMetrics(config.MetricsOut, "sbrk", alloc); err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), config.Base.Output, report)
}

// writeMetrics dumps the statistics of s to filename, if set.
func writeMetrics(filename, arena string, s metrics.StatsSource) error {
	if filename == "" {
		return nil
	}
	c := metrics.NewCollector("heapsim")
	if err := c.Register(arena, s); err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return fmt.Errorf("registering collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(filename, reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
