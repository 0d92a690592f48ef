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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const exhaustionTrace = `
steps:
  - {op: sbrk, size: 60}
  - {op: sbrk, size: 50}
  - {op: sbrk, size: 40}
  - {op: sbrk, size: 1}
  - {op: sbrk, size: 0}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o600))
	return filename
}

func execute(t *testing.T, args ...string) (stdout, stderr *bytes.Buffer, err error) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	err = NewWithWriters(stdout, stderr).Execute(context.Background(), args)
	return stdout, stderr, err
}

func assertExhaustion(t *testing.T, r *sbrkReport) {
	t.Helper()
	require.Len(t, r.Steps, 5)
	assert.Equal(t, "0x0", r.Steps[0].Prev)
	assert.Empty(t, r.Steps[1].Prev)
	assert.Equal(t, int(syscall.ENOMEM), r.Steps[1].Errno)
	assert.Equal(t, "0x3c", r.Steps[2].Prev)
	assert.Equal(t, int(syscall.ENOMEM), r.Steps[3].Errno)
	assert.Equal(t, "0x64", r.Steps[4].Prev)
	assert.EqualValues(t, 5, r.Stats.Calls)
	assert.EqualValues(t, 2, r.Stats.Failures)
	assert.EqualValues(t, 100, r.Stats.Cursor)
	assert.EqualValues(t, 100, r.Stats.Peak)
}

func TestSbrk_JSON(t *testing.T) {
	trace := writeFile(t, "trace.yaml", exhaustionTrace)
	stdout, _, err := execute(t, "sbrk", "--limit", "100", "--trace", trace)
	require.NoError(t, err)

	r := &sbrkReport{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), r))
	assert.Equal(t, "[0x0, 0x64)", r.Arena)
	assertExhaustion(t, r)
}

func TestSbrk_YAMLFromEnv(t *testing.T) {
	t.Setenv("HEAPSIM_OUTPUT", "yaml")
	trace := writeFile(t, "trace.yaml", exhaustionTrace)
	stdout, _, err := execute(t, "sbrk", "--limit", "100", "--trace", trace)
	require.NoError(t, err)

	r := &sbrkReport{}
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), r))
	assertExhaustion(t, r)
}

func TestSbrk_CBOR(t *testing.T) {
	trace := writeFile(t, "trace.yaml", exhaustionTrace)
	stdout, _, err := execute(t, "sbrk", "--limit", "100", "--trace", trace, "-o", "cbor")
	require.NoError(t, err)

	r := &sbrkReport{}
	require.NoError(t, cbor.Unmarshal(stdout.Bytes(), r))
	assertExhaustion(t, r)
}

func TestSbrk_ConfigFile(t *testing.T) {
	trace := writeFile(t, "trace.json", `{"steps": [{"op": "sbrk", "size": 10}, {"op": "sbrk", "size": 10}]}`)
	cfg := writeFile(t, "heapsim.yaml", "start: 4096\nlimit: 4112\nalign: 8\ntrace: "+trace+"\n")

	stdout, _, err := execute(t, "sbrk", "--config", cfg)
	require.NoError(t, err)
	r := &sbrkReport{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), r))
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "0x1000", r.Steps[0].Prev)
	assert.Equal(t, int(syscall.ENOMEM), r.Steps[1].Errno)
	assert.EqualValues(t, 4096+16, r.Stats.Cursor)

	// flags win over the config file
	stdout, _, err = execute(t, "sbrk", "--config", cfg, "--limit", "8192")
	require.NoError(t, err)
	r = &sbrkReport{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), r))
	assert.Equal(t, "0x1010", r.Steps[1].Prev)
}

func TestSbrk_NegativeIncrement(t *testing.T) {
	trace := writeFile(t, "trace.yaml", "steps: [{op: sbrk, size: 32}, {op: sbrk, size: -16}]")

	stdout, _, err := execute(t, "sbrk", "--limit", "64", "--trace", trace)
	require.NoError(t, err)
	r := &sbrkReport{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), r))
	assert.Equal(t, int(syscall.EINVAL), r.Steps[1].Errno)

	stdout, _, err = execute(t, "sbrk", "--limit", "64", "--shrink", "--trace", trace)
	require.NoError(t, err)
	r = &sbrkReport{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), r))
	assert.Equal(t, "0x20", r.Steps[1].Prev)
	assert.EqualValues(t, 16, r.Stats.Cursor)
}

func TestSbrk_Errors(t *testing.T) {
	_, _, err := execute(t, "sbrk", "--limit", "64")
	require.ErrorContains(t, err, "trace file not set")

	_, _, err = execute(t, "sbrk", "--limit", "64", "--trace", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "opening trace file")

	trace := writeFile(t, "trace.yaml", "steps: [{op: malloc, size: 32}]")
	_, _, err = execute(t, "sbrk", "--limit", "64", "--trace", trace)
	require.ErrorContains(t, err, `step 0: unsupported op "malloc"`)

	trace = writeFile(t, "trace.yaml", exhaustionTrace)
	_, _, err = execute(t, "sbrk", "--start", "64", "--limit", "32", "--trace", trace)
	require.ErrorContains(t, err, "invalid arena")

	_, _, err = execute(t, "sbrk", "--limit", "64", "--align", "3", "--trace", trace)
	require.ErrorContains(t, err, "power of two")

	_, _, err = execute(t, "sbrk", "--limit", "64", "--trace", trace, "-o", "xml")
	require.ErrorContains(t, err, `unsupported output format "xml"`)

	_, _, err = execute(t, "sbrk", "--limit", "64", "--trace", trace, "--log-level", "loud")
	require.ErrorContains(t, err, "initializing logger")
}

func TestSbrk_MetricsAndLogs(t *testing.T) {
	trace := writeFile(t, "trace.yaml", exhaustionTrace)
	metricsFile := filepath.Join(t.TempDir(), "heap.prom")

	_, stderr, err := execute(t, "sbrk", "--limit", "100", "--trace", trace,
		"--metrics-file", metricsFile, "--log-format", "json", "--log-level", "debug")
	require.NoError(t, err)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `heapsim_sbrk_calls_total{arena="sbrk"} 5`)
	assert.Contains(t, string(prom), `heapsim_sbrk_failures_total{arena="sbrk"} 2`)
	assert.Contains(t, string(prom), `heapsim_heap_cursor_bytes{arena="sbrk"} 100`)

	logs := stderr.String()
	assert.Contains(t, logs, `"msg":"sbrk failed"`)
	assert.Contains(t, logs, `"msg":"trace replayed"`)
	assert.Equal(t, 3, strings.Count(logs, "\n"))
}

func TestSbrk_EnvOverridesConfig(t *testing.T) {
	trace := writeFile(t, "trace.yaml", exhaustionTrace)
	cfg := writeFile(t, "heapsim.yaml", "limit: 50\nlog-format: text\n")
	t.Setenv("HEAPSIM_LIMIT", "100")
	t.Setenv("HEAPSIM_LOG_FORMAT", "json")
	t.Setenv("HEAPSIM_TRACE", trace)

	stdout, stderr, err := execute(t, "sbrk", "--config", cfg)
	require.NoError(t, err)
	r := &sbrkReport{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), r))
	assertExhaustion(t, r)
	assert.Contains(t, stderr.String(), `"msg":"trace replayed"`)
}
