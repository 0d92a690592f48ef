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

// Package logger builds slog loggers and the attributes heapx packages log with.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/heapx/brk"
)

/*
Log attribute keys. Use the attribute constructors below instead of the
keys directly.
*/
const (
	ErrorKey  = "err"
	ArenaKey  = "arena"
	AddrKey   = "addr"
	SizeKey   = "size"
	ModuleKey = "module"
)

// Format of the log output.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New returns a logger writing to w. level is one of slog's level names
// ("debug", "info", "warn", "error"), format is FormatText or FormatJSON.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case FormatText, "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(100)}))
}

/*
Error adds error to the log

	if err := f(); err != nil {
		log.Error("calling f", logger.Error(err))
	}
*/
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

// Addr logs an address in hex.
func Addr(key string, addr uintptr) slog.Attr {
	return slog.String(key, fmt.Sprintf("%#x", addr))
}

// Arena logs the bounds of an arena as a group.
func Arena(a brk.Arena) slog.Attr {
	return slog.Group(ArenaKey,
		slog.String("start", fmt.Sprintf("%#x", a.Start)),
		slog.String("limit", fmt.Sprintf("%#x", a.Limit)),
	)
}

func Size(n int) slog.Attr {
	return slog.Int(SizeKey, n)
}

/*
Module adds the module name. Use with logger.With() to create a sub-logger
for a component.
*/
func Module(name string) slog.Attr {
	return slog.String(ModuleKey, name)
}
