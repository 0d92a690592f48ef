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

// Package cli implements the heapsim command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// App is the heapsim command tree.
type App struct {
	baseCmd    *cobra.Command
	baseConfig *baseConfiguration
}

// New creates the heapsim application writing reports to stdout and logs to
// stderr.
func New() *App {
	return NewWithWriters(os.Stdout, os.Stderr)
}

// NewWithWriters creates the application writing reports to out and logs to
// logOut.
func NewWithWriters(out, logOut io.Writer) *App {
	config := &baseConfiguration{out: out, logOut: logOut}
	baseCmd := &cobra.Command{
		Use:           "heapsim",
		Short:         "Replays allocation traces against heapx allocators",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.initialize(cmd); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addConfigurationFlags(baseCmd)
	baseCmd.SetOut(out)
	baseCmd.SetErr(logOut)

	baseCmd.AddCommand(newSbrkCmd(config))
	baseCmd.AddCommand(newMallocCmd(config))
	return &App{baseCmd: baseCmd, baseConfig: config}
}

// Execute runs the command selected by args (os.Args when nil).
func (a *App) Execute(ctx context.Context, args []string) error {
	if args != nil {
		a.baseCmd.SetArgs(args)
	}
	return a.baseCmd.ExecuteContext(ctx)
}
