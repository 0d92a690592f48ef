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
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cloudwego/heapx/logger"
)

const (
	// The prefix for configuration keys inside environment.
	envPrefix = "HEAPSIM"

	keyConfig     = "config"
	keyLogLevel   = "log-level"
	keyLogFormat  = "log-format"
	keyOutput     = "output"
	keyTrace      = "trace"
	keyMetricsOut = "metrics-file"
)

type baseConfiguration struct {
	// Configuration file, any format viper reads. Optional.
	CfgFile   string
	LogLevel  string
	LogFormat string
	Output    string

	out    io.Writer
	logOut io.Writer
	log    *slog.Logger
}

func (r *baseConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&r.CfgFile, keyConfig, "", "config file (yaml, json, toml); $HEAPSIM_CONFIG when not set")
	cmd.PersistentFlags().StringVar(&r.LogLevel, keyLogLevel, "info", "logging level, one of: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&r.LogFormat, keyLogFormat, logger.FormatText, "log format, one of: text, json")
	cmd.PersistentFlags().StringVarP(&r.Output, keyOutput, "o", formatJSON, "report format, one of: json, yaml, cbor")
}

func (r *baseConfiguration) initialize(cmd *cobra.Command) error {
	var errs []error
	if err := r.initializeConfig(cmd); err != nil {
		errs = append(errs, fmt.Errorf("reading configuration: %w", err))
	}
	log, err := logger.New(r.logOut, r.LogLevel, r.LogFormat)
	if err != nil {
		errs = append(errs, fmt.Errorf("initializing logger: %w", err))
	} else {
		r.log = log
	}
	return errors.Join(errs...)
}

// initializeConfig reads in the config file and ENV variables if set.
func (r *baseConfiguration) initializeConfig(cmd *cobra.Command) error {
	v := viper.New()

	if r.CfgFile == "" {
		r.CfgFile = os.Getenv(envKey(keyConfig))
	}
	if r.CfgFile != "" {
		v.SetConfigFile(r.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", r.CfgFile, err)
		}
	}

	if err := applyConfig(cmd.Flags(), v); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// applyConfig fills every flag not given on the command line from its
// environment variable, or else from the config file.
func applyConfig(flags *pflag.FlagSet, v *viper.Viper) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == keyConfig {
			return
		}
		if err := v.BindEnv(f.Name, envKey(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("flag %q: %w", f.Name, err))
			return
		}
		if !v.IsSet(f.Name) {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("flag %q: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// envKey maps a flag to its environment variable: --log-level reads
// HEAPSIM_LOG_LEVEL.
func envKey(key string) string {
	return strings.ToUpper(envPrefix + "_" + strings.ReplaceAll(key, "-", "_"))
}
