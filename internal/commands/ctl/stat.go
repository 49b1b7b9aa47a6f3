// Copyright 2026 The accelctl Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ctl

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

// NewStatCommand creates the stat command.
func NewStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print the daemon's statistics page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPage(cmd.Context(), func(ctx context.Context) (string, error) {
				d, err := newDriver()
				if err != nil {
					return "", err
				}
				return d.Stat(ctx)
			})
		},
	}
}

// NewHistogramCommand creates the histogram command.
func NewHistogramCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "histogram",
		Short: "Print the daemon's latency histogram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPage(cmd.Context(), func(ctx context.Context) (string, error) {
				d, err := newDriver()
				if err != nil {
					return "", err
				}
				return d.Histogram(ctx)
			})
		},
	}
}

// NewJSONStatusCommand creates the jsonstatus command.
func NewJSONStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jsonstatus [outfile]",
		Short: "Print the daemon's status as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			body, err := d.JSONStatus(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return os.WriteFile(args[0], []byte(body), 0o644)
			}
			fmt.Println(body)
			return nil
		},
	}
}

// NewShowflagsCommand creates the showflags command.
func NewShowflagsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "showflags",
		Short: "Print the daemon's user-configured flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()

			d, err := newDriver()
			if err != nil {
				return err
			}
			flags, err := d.Flags(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(flags))
			for key := range flags {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Printf("%s=%s\n", key, flags[key])
			}
			return nil
		},
	}
}

func printPage(ctx context.Context, page func(context.Context) (string, error)) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	body, err := page(ctx)
	if err != nil {
		return err
	}
	fmt.Println(body)
	return nil
}
