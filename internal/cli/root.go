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

// Package cli assembles the accelctl command tree.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cachebuild/accelctl/internal/commands/ctl"
	"github.com/cachebuild/accelctl/internal/commands/shared"
)

// normalizeFlagName lets flags be spelled with underscores, matching the
// underscore style of the command names.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// NewRootCommand builds the accelctl root command.
func NewRootCommand(version string) *cobra.Command {
	var installDir string

	root := &cobra.Command{
		Use:   "accelctl",
		Short: "Manage the accel compile-proxy daemon",
		Long: `accelctl manages the local compile-proxy daemon: starting and
stopping it, checking its health, and keeping it up to date from the
release server.

Configuration comes from ACCEL_* environment variables; see showflags
for the effective set.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			shared.SetInstallDir(installDir)
		},
		SilenceUsage: true,
	}

	root.SetGlobalNormalizationFunc(normalizeFlagName)
	root.PersistentFlags().StringVar(&installDir, "dir", "",
		"install directory (default: the directory holding accelctl)")

	for _, cmd := range ctl.NewCommands() {
		root.AddCommand(cmd)
	}
	return root
}
