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
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cachebuild/accelctl/internal/commands/shared"
	"github.com/cachebuild/accelctl/internal/platform"
)

// NewFetchCommand creates the fetch command.
func NewFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [platform] [outfile]",
		Short: "Download a release package for any platform",
		Long: `Download the published package for the given platform tag
(linux, mac or win64) into the current directory or outfile.

Without a platform argument the running build's own platform is used;
when that cannot be determined, an interactive terminal is asked.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), lifecycleTimeout)
			defer cancel()

			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			platformTag, err := resolvePlatformTag(arg, os.Stdin, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			out := platform.PackageNameFor(platformTag)
			if len(args) == 2 {
				out = args[1]
			}

			d, err := newDriver()
			if err != nil {
				return err
			}
			if err := d.FetchPackage(ctx, platformTag, out); err != nil {
				return err
			}
			fmt.Println(shared.RenderOK("downloaded " + out))
			return nil
		},
	}
}

// resolvePlatformTag picks the platform to fetch for: the explicit
// argument, then the running build's platform, then an interactive
// prompt.
func resolvePlatformTag(arg string, in *os.File, out io.Writer) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if tag := platform.DetectPlatform(runtime.GOOS); tag != "" {
		return tag, nil
	}
	return platform.PromptPlatform(in, out)
}
