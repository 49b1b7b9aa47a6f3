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

package shared

import (
	"os"
	"path/filepath"
)

// installDir is the --dir persistent flag value.
var installDir string

// SetInstallDir records the --dir flag for the current invocation.
func SetInstallDir(dir string) {
	installDir = dir
}

// InstallDir resolves the live install directory: the --dir flag when
// given, otherwise the directory holding the accelctl binary. ACCEL_DIR
// still overrides both at config load time.
func InstallDir() (string, error) {
	if installDir != "" {
		return installDir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}
