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

// Package config builds the immutable accelctl configuration.
//
// Every option is read from an environment variable named ACCEL_<OPTION>.
// The configuration is resolved exactly once at startup and passed by
// pointer; nothing else in the tree reads the environment, which makes
// "flags changed since the daemon started" an explicit diff of two
// snapshots instead of scattered env lookups.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the namespace for all daemon-facing options.
const EnvPrefix = "ACCEL_"

// Default option values applied when the corresponding ACCEL_ variable is
// unset. They are injected into the daemon's environment on spawn so the
// daemon and accelctl agree on socket, lock and port identity.
var defaultOptions = map[string]string{
	"USE_SSL":                       "true",
	"PING_TIMEOUT_SEC":              "60",
	"LOG_CLEAN_INTERVAL":            strconv.Itoa(24 * 60 * 60),
	"COMPILER_PROXY_DAEMON_MODE":    "true",
	"COMPILER_PROXY_SOCKET_NAME":    "accel.ipc",
	"COMPILER_PROXY_LOCK_FILENAME":  "accel_compile_proxy.lock",
	"COMPILER_PROXY_PORT":           "8088",
	"UPDATE_RECENCY_SECS":           strconv.Itoa(4 * 60 * 60),
}

// Config is the resolved accelctl configuration. It is immutable after Load.
type Config struct {
	// Dir is the live install directory (daemon binary, MANIFEST,
	// sha256.json, staging and backup subtrees).
	Dir string

	// DaemonBinary is the path of the compile-proxy executable.
	DaemonBinary string

	// SocketName is the base name of the daemon's control socket.
	SocketName string

	// SocketNameSet records whether the socket name was configured
	// explicitly. An explicit socket name means the caller may not be
	// using the default IPC identity, so competing instances on the
	// default port are left alone.
	SocketNameSet bool

	// LockFilename is the base name of the daemon lock file; the daemon
	// appends ".<port>".
	LockFilename string

	// Port is the loopback control port.
	Port int

	// DaemonMode reports whether the daemon self-detaches after spawn.
	DaemonMode bool

	// PingTimeout is the operator-configurable allowance added to the
	// fixed 20s port-readiness budget.
	PingTimeout time.Duration

	// UpdateRecency is the staging-manifest freshness window inside which
	// Pull and auto-update are skipped.
	UpdateRecency time.Duration

	// LogCleanInterval is the age beyond which crash dumps and logs are
	// considered stale. Negative disables cleanup.
	LogCleanInterval time.Duration

	// DownloadBaseURL is the release server base URL. Empty disables
	// update operations.
	DownloadBaseURL string

	// CacheDir overrides the daemon cache directory. Empty means
	// <tmpdir>/accel_cache.
	CacheDir string

	// TmpDir overrides the working temp directory.
	TmpDir string

	// CrashServer is the crash report endpoint. Empty disables upload.
	CrashServer string

	// SendUserInfo permits attaching user@host to crash reports.
	SendUserInfo bool

	// UseSSL controls the transport defaults handed to the daemon.
	UseSSL bool

	// flags is the snapshot of every ACCEL_ variable visible at Load
	// time, defaults included, keyed by full variable name.
	flags map[string]string
}

// Load resolves the configuration from the environment. dir is the live
// install directory; ACCEL_DIR overrides it.
func Load(dir string) (*Config, error) {
	if v := Get("DIR"); v != "" {
		dir = v
	}

	port, err := strconv.Atoi(getOrDefault("COMPILER_PROXY_PORT"))
	if err != nil {
		return nil, fmt.Errorf("invalid ACCEL_COMPILER_PROXY_PORT: %w", err)
	}

	cfg := &Config{
		Dir:              dir,
		DaemonBinary:     Get("COMPILER_PROXY_BINARY"),
		SocketName:       getOrDefault("COMPILER_PROXY_SOCKET_NAME"),
		SocketNameSet:    isSet("COMPILER_PROXY_SOCKET_NAME"),
		LockFilename:     getOrDefault("COMPILER_PROXY_LOCK_FILENAME"),
		Port:             port,
		DaemonMode:       IsTrue("COMPILER_PROXY_DAEMON_MODE", true),
		PingTimeout:      secondsOption("PING_TIMEOUT_SEC", 60*time.Second),
		UpdateRecency:    secondsOption("UPDATE_RECENCY_SECS", 4*time.Hour),
		LogCleanInterval: secondsOption("LOG_CLEAN_INTERVAL", 24*time.Hour),
		DownloadBaseURL:  strings.TrimRight(Get("DOWNLOAD_BASE_URL"), "/"),
		CacheDir:         Get("CACHE_DIR"),
		TmpDir:           Get("TMP_DIR"),
		CrashServer:      Get("CRASH_SERVER"),
		SendUserInfo:     IsTrue("SEND_USER_INFO", true),
		UseSSL:           IsTrue("USE_SSL", true),
		flags:            snapshotFlags(),
	}
	return cfg, nil
}

// Get returns the raw value of ACCEL_<name>, empty when unset.
func Get(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// IsTrue reports whether ACCEL_<name> is truthy. Truthiness is a leading
// T, Y (either case) or 1; any other non-empty value is false. Unset
// falls back to def.
func IsTrue(name string, def bool) bool {
	v := Get(name)
	if v == "" {
		return def
	}
	return truthy(v)
}

func truthy(v string) bool {
	switch v[0] {
	case 'T', 't', 'Y', 'y', '1':
		return true
	}
	return false
}

func isSet(name string) bool {
	_, ok := os.LookupEnv(EnvPrefix + name)
	return ok
}

func getOrDefault(name string) string {
	if v := Get(name); v != "" {
		return v
	}
	return defaultOptions[name]
}

func secondsOption(name string, def time.Duration) time.Duration {
	v := Get(name)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}

// snapshotFlags captures every ACCEL_ variable plus defaults for the
// unset ones, keyed by full name.
func snapshotFlags() map[string]string {
	flags := make(map[string]string)
	for name, value := range defaultOptions {
		flags[EnvPrefix+name] = value
	}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		flags[key] = value
	}
	return flags
}

// Flags returns the full-name → value snapshot taken at Load time.
func (c *Config) Flags() map[string]string {
	out := make(map[string]string, len(c.flags))
	for k, v := range c.flags {
		out[k] = v
	}
	return out
}

// FlagsChanged reports whether the running daemon's user-configured flags
// (as reported by /flagz, auto-configured lines already removed) differ
// from this configuration's snapshot. Both added and removed variables
// count as changes.
func (c *Config) FlagsChanged(reported map[string]string) bool {
	for key, was := range reported {
		if c.flags[key] != was {
			return true
		}
	}
	for key := range c.flags {
		if _, ok := reported[key]; !ok {
			return true
		}
	}
	return false
}

// DaemonEnv returns the process environment for a daemon spawn: the
// current environment with defaults applied for unset ACCEL_ options.
func (c *Config) DaemonEnv() []string {
	env := os.Environ()
	present := make(map[string]bool)
	for _, kv := range env {
		if key, _, ok := strings.Cut(kv, "="); ok {
			present[key] = true
		}
	}

	names := make([]string, 0, len(defaultOptions))
	for name := range defaultOptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		full := EnvPrefix + name
		if !present[full] {
			env = append(env, full+"="+defaultOptions[name])
		}
	}
	return env
}
