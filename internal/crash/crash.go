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

// Package crash finds and uploads the daemon's minidump files.
package crash

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DumpExtension is the minidump file suffix the daemon writes.
const DumpExtension = ".dmp"

// Product is the product name attached to crash reports.
const Product = "accel-compile-proxy"

// Report is one crash dump ready for upload.
type Report struct {
	// Product identifies the crashing binary to the crash server.
	Product string

	// Version is the daemon version that produced the dump.
	Version string

	// GUID identifies the reporter, empty when user info must not be
	// sent.
	GUID string

	// DumpPath is the minidump file.
	DumpPath string
}

// GUID builds the reporter identity. Without permission to send user
// info it is empty and omitted from the report.
func GUID(username string, sendUserInfo bool) string {
	if !sendUserInfo {
		return ""
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return username + "@" + host
}

// Scan returns the minidump files in dir. A missing directory means no
// dumps.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan crash directory: %w", err)
	}
	var dumps []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), DumpExtension) {
			dumps = append(dumps, filepath.Join(dir, entry.Name()))
		}
	}
	return dumps, nil
}

// IsStale reports whether the dump is older than cleanInterval. A
// negative interval disables staleness, an unstattable file counts as
// stale.
func IsStale(path string, cleanInterval time.Duration) bool {
	if cleanInterval < 0 {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(fi.ModTime()) > cleanInterval
}

// Upload posts one dump to the crash server as multipart/form-data and
// returns the server-assigned report id.
func Upload(ctx context.Context, client *http.Client, serverURL string, report Report) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		"prod": report.Product,
		"ver":  report.Version,
	}
	if report.GUID != "" {
		fields["guid"] = report.GUID
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return "", fmt.Errorf("write form field %s: %w", key, err)
		}
	}

	part, err := form.CreateFormFile("upload_file_minidump", filepath.Base(report.DumpPath))
	if err != nil {
		return "", fmt.Errorf("create dump part: %w", err)
	}
	dump, err := os.Open(report.DumpPath)
	if err != nil {
		return "", fmt.Errorf("open dump: %w", err)
	}
	defer dump.Close()
	if _, err := io.Copy(part, dump); err != nil {
		return "", fmt.Errorf("copy dump: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload crash dump: %w", err)
	}
	defer resp.Body.Close()

	id, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("crash server returned %s: %s", resp.Status, strings.TrimSpace(string(id)))
	}
	return strings.TrimSpace(string(id)), nil
}
