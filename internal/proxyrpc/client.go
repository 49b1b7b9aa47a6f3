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

// Package proxyrpc is the client side of the daemon's loopback control
// protocol: plain HTTP GETs against http://127.0.0.1:<port>/<command>.
package proxyrpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Control commands understood by the daemon.
const (
	CmdHealthz      = "healthz"
	CmdQuit         = "quitquitquit"
	CmdStatz        = "statz"
	CmdHistogramz   = "histogramz"
	CmdFlagz        = "flagz"
	CmdVersionz     = "versionz"
	CmdErrorz       = "errorz"
	CmdCompilerInfo = "compilerinfoz"
	CmdServerz      = "serverz"
)

// Health states derived from the /healthz response prefix.
const (
	HealthOK      = "ok"
	HealthRunning = "running:"
	HealthError   = "error:"
)

// Client talks to one daemon instance on the loopback interface.
type Client struct {
	port       int
	httpClient *http.Client
}

// New creates a control client for the given port. The transport ignores
// proxy environment variables: an http_proxy setting must never capture
// loopback control traffic.
func New(port int) *Client {
	return &Client{
		port: port,
		httpClient: &http.Client{
			Transport: &http.Transport{Proxy: nil},
			Timeout:   30 * time.Second,
		},
	}
}

// URLPrefix returns the base URL of the control endpoint.
func (c *Client) URLPrefix() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.port)
}

// Control issues a GET for the given command and returns the raw body.
// The context bounds the whole request; readiness probes pass a ~1s
// deadline so a hung daemon cannot block the caller.
func (c *Client) Control(ctx context.Context, command string) (string, error) {
	url := c.URLPrefix() + "/" + command
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("control %s: %w", command, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("control %s: %w", command, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("control %s: %s: %s", command, resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// Healthz returns the daemon's health state: the first whitespace-separated
// token of the /healthz body ("ok", "running:...", "error:...").
func (c *Client) Healthz(ctx context.Context) (string, error) {
	body, err := c.Control(ctx, CmdHealthz)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

// Probe reports whether the control port answers /healthz within the
// given per-attempt budget. Any HTTP answer counts: a daemon reporting
// "running:" is listening even if not yet serving compiles.
func (c *Client) Probe(ctx context.Context, attemptTimeout time.Duration) bool {
	pctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()
	_, err := c.Healthz(pctx)
	return err == nil
}

// ParseFlagz parses the /flagz body into full-name → value pairs,
// dropping lines the daemon marks "(auto configured)" so the diff only
// covers user-configured options.
func ParseFlagz(body string) map[string]string {
	flags := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, "(auto configured)") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		flags[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return flags
}
