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

// Package fetch downloads release artifacts (manifest, packages) from the
// release server with a bounded retry policy for transient transport
// failures.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Fetcher retrieves artifacts relative to a base URL.
type Fetcher struct {
	// BaseURL is the release server root, without a trailing slash.
	BaseURL string

	// Header entries are attached to every request (authorization etc.).
	Header http.Header

	// Client defaults to a client with a 5 minute overall timeout; large
	// packages over slow links need far more than the usual RPC budget.
	Client *http.Client

	// MaxElapsedTime bounds the whole retry cycle. Zero means 2 minutes.
	MaxElapsedTime time.Duration
}

// permanentStatusError marks HTTP statuses that a retry cannot fix.
type permanentStatusError struct {
	url    string
	status string
}

func (e *permanentStatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.url, e.status)
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

func (f *Fetcher) newBackOff() backoff.BackOff {
	maxElapsed := f.MaxElapsedTime
	if maxElapsed == 0 {
		maxElapsed = 2 * time.Minute
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         15 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// Get fetches BaseURL/name and returns the body.
func (f *Fetcher) Get(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	err := f.retrieve(ctx, name, func(r io.Reader) error {
		var err error
		body, err = io.ReadAll(r)
		return err
	})
	return body, err
}

// Download fetches BaseURL/name into dest, creating or truncating it.
func (f *Fetcher) Download(ctx context.Context, name, dest string) error {
	return f.retrieve(ctx, name, func(r io.Reader) error {
		out, err := os.Create(dest)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

func (f *Fetcher) retrieve(ctx context.Context, name string, consume func(io.Reader) error) error {
	url := f.BaseURL + "/" + name

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, vs := range f.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := f.client().Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return consume(resp.Body)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(&permanentStatusError{url: url, status: resp.Status})
		default:
			return fmt.Errorf("fetch %s: %s", url, resp.Status)
		}
	}

	return backoff.Retry(operation, backoff.WithContext(f.newBackOff(), ctx))
}
