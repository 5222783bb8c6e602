// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

var errMissingContentRange = errors.New("missing Content-Range header")

// HTTPFetcher reads ranges of a URI with HTTP range requests, optionally
// through a relay that performs the ranged request on the caller's behalf.
type HTTPFetcher struct {
	uri    string
	relay  string
	client *http.Client
	retry  retryPolicy
}

// NewHTTPFetcher returns a fetcher for uri.  If relay is not empty, requests
// are sent to relay with the inclusive range in the r parameter and the
// target URI in the q parameter instead of using a Range header.  A nil client
// uses http.DefaultClient; a nil limiter does not pace requests.
func NewHTTPFetcher(uri, relay string, client *http.Client, attempts int, limiter *rate.Limiter) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{uri, relay, client, retryPolicy{attempts: attempts, limiter: limiter}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, start, end uint64) (*Response, error) {
	return f.retry.do(ctx, start, end, func() (*Response, error) {
		return f.fetchOnce(ctx, start, end)
	})
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, start, end uint64) (*Response, error) {
	req, err := f.newRequest(ctx, start, end)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected response status: %q", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if header := resp.Header.Get("Content-Range"); header != "" {
		size, err := ParseContentRange(header)
		if err != nil {
			return nil, err
		}
		if err := checkLength(data, start, end, size); err != nil {
			return nil, err
		}
		return &Response{Data: data, Size: size}, nil
	}
	if resp.StatusCode == http.StatusPartialContent {
		return nil, errMissingContentRange
	}

	// A plain 200 carries the whole object.
	size := uint64(len(data))
	if start > size {
		start = size
	}
	if end > size {
		end = size
	}
	return &Response{Data: data[start:end], Size: size}, nil
}

func (f *HTTPFetcher) newRequest(ctx context.Context, start, end uint64) (*http.Request, error) {
	bytes := httpRange(start, end)
	if f.relay == "" {
		req, err := http.NewRequest("GET", f.uri, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Range", "bytes="+bytes)
		return req.WithContext(ctx), nil
	}

	target, err := url.Parse(f.relay)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URI: %w", err)
	}
	query := target.Query()
	query.Set("r", bytes)
	query.Set("q", f.uri)
	target.RawQuery = query.Encode()

	req, err := http.NewRequest("GET", target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating relay request: %w", err)
	}
	return req.WithContext(ctx), nil
}

// ParseContentRange returns the total size from a Content-Range header value
// of the form "<unit> <start>-<end>/<size>".
func ParseContentRange(header string) (uint64, error) {
	slash := strings.LastIndexByte(header, '/')
	if slash < 0 || !strings.Contains(header[:slash], " ") {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	size, err := strconv.ParseUint(strings.TrimSpace(header[slash+1:]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size in Content-Range %q: %w", header, err)
	}
	return size, nil
}
