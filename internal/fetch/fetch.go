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

// Package fetch reads byte ranges of remote objects.
//
// Every Fetcher requests the half-open range [start, end) and retries
// failures up to a fixed attempt budget before giving up with a
// RangeFetchError.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// DefaultAttempts is the number of requests made for a range before a fetch
// fails.
const DefaultAttempts = 10

var (
	errEmptyRange = errors.New("empty range")
	errShortBody  = errors.New("response body does not match the requested range")
)

// Response holds the bytes of a ranged read and the total size of the object
// they were read from.
type Response struct {
	Data []byte
	// Size is the total object size as reported by the source.
	Size uint64
}

// Fetcher reads byte ranges from a single object.
type Fetcher interface {
	// Fetch returns the bytes in [start, end).
	Fetch(ctx context.Context, start, end uint64) (*Response, error)
}

// Text fetches [start, end) from f and returns it decoded as text.
func Text(ctx context.Context, f Fetcher, start, end uint64) (string, error) {
	resp, err := f.Fetch(ctx, start, end)
	if err != nil {
		return "", err
	}
	return string(resp.Data), nil
}

// RangeFetchError is returned once every attempt to read a range failed.
type RangeFetchError struct {
	Start, End uint64
	Attempts   int
	// Err is the failure of the last attempt.
	Err error
}

func (e *RangeFetchError) Error() string {
	return fmt.Sprintf("fetching range %s after %d attempts: %v", httpRange(e.Start, e.End), e.Attempts, e.Err)
}

func (e *RangeFetchError) Unwrap() error {
	return e.Err
}

// retryPolicy holds the retry settings shared by all fetchers.
type retryPolicy struct {
	attempts int
	limiter  *rate.Limiter
	// permanent, if set, reports failures that no later attempt can fix.
	permanent func(error) bool
}

// do calls attempt until it succeeds or the attempt budget is exhausted.
// Each call must issue a fresh request.
func (p retryPolicy) do(ctx context.Context, start, end uint64, attempt func() (*Response, error)) (*Response, error) {
	if end <= start {
		return nil, &RangeFetchError{start, end, 0, errEmptyRange}
	}
	attempts := p.attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if p.limiter != nil {
			if werr := p.limiter.Wait(ctx); werr != nil {
				return nil, &RangeFetchError{start, end, i - 1, werr}
			}
		}
		var resp *Response
		if resp, err = attempt(); err == nil {
			return resp, nil
		}
		if p.permanent != nil && p.permanent(err) {
			return nil, &RangeFetchError{start, end, i, err}
		}
		if i < attempts {
			slog.Warn("Range fetch failed; retrying", "range", httpRange(start, end), "attempt", i, "err", err)
		}
	}
	slog.Error("Range fetch failed", "range", httpRange(start, end), "attempts", attempts, "err", err)
	return nil, &RangeFetchError{start, end, attempts, err}
}

// checkLength reports a response whose data is not exactly the part of
// [start, end) that lies inside an object of the given size.
func checkLength(data []byte, start, end, size uint64) error {
	want := min(end, size) - min(start, size)
	if got := uint64(len(data)); got != want {
		return fmt.Errorf("%w: got %d bytes, want %d", errShortBody, got, want)
	}
	return nil
}

// httpRange formats [start, end) as the inclusive range used on the wire.
func httpRange(start, end uint64) string {
	if end == 0 {
		return fmt.Sprintf("%d-", start)
	}
	return fmt.Sprintf("%d-%d", start, end-1)
}
