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

// Package analytics reports anonymous usage of the LD query service to
// Google Analytics.
package analytics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	defaultEndpoint  = "https://www.google-analytics.com"
	defaultBatchSize = 20 // Limit of the batch endpoint.
)

// Hit is a single analytics measurement.
type Hit map[string]string

// Event returns an event hit.  The label may be empty and the value may be
// nil but category and action are required.
func Event(category, action, label string, value *int64) Hit {
	hit := Hit{
		"t":  "event",
		"ec": category,
		"ea": action,
	}
	if label != "" {
		hit["el"] = label
	}
	if value != nil {
		hit["ev"] = strconv.FormatInt(*value, 10)
	}
	return hit
}

// Timing returns a user timing hit recording that variable took d.
func Timing(category, variable string, d time.Duration) Hit {
	return Hit{
		"t":   "timing",
		"utc": category,
		"utv": variable,
		"utt": strconv.FormatInt(d.Milliseconds(), 10),
	}
}

// Client uploads hits for one analytics property.  It must be created with
// NewClient.
type Client struct {
	propertyID string
	clientID   string
	endpoint   string
	batchSize  int
	http       *http.Client
}

// NewClient returns a Client that sends hits for propertyID on behalf of
// clientID.
func NewClient(propertyID, clientID string) *Client {
	return &Client{propertyID, clientID, defaultEndpoint, defaultBatchSize, http.DefaultClient}
}

// Send uploads hits in batches.
func (c *Client) Send(ctx context.Context, hits []Hit) error {
	for i := 0; i < len(hits); i += c.batchSize {
		end := min(i+c.batchSize, len(hits))
		if err := c.upload(ctx, hits[i:end]); err != nil {
			return fmt.Errorf("uploading hits %d-%d: %w", i, end-1, err)
		}
	}
	return nil
}

func (c *Client) upload(ctx context.Context, hits []Hit) error {
	var body bytes.Buffer
	for _, hit := range hits {
		payload := url.Values{
			"v":   []string{"1"},
			"tid": []string{c.propertyID},
			"cid": []string{c.clientID},
		}
		for key, value := range hit {
			payload.Add(key, value)
		}
		body.WriteString(payload.Encode())
		body.WriteByte('\n')
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/batch", &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response status: %v", resp.Status)
	}
	return nil
}

type contextKey int

const hitsKey contextKey = 1

type hitBuffer struct {
	mu   sync.Mutex
	hits []Hit
}

// TrackingHandler wraps handler so that requests carry a hit buffer usable
// through TrackerFromContext.  Once handler returns, track is called with the
// hits recorded while serving the request.
func TrackingHandler(handler http.Handler, track func([]Hit)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		buffer := new(hitBuffer)
		handler.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), hitsKey, buffer)))
		track(buffer.hits)
	})
}

// TrackerFromContext returns a function that records hits for the request
// that ctx belongs to.  Outside a TrackingHandler the returned function
// discards its hits.  The function is safe for concurrent use.
func TrackerFromContext(ctx context.Context) func(Hit) {
	if buffer, ok := ctx.Value(hitsKey).(*hitBuffer); ok {
		return func(hit Hit) {
			buffer.mu.Lock()
			defer buffer.mu.Unlock()
			buffer.hits = append(buffer.hits, hit)
		}
	}
	return func(Hit) {}
}
