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

// Package relay implements a range relay for browsers that cannot send Range
// headers to a file server directly, typically because the server does not
// allow cross-origin requests.
//
// A client asks for GET /?q=<uri>&r=<first>-<last>.  The relay requests
// bytes <first>-<last> of <uri> and answers with the upstream status,
// Content-Range header and body.
package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	errMissingTarget = errors.New("missing q parameter")
	errInvalidRange  = errors.New("invalid r parameter")
	errInvalidTarget = errors.New("q must be an absolute http or https URI")
)

// Options configure a Relay.
type Options struct {
	// AllowedHosts, if not empty, lists the only hosts that may be relayed to.
	AllowedHosts []string
	// RequestsPerSecond limits each client address; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// Client performs upstream requests; nil means http.DefaultClient.
	Client *http.Client
}

// Relay forwards ranged reads.  It must be created with New.
type Relay struct {
	client   *http.Client
	allowed  map[string]bool
	limiters *limiterSet
}

// New returns a Relay configured by opts.
func New(opts Options) *Relay {
	r := &Relay{
		client:  opts.Client,
		allowed: make(map[string]bool),
	}
	if r.client == nil {
		r.client = http.DefaultClient
	}
	for _, host := range opts.AllowedHosts {
		r.allowed[strings.ToLower(host)] = true
	}
	if opts.RequestsPerSecond > 0 {
		r.limiters = newLimiterSet(opts.RequestsPerSecond, opts.Burst)
	}
	return r
}

// Register adds the relay endpoint to router at path.
func (r *Relay) Register(router gin.IRoutes, path string) {
	router.GET(path, r.serve)
	router.OPTIONS(path, r.preflight)
}

func setCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Range")
	c.Header("Access-Control-Expose-Headers", "Content-Range")
}

func (r *Relay) preflight(c *gin.Context) {
	setCORS(c)
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Status(http.StatusNoContent)
}

func (r *Relay) serve(c *gin.Context) {
	setCORS(c)

	if r.limiters != nil && !r.limiters.allow(c.ClientIP(), time.Now()) {
		c.Header("Retry-After", "1")
		writeError(c, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
		return
	}

	target, err := parseTarget(c.Query("q"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if len(r.allowed) > 0 && !r.allowed[strings.ToLower(target.Hostname())] {
		writeError(c, http.StatusForbidden, fmt.Errorf("relaying to %s is not allowed", target.Hostname()))
		return
	}
	first, last, err := parseRange(c.Query("r"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("creating request: %v", err))
		return
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", first, last))

	resp, err := r.client.Do(req)
	if err != nil {
		slog.Warn("Relay request failed", "target", target.String(), "err", err)
		writeError(c, http.StatusBadGateway, fmt.Errorf("requesting %s: %v", target.Host, err))
		return
	}
	defer resp.Body.Close()

	if contentRange := resp.Header.Get("Content-Range"); contentRange != "" {
		c.Header("Content-Range", contentRange)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		c.Header("Content-Type", contentType)
	}
	if resp.ContentLength >= 0 {
		c.Header("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		slog.Warn("Failed to copy relayed response", "target", target.String(), "err", err)
	}
}

func parseTarget(q string) (*url.URL, error) {
	if q == "" {
		return nil, errMissingTarget
	}
	target, err := url.Parse(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidTarget, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, errInvalidTarget
	}
	return target, nil
}

// parseRange parses the inclusive range "<first>-<last>".
func parseRange(r string) (uint64, uint64, error) {
	a, b, ok := strings.Cut(r, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", errInvalidRange, r)
	}
	first, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", errInvalidRange, r)
	}
	last, err := strconv.ParseUint(b, 10, 64)
	if err != nil || last < first {
		return 0, 0, fmt.Errorf("%w: %q", errInvalidRange, r)
	}
	return first, last, nil
}

func writeError(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{
		"error":   http.StatusText(code),
		"message": err.Error(),
	})
}

// Logger returns middleware that logs each request through log/slog.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Relayed",
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"range", c.Query("r"),
			"target", c.Query("q"),
			"duration", time.Since(start))
	}
}
