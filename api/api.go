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

// Package api implements an HTTP query service for sorted LD record files
// stored in Google Cloud Storage.
//
// GET /ld/<bucket>/<object>?start=<n>&end=<n>&format=JSON|TSV returns every
// record whose first marker lies in [start, end].  GET /summary/<bucket>/<object>
// returns the size of the object with its first and last records.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzhttp"

	"github.com/googlegenomics/ldget/internal/analytics"
	"github.com/googlegenomics/ldget/internal/genomics"
	"github.com/googlegenomics/ldget/internal/ld"
	"github.com/googlegenomics/ldget/reader"
)

const (
	ldPath      = "/ld/"
	summaryPath = "/summary/"

	formatJSON = "JSON"
	formatTSV  = "TSV"
)

var (
	errInvalidOrUnspecifiedID = errors.New("invalid or unspecified ID")
	errMissingOrInvalidToken  = errors.New("missing or invalid token")
)

// NewStorageClientFunc is the type of function that constructs the storage
// Client used to satisfy an incoming request.
type NewStorageClientFunc func(*http.Request) (Client, error)

// Server provides the LD query service.  Must be created with NewServer.
type Server struct {
	newStorageClient NewStorageClientFunc
	options          reader.Options
	whitelist        map[string]bool
}

// NewServer returns a new Server that calls newStorageClient on each request
// to determine which storage client to use, and reads objects with a
// reader.Reader configured by options.
func NewServer(newStorageClient NewStorageClientFunc, options reader.Options) *Server {
	return &Server{newStorageClient, options, make(map[string]bool)}
}

// Whitelist adds buckets to the set of buckets which the server is allowed to
// access. If Whitelist is never called for a given Server then reads from any
// bucket are allowed.
func (server *Server) Whitelist(buckets []string) {
	for _, bucket := range buckets {
		server.whitelist[bucket] = true
	}
}

// Export registers the API endpoints with mux.  Record responses are gzip
// compressed for clients that accept it.
func (server *Server) Export(mux *http.ServeMux) {
	mux.Handle(ldPath, gzhttp.GzipHandler(forwardOrigin(server.serveLD)))
	mux.Handle(summaryPath, forwardOrigin(server.serveSummary))
}

func (server *Server) serveLD(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	started := time.Now()

	track := analytics.TrackerFromContext(ctx)
	track(analytics.Event("LD", "LD Request Received", "", nil))

	query := req.URL.Query()
	format, err := parseFormat(query.Get("format"))
	if err != nil {
		writeError(w, newUnsupportedFormatError(err))
		return
	}

	request, err := server.newRequest(req, ldPath)
	if err != nil {
		writeError(w, err)
		return
	}

	region, err := parseRegion(query)
	if err != nil {
		writeError(w, newInvalidInputError("parsing region", err))
		return
	}
	if region.Empty() {
		writeError(w, newInvalidRangeError(fmt.Errorf("%s: start > end", region)))
		return
	}

	records, err := request.records(ctx, region)
	if err != nil {
		track(analytics.Event("LD", "LD Internal Error", "", nil))
		writeError(w, err)
		return
	}

	switch format {
	case formatTSV:
		writeTSV(w, records)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ld": map[string]interface{}{
				"format":  formatJSON,
				"records": records,
			}})
	}

	count := int64(len(records))
	track(analytics.Event("LD", "LD Response Record Count", "", &count))
	track(analytics.Timing("LD", "LD Query", time.Since(started)))
}

func (server *Server) serveSummary(w http.ResponseWriter, req *http.Request) {
	track := analytics.TrackerFromContext(req.Context())
	track(analytics.Event("LD", "Summary Request Received", "", nil))

	request, err := server.newRequest(req, summaryPath)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := request.summary(req.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
}

// newRequest resolves the object named by the path of req below prefix.
func (server *Server) newRequest(req *http.Request, prefix string) (*ldRequest, error) {
	bucket, object, err := parseID(req.URL.Path[len(prefix):])
	if err != nil {
		return nil, newInvalidInputError("parsing object ID", err)
	}

	if err := server.checkWhitelist(bucket); err != nil {
		return nil, newPermissionDeniedError("checking whitelist", err)
	}

	gcs, err := server.newStorageClient(req)
	if err != nil {
		return nil, newStorageError("creating client", err)
	}

	return &ldRequest{
		object:  gcs.NewObjectHandle(bucket, object),
		options: server.options,
	}, nil
}

func (server *Server) checkWhitelist(bucket string) error {
	if len(server.whitelist) == 0 || server.whitelist[bucket] {
		return nil
	}
	return fmt.Errorf("access to bucket %s is not allowed", bucket)
}

// parseID parses path and returns a GCS bucket and object, or an error.
func parseID(path string) (string, string, error) {
	if parts := strings.SplitN(path, "/", 2); len(parts) == 2 {
		if parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", errInvalidOrUnspecifiedID
}

func parseFormat(format string) (string, error) {
	switch format {
	case "", formatJSON:
		return formatJSON, nil
	case formatTSV:
		return formatTSV, nil
	}
	return "", fmt.Errorf("unsupported format %q", format)
}

// parseRegion returns the region named by the start and end parameters.  A
// missing bound extends the region to that end of the file.
func parseRegion(query url.Values) (genomics.Region, error) {
	region := genomics.AllRecords

	if start := query.Get("start"); start != "" {
		n, err := strconv.ParseUint(start, 10, 63)
		if err != nil {
			return genomics.Region{}, fmt.Errorf("parsing start: %v", err)
		}
		region.Start = int64(n)
	}

	if end := query.Get("end"); end != "" {
		n, err := strconv.ParseUint(end, 10, 63)
		if err != nil {
			return genomics.Region{}, fmt.Errorf("parsing end: %v", err)
		}
		region.End = int64(n)
	}

	return region, nil
}

// apiError is used to capture errors that have been defined in the API.
type apiError struct {
	name  string
	code  int
	cause error
}

func (err *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %v", err.name, err.code, err.cause)
}

func (err *apiError) Unwrap() error {
	return err.cause
}

func newAPIError(name string, code int, context string, err error) error {
	return &apiError{name, code, fmt.Errorf("%s: %w", context, err)}
}

func newInvalidAuthenticationError(context string, err error) error {
	return newAPIError("InvalidAuthentication", http.StatusUnauthorized, context, err)
}

func newInvalidInputError(context string, err error) error {
	return newAPIError("InvalidInput", http.StatusBadRequest, context, err)
}

func newInvalidRangeError(err error) error {
	return &apiError{"InvalidRange", http.StatusBadRequest, err}
}

func newPermissionDeniedError(context string, err error) error {
	return newAPIError("PermissionDenied", http.StatusForbidden, context, err)
}

func newUnsupportedFormatError(err error) error {
	return &apiError{"UnsupportedFormat", http.StatusBadRequest, err}
}

func newNotFoundError(context string, err error) error {
	return newAPIError("NotFound", http.StatusNotFound, context, err)
}

// writeError writes either a JSON object or bare HTTP error describing err to
// w.  A JSON object is written only when the error has a name and code defined
// by the API.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.code, map[string]interface{}{
			"error":   apiErr.name,
			"message": fmt.Sprintf("%s: %v", http.StatusText(apiErr.code), apiErr.cause),
		})
		return
	}

	slog.Error("Request failed", "err", err)
	http.Error(w, fmt.Sprintf("%s: %v", http.StatusText(http.StatusInternalServerError), err), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "err", err)
	}
}

func writeTSV(w http.ResponseWriter, records []*ld.Record) {
	w.Header().Set("Content-Type", "text/tab-separated-values")
	w.WriteHeader(http.StatusOK)
	for _, record := range records {
		if _, err := fmt.Fprintln(w, strings.ReplaceAll(record.String(), " ", "\t")); err != nil {
			slog.Warn("Failed to write response", "err", err)
			return
		}
	}
}

type forwardOrigin func(w http.ResponseWriter, req *http.Request)

func (f forwardOrigin) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if origin := req.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	f(w, req)
}
