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
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

var errInvalidObjectURI = errors.New("invalid gs:// URI")

// Options configure the fetcher returned by Open.
type Options struct {
	// Relay is the URI of a range relay used for http(s) sources.
	Relay string
	// Client is used for http(s) sources and, when set, for GCS requests.
	Client *http.Client
	// Attempts overrides DefaultAttempts.
	Attempts int
	// Limiter paces individual attempts.
	Limiter *rate.Limiter
}

// Open returns a Fetcher for uri.  http:// and https:// URIs are read with
// range requests, gs://bucket/object URIs through the Cloud Storage API, and
// file:// URIs or plain paths from the local file system.
func Open(ctx context.Context, uri string, opts Options) (Fetcher, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewHTTPFetcher(uri, opts.Relay, opts.Client, opts.Attempts, opts.Limiter), nil
	case strings.HasPrefix(uri, "gs://"):
		bucket, object, err := parseObjectURI(uri)
		if err != nil {
			return nil, err
		}
		var clientOpts []option.ClientOption
		if opts.Client != nil {
			clientOpts = append(clientOpts, option.WithHTTPClient(opts.Client))
		}
		gcs, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating storage client: %w", err)
		}
		return NewObjectFetcher(GCSObject{gcs.Bucket(bucket).Object(object)}, opts.Attempts, opts.Limiter), nil
	default:
		return NewFileFetcher(strings.TrimPrefix(uri, "file://")), nil
	}
}

// GCSObject adapts a storage object to ObjectHandle.
type GCSObject struct {
	*storage.ObjectHandle
}

// NewRangeReader implements ObjectHandle.
func (o GCSObject) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	return o.ObjectHandle.NewRangeReader(ctx, offset, length)
}

func parseObjectURI(uri string) (string, string, error) {
	if parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2); len(parts) == 2 {
		if parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", errInvalidObjectURI, uri)
}
