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
	"os"

	"cloud.google.com/go/storage"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

var errUnknownSize = errors.New("object reader does not report a size")

// ObjectHandle is an interface to an object in a storage engine.
type ObjectHandle interface {
	// NewRangeReader returns a reader that reads length bytes starting at
	// offset.  The returned reader must also implement Size() int64 reporting
	// the total object size, as *storage.Reader does.
	NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

type sizer interface {
	Size() int64
}

// ObjectFetcher reads ranges of a storage object such as a GCS object.
type ObjectFetcher struct {
	object ObjectHandle
	retry  retryPolicy
}

// NewObjectFetcher returns a fetcher that reads from object.  Missing objects
// and authorization failures are not retried.
func NewObjectFetcher(object ObjectHandle, attempts int, limiter *rate.Limiter) *ObjectFetcher {
	return &ObjectFetcher{object, retryPolicy{attempts, limiter, isPermanentObjectError}}
}

func isPermanentObjectError(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}

// Fetch implements Fetcher.
func (f *ObjectFetcher) Fetch(ctx context.Context, start, end uint64) (*Response, error) {
	return f.retry.do(ctx, start, end, func() (*Response, error) {
		r, err := f.object.NewRangeReader(ctx, int64(start), int64(end-start))
		if err != nil {
			return nil, fmt.Errorf("opening range: %w", err)
		}
		defer r.Close()

		s, ok := r.(sizer)
		if !ok {
			return nil, errUnknownSize
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading range: %w", err)
		}
		size := uint64(s.Size())
		if err := checkLength(data, start, end, size); err != nil {
			return nil, err
		}
		return &Response{Data: data, Size: size}, nil
	})
}

// FileFetcher reads ranges of a local file.
type FileFetcher struct {
	path  string
	retry retryPolicy
}

// NewFileFetcher returns a fetcher that reads from the file at path.  The file
// is opened for each range so the fetcher holds no descriptors.
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path, retryPolicy{attempts: 1}}
}

// Fetch implements Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, start, end uint64) (*Response, error) {
	return f.retry.do(ctx, start, end, func() (*Response, error) {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("reading file size: %w", err)
		}
		size := uint64(info.Size())
		if end > size {
			end = size
		}
		if start > end {
			start = end
		}
		data := make([]byte, end-start)
		if _, err := io.ReadFull(io.NewSectionReader(file, int64(start), int64(end-start)), data); err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		return &Response{Data: data, Size: size}, nil
	})
}
