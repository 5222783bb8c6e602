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

// Package reader implements range queries over remote LD record files.
//
// A file is a sequence of newline terminated LD records sorted by the
// coordinate of their first marker.  The Reader binary searches the file by
// byte offset, so a query for a coordinate range only transfers the bytes
// around the matching records rather than the whole file.
package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/googlegenomics/ldget/internal/fetch"
	"github.com/googlegenomics/ldget/internal/ld"
)

// DefaultLineBufferSize is the default guess of the longest line in a file.
// HapMap LD lines are 60-70 bytes long.
const DefaultLineBufferSize = 256

var (
	// ErrEmptyFile is returned when boundaries are requested for a file with
	// no content.
	ErrEmptyFile = errors.New("empty file")
	// ErrLineTooLong is returned when a line does not fit in the line buffer.
	ErrLineTooLong = errors.New("line exceeds line buffer size")
	// ErrNotFound is matched by the error returned by FindOffset when an
	// exact search finds no record.
	ErrNotFound = errors.New("coordinate not found")
)

// NotFoundError is returned by an Exact search that found no record with the
// target coordinate.
type NotFoundError struct {
	Target int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %d", ErrNotFound, e.Target)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Options configure a Reader.
type Options struct {
	// BlockSize is the cache block size in bytes.  Zero selects
	// blockcache.DefaultBlockSize.
	BlockSize uint64
	// LineBufferSize must exceed the length of the longest line in the file.
	// Zero selects DefaultLineBufferSize.
	LineBufferSize uint64
	// Uncached disables the block cache; every read becomes a fetch.
	Uncached bool
}

// Boundaries holds the first and last records of a file.
type Boundaries struct {
	First *ld.Record `json:"first"`
	Last  *ld.Record `json:"last"`
}

// Reader reads LD records from a single file.  It must be created with New or
// Open and is safe for concurrent use.
type Reader struct {
	fetcher        fetch.Fetcher
	cached         *cachedSource
	source         Source
	lineBufferSize uint64

	sizeMu    sync.Mutex
	size      uint64
	sizeKnown bool

	boundsMu sync.Mutex
	bounds   *Boundaries
}

// New returns a Reader over the file served by fetcher.
func New(fetcher fetch.Fetcher, opts Options) *Reader {
	r := &Reader{
		fetcher:        fetcher,
		lineBufferSize: opts.LineBufferSize,
	}
	if r.lineBufferSize == 0 {
		r.lineBufferSize = DefaultLineBufferSize
	}
	r.cached = newCachedSource(fetcher, r.FileSize, opts.BlockSize)
	if opts.Uncached {
		r.source = directSource{fetcher}
	} else {
		r.source = r.cached
	}
	return r
}

// Open returns a Reader for uri using a fetcher chosen by fetch.Open.
func Open(ctx context.Context, uri string, fetchOpts fetch.Options, opts Options) (*Reader, error) {
	fetcher, err := fetch.Open(ctx, uri, fetchOpts)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", uri, err)
	}
	return New(fetcher, opts), nil
}

// FetchRaw reads [start, end) without going through the cache.
func (r *Reader) FetchRaw(ctx context.Context, start, end uint64) ([]byte, error) {
	return directSource{r.fetcher}.Raw(ctx, start, end)
}

// FetchText reads [start, end) as text without going through the cache.
func (r *Reader) FetchText(ctx context.Context, start, end uint64) (string, error) {
	return directSource{r.fetcher}.Text(ctx, start, end)
}

// CachedRaw reads [start, end) through the byte block cache.
func (r *Reader) CachedRaw(ctx context.Context, start, end uint64) ([]byte, error) {
	return r.cached.Raw(ctx, start, end)
}

// CachedText reads [start, end) through the text block cache.
func (r *Reader) CachedText(ctx context.Context, start, end uint64) (string, error) {
	return r.cached.Text(ctx, start, end)
}

// BlockFetches returns the number of block fetches issued by the caches.
func (r *Reader) BlockFetches() int64 {
	return r.cached.raw.Fetches() + r.cached.text.Fetches()
}

// FileSize returns the size of the file.  The first call reads it from the
// response to a one byte range request; later calls return the stored value.
func (r *Reader) FileSize(ctx context.Context) (uint64, error) {
	r.sizeMu.Lock()
	defer r.sizeMu.Unlock()
	if r.sizeKnown {
		return r.size, nil
	}

	resp, err := r.fetcher.Fetch(ctx, 0, 1)
	if err != nil {
		return 0, fmt.Errorf("reading file size: %w", err)
	}
	r.size, r.sizeKnown = resp.Size, true
	return r.size, nil
}

// Boundaries returns the first and last records of the file.  Both ends are
// read concurrently and the result is stored for later calls.
func (r *Reader) Boundaries(ctx context.Context) (Boundaries, error) {
	r.boundsMu.Lock()
	defer r.boundsMu.Unlock()
	if r.bounds != nil {
		return *r.bounds, nil
	}

	size, err := r.FileSize(ctx)
	if err != nil {
		return Boundaries{}, err
	}
	if size == 0 {
		return Boundaries{}, ErrEmptyFile
	}

	var bounds Boundaries
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bounds.First, err = r.firstRecord(gctx, size)
		return err
	})
	g.Go(func() error {
		var err error
		bounds.Last, err = r.lastRecord(gctx, size)
		return err
	})
	if err := g.Wait(); err != nil {
		return Boundaries{}, fmt.Errorf("reading boundaries: %w", err)
	}
	r.bounds = &bounds
	return bounds, nil
}

func (r *Reader) firstRecord(ctx context.Context, size uint64) (*ld.Record, error) {
	end := min(size, r.lineBufferSize)
	text, err := r.source.Text(ctx, 0, end)
	if err != nil {
		return nil, fmt.Errorf("reading first line: %w", err)
	}
	line, _, found := strings.Cut(text, "\n")
	if !found && end < size {
		return nil, fmt.Errorf("%w: first line", ErrLineTooLong)
	}
	return ld.ParseAt(line, 0)
}

func (r *Reader) lastRecord(ctx context.Context, size uint64) (*ld.Record, error) {
	record, _, err := r.lastLine(ctx, size)
	return record, err
}

// lastLine returns the last record of the file and the offset of its line.
func (r *Reader) lastLine(ctx context.Context, size uint64) (*ld.Record, uint64, error) {
	start := size - min(size, r.lineBufferSize)
	text, err := r.source.Text(ctx, start, size)
	if err != nil {
		return nil, 0, fmt.Errorf("reading last line: %w", err)
	}
	text = strings.TrimRight(text, "\r\n")
	i := strings.LastIndexByte(text, '\n')
	if i < 0 && start > 0 {
		return nil, 0, fmt.Errorf("%w: last line", ErrLineTooLong)
	}
	lineStart := start + uint64(i+1)
	record, err := ld.ParseAt(text[i+1:], lineStart)
	if err != nil {
		return nil, 0, err
	}
	return record, lineStart, nil
}
