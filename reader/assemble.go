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

package reader

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/googlegenomics/ldget/internal/ld"
)

// RecordsInByteRange returns every complete line that begins in [start, end).
// A line that begins before start is skipped even if it extends into the
// range.  The final line of the file is included even without a trailing
// newline.
func (r *Reader) RecordsInByteRange(ctx context.Context, start, end uint64) ([]*ld.Record, error) {
	size, err := r.FileSize(ctx)
	if err != nil {
		return nil, err
	}
	end = min(end, size)
	if start >= end {
		return nil, nil
	}

	// Reading the byte before start tells whether a line begins at start.
	from := start
	if start > 0 {
		from = start - 1
	}
	text, err := r.source.Text(ctx, from, end)
	if err != nil {
		return nil, fmt.Errorf("reading records in [%d, %d): %w", start, end, err)
	}

	offset := from
	if start > 0 {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return nil, nil
		}
		text = text[i+1:]
		offset += uint64(i + 1)
	}

	var records []*ld.Record
	for text != "" {
		line, rest, found := strings.Cut(text, "\n")
		if !found && end < size {
			// The line continues past end.
			break
		}
		record, err := ld.ParseAt(line, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		text = rest
		offset += uint64(len(line) + 1)
	}
	return records, nil
}

// RecordsInCoordinateRange returns every record whose coordinate lies in the
// inclusive range [start, end], in file order.
func (r *Reader) RecordsInCoordinateRange(ctx context.Context, start, end int64) ([]*ld.Record, error) {
	size, err := r.FileSize(ctx)
	if err != nil {
		return nil, err
	}
	if size == 0 || start > end {
		return nil, nil
	}
	bounds, err := r.Boundaries(ctx)
	if err != nil {
		return nil, err
	}
	if end < bounds.First.Coordinate() || start > bounds.Last.Coordinate() {
		return nil, nil
	}

	var first, last uint64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		first, err = r.FindOffset(gctx, start, 0, size, FirstOfRun)
		return err
	})
	g.Go(func() error {
		var err error
		last, err = r.FindOffset(gctx, end, 0, size, LastOfRun)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("locating [%d, %d]: %w", start, end, err)
	}

	records, err := r.RecordsInByteRange(ctx, first, min(size, last+r.lineBufferSize))
	if err != nil {
		return nil, err
	}

	// The byte range may reach one line beyond either end of the run.
	for len(records) > 0 && records[0].Coordinate() < start {
		records = records[1:]
	}
	for len(records) > 0 && records[len(records)-1].Coordinate() > end {
		records = records[:len(records)-1]
	}
	return records, nil
}
