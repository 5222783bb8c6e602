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

	"github.com/googlegenomics/ldget/internal/ld"
)

// Mode selects which offset FindOffset returns.
type Mode int

const (
	// Exact returns the offset of any record with the target coordinate.
	Exact Mode = iota
	// FirstOfRun returns the offset of the first record whose coordinate is
	// not less than the target.
	FirstOfRun
	// LastOfRun returns the offset of the last record whose coordinate is not
	// greater than the target.
	LastOfRun
)

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case FirstOfRun:
		return "first"
	case LastOfRun:
		return "last"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// RecordAt returns the first record that begins at or after offset.  Offset 0
// yields the first record of the file, and any offset past the start of the
// last line yields the last record.  A nil record with a nil error means
// offset is at or beyond the end of the file.
func (r *Reader) RecordAt(ctx context.Context, offset uint64) (*ld.Record, error) {
	record, _, err := r.lineAt(ctx, offset)
	return record, err
}

// lineAt is RecordAt that also returns the offset of the returned record's
// line, or the file size when there is no record.
func (r *Reader) lineAt(ctx context.Context, offset uint64) (*ld.Record, uint64, error) {
	if offset == 0 {
		bounds, err := r.Boundaries(ctx)
		if err != nil {
			return nil, 0, err
		}
		return bounds.First, 0, nil
	}
	size, err := r.FileSize(ctx)
	if err != nil {
		return nil, 0, err
	}
	if offset >= size {
		return nil, size, nil
	}

	// The window starts one byte early so that a line beginning exactly at
	// offset is preceded by its newline.  Two line buffers always hold the
	// remainder of one line plus a complete next line.
	start := offset - 1
	end := min(size, start+2*r.lineBufferSize)
	text, err := r.source.Text(ctx, start, end)
	if err != nil {
		return nil, 0, fmt.Errorf("reading line at %d: %w", offset, err)
	}

	i := strings.IndexByte(text, '\n')
	if i < 0 {
		if end == size {
			return r.lastLine(ctx, size)
		}
		return nil, 0, fmt.Errorf("%w: no line break in [%d, %d)", ErrLineTooLong, start, end)
	}
	lineStart := start + uint64(i) + 1
	rest := text[i+1:]
	if rest == "" {
		if end < size {
			return nil, 0, fmt.Errorf("%w: line ending at %d", ErrLineTooLong, lineStart)
		}
		// The newline terminates the last line.
		return r.lastLine(ctx, size)
	}
	line, _, found := strings.Cut(rest, "\n")
	if !found && end < size {
		return nil, 0, fmt.Errorf("%w: line at %d", ErrLineTooLong, lineStart)
	}
	record, err := ld.ParseAt(line, lineStart)
	if err != nil {
		return nil, 0, err
	}
	return record, lineStart, nil
}

// FindOffset binary searches the byte range [low, high] for a line with the
// target coordinate and returns the offset at which that line begins, as
// selected by mode.
//
// In Exact mode a *NotFoundError is returned when no line matches.  The run
// modes never fail to find an offset: FirstOfRun returns the offset of the
// first line whose coordinate is not less than the target, or the file size
// if there is none, and LastOfRun the offset of the last line whose
// coordinate is not greater than the target, or 0 if there is none.
func (r *Reader) FindOffset(ctx context.Context, target int64, low, high uint64, mode Mode) (uint64, error) {
	// first is the line of the smallest probe found so far whose record is
	// at or after the target.
	first := high
	for low <= high {
		mid := low + (high-low)/2
		rec, lineStart, err := r.lineAt(ctx, mid)
		if err != nil {
			return 0, err
		}

		// Offsets past the end of the file order after every record.
		after := rec == nil || rec.Coordinate() > target
		if !after {
			c := rec.Coordinate()
			switch {
			case c == target && mode == Exact:
				return lineStart, nil
			case c < target, mode == LastOfRun:
				low = mid + 1
				continue
			}
		}
		first = lineStart
		if mid == 0 {
			break
		}
		high = mid - 1
	}

	switch mode {
	case Exact:
		return 0, &NotFoundError{Target: target}
	case LastOfRun:
		if low == 0 {
			return 0, nil
		}
		// low-1 is the last probe at or before the target; report its line.
		_, lineStart, err := r.lineAt(ctx, low-1)
		if err != nil {
			return 0, err
		}
		return lineStart, nil
	}
	return first, nil
}
