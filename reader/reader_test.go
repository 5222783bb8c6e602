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
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/googlegenomics/ldget/internal/fetch"
	"github.com/googlegenomics/ldget/internal/ld"
)

const testLineBuffer = 64

// memFetcher serves an in-memory file and counts the requests made to it.
type memFetcher struct {
	data  []byte
	calls atomic.Int32
	fail  error
}

func (f *memFetcher) Fetch(_ context.Context, start, end uint64) (*fetch.Response, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	size := uint64(len(f.data))
	end = min(end, size)
	start = min(start, end)
	return &fetch.Response{Data: append([]byte(nil), f.data[start:end]...), Size: size}, nil
}

// ldFile builds a file with one record per coordinate and returns it with the
// byte offset of every line.
func ldFile(coordinates []int64) (string, []uint64) {
	var (
		b       strings.Builder
		offsets []uint64
	)
	for i, c := range coordinates {
		offsets = append(offsets, uint64(b.Len()))
		fmt.Fprintf(&b, "%d %d ASW rs%d rs%d 1 0.5 1.5 %d\n", c, c+100, i, i+1000, i%5)
	}
	return b.String(), offsets
}

func newTestReader(content string, opts Options) (*Reader, *memFetcher) {
	f := &memFetcher{data: []byte(content)}
	if opts.LineBufferSize == 0 {
		opts.LineBufferSize = testLineBuffer
	}
	return New(f, opts), f
}

var testConfigs = []struct {
	name string
	opts Options
}{
	{"uncached", Options{Uncached: true}},
	{"default blocks", Options{}},
	{"small blocks", Options{BlockSize: 16}},
	{"medium blocks", Options{BlockSize: 100}},
}

func coordinates(records []*ld.Record) []int64 {
	var out []int64
	for _, r := range records {
		out = append(out, r.Coordinate())
	}
	return out
}

func equalCoordinates(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRecordsInCoordinateRange(t *testing.T) {
	content, _ := ldFile([]int64{100, 100, 150, 200, 200, 200, 300})
	testCases := []struct {
		start, end int64
		want       []int64
	}{
		{150, 200, []int64{150, 200, 200, 200}},
		{100, 100, []int64{100, 100}},
		{0, 1000, []int64{100, 100, 150, 200, 200, 200, 300}},
		{300, 300, []int64{300}},
		{201, 299, nil},
		{0, 99, nil},
		{301, 400, nil},
		{200, 150, nil},
		{101, 150, []int64{150}},
		{200, 250, []int64{200, 200, 200}},
	}
	for _, config := range testConfigs {
		r, _ := newTestReader(content, config.opts)
		for _, tc := range testCases {
			t.Run(fmt.Sprintf("%s/%d-%d", config.name, tc.start, tc.end), func(t *testing.T) {
				records, err := r.RecordsInCoordinateRange(context.Background(), tc.start, tc.end)
				if err != nil {
					t.Fatalf("RecordsInCoordinateRange() returned unexpected error: %v", err)
				}
				if got := coordinates(records); !equalCoordinates(got, tc.want) {
					t.Errorf("Wrong records: got %v, want %v", got, tc.want)
				}
			})
		}
	}
}

func TestRecordsInCoordinateRange_MatchesFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var all []int64
	c := int64(1000)
	for i := 0; i < 80; i++ {
		c += int64(rng.Intn(3) * rng.Intn(20))
		all = append(all, c)
	}
	content, _ := ldFile(all)

	var queries []int64
	for _, c := range all {
		queries = append(queries, c-1, c, c+1)
	}
	queries = append(queries, 0, all[len(all)-1]+1000)

	for _, config := range testConfigs {
		t.Run(config.name, func(t *testing.T) {
			r, _ := newTestReader(content, config.opts)
			for _, start := range queries {
				for _, end := range queries {
					if start > end {
						continue
					}
					var want []int64
					for _, c := range all {
						if c >= start && c <= end {
							want = append(want, c)
						}
					}
					records, err := r.RecordsInCoordinateRange(context.Background(), start, end)
					if err != nil {
						t.Fatalf("RecordsInCoordinateRange(%d, %d) returned unexpected error: %v", start, end, err)
					}
					if got := coordinates(records); !equalCoordinates(got, want) {
						t.Fatalf("RecordsInCoordinateRange(%d, %d): got %v, want %v", start, end, got, want)
					}
				}
			}
		})
	}
}

func TestRecordsInCoordinateRange_NoOverlapReadsOnlyBoundaries(t *testing.T) {
	content, _ := ldFile([]int64{100, 150, 200})
	r, f := newTestReader(content, Options{Uncached: true})
	if _, err := r.Boundaries(context.Background()); err != nil {
		t.Fatalf("Boundaries() returned unexpected error: %v", err)
	}
	before := f.calls.Load()

	for _, q := range [][2]int64{{0, 99}, {201, 500}, {200, 100}} {
		records, err := r.RecordsInCoordinateRange(context.Background(), q[0], q[1])
		if err != nil {
			t.Fatalf("RecordsInCoordinateRange(%d, %d) returned unexpected error: %v", q[0], q[1], err)
		}
		if len(records) != 0 {
			t.Errorf("RecordsInCoordinateRange(%d, %d): got %d records, want none", q[0], q[1], len(records))
		}
	}
	if got := f.calls.Load(); got != before {
		t.Errorf("Queries without overlap fetched data: got %d fetches, want %d", got, before)
	}
}

func TestRecordsInCoordinateRange_EmptyFile(t *testing.T) {
	r, _ := newTestReader("", Options{})
	records, err := r.RecordsInCoordinateRange(context.Background(), 0, 100)
	if err != nil || len(records) != 0 {
		t.Errorf("RecordsInCoordinateRange() on an empty file: got (%v, %v), want no records", records, err)
	}
	if _, err := r.Boundaries(context.Background()); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Wrong error: got %v, want %v", err, ErrEmptyFile)
	}
}

func TestRecordsInCoordinateRange_UnterminatedLastLine(t *testing.T) {
	content, _ := ldFile([]int64{100, 200, 300})
	content = strings.TrimSuffix(content, "\n")
	for _, config := range testConfigs {
		t.Run(config.name, func(t *testing.T) {
			r, _ := newTestReader(content, config.opts)
			records, err := r.RecordsInCoordinateRange(context.Background(), 150, 300)
			if err != nil {
				t.Fatalf("RecordsInCoordinateRange() returned unexpected error: %v", err)
			}
			if got, want := coordinates(records), []int64{200, 300}; !equalCoordinates(got, want) {
				t.Errorf("Wrong records: got %v, want %v", got, want)
			}
		})
	}
}

func TestRecordsInCoordinateRange_FetchError(t *testing.T) {
	content, _ := ldFile([]int64{100, 200})
	r, f := newTestReader(content, Options{})
	f.fail = &fetch.RangeFetchError{Start: 0, End: 1, Attempts: 10, Err: errors.New("unavailable")}

	_, err := r.RecordsInCoordinateRange(context.Background(), 0, 300)
	var fe *fetch.RangeFetchError
	if !errors.As(err, &fe) {
		t.Errorf("Wrong error: got %v, want *fetch.RangeFetchError", err)
	}
}

func TestRecordsInCoordinateRange_Concurrent(t *testing.T) {
	content, _ := ldFile([]int64{100, 100, 150, 200, 200, 200, 300})
	r, _ := newTestReader(content, Options{BlockSize: 32})

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := r.RecordsInCoordinateRange(context.Background(), 150, 200)
			if err != nil {
				errs <- err
				return
			}
			if got, want := coordinates(records), []int64{150, 200, 200, 200}; !equalCoordinates(got, want) {
				errs <- fmt.Errorf("got %v, want %v", got, want)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRecordAt(t *testing.T) {
	content, offsets := ldFile([]int64{100, 150, 200})
	size := uint64(len(content))
	testCases := []struct {
		name   string
		offset uint64
		want   int64
	}{
		{"start of file", 0, 100},
		{"inside first line", 1, 150},
		{"start of second line", offsets[1], 150},
		{"after second line start", offsets[1] + 1, 200},
		{"start of last line", offsets[2], 200},
		{"inside last line", offsets[2] + 5, 200},
		{"last byte", size - 1, 200},
	}
	for _, config := range testConfigs {
		r, _ := newTestReader(content, config.opts)
		for _, tc := range testCases {
			t.Run(config.name+"/"+tc.name, func(t *testing.T) {
				rec, err := r.RecordAt(context.Background(), tc.offset)
				if err != nil {
					t.Fatalf("RecordAt(%d) returned unexpected error: %v", tc.offset, err)
				}
				if rec == nil {
					t.Fatalf("RecordAt(%d) returned no record", tc.offset)
				}
				if got := rec.Coordinate(); got != tc.want {
					t.Errorf("Wrong record: got %d, want %d", got, tc.want)
				}
			})
		}

		t.Run(config.name+"/past end", func(t *testing.T) {
			for _, offset := range []uint64{size, size + 100} {
				if rec, err := r.RecordAt(context.Background(), offset); rec != nil || err != nil {
					t.Errorf("RecordAt(%d): got (%v, %v), want (nil, nil)", offset, rec, err)
				}
			}
		})
	}
}

func TestRecordAt_LineTooLong(t *testing.T) {
	// The first line ends on the last byte of the window read for offset 45.
	first := "100 200 A r r 1 0 1 0 "
	first += strings.Repeat("x", 91-len(first))
	content := first + "\n150 200 A r r 1 0 1 0\n900 950 A r r 1 0 1 0\n"

	for _, config := range testConfigs {
		t.Run(config.name, func(t *testing.T) {
			opts := config.opts
			opts.LineBufferSize = 24
			r, _ := newTestReader(content, opts)
			rec, err := r.RecordAt(context.Background(), 45)
			if !errors.Is(err, ErrLineTooLong) {
				t.Errorf("RecordAt(45): got (%v, %v), want %v", rec, err, ErrLineTooLong)
			}
		})
	}
}

func lineStart(offsets []uint64, off uint64) bool {
	for _, o := range offsets {
		if o == off {
			return true
		}
	}
	return false
}

func TestFindOffset(t *testing.T) {
	content, offsets := ldFile([]int64{100, 100, 150, 200, 200, 200, 300})
	size := uint64(len(content))
	r, _ := newTestReader(content, Options{BlockSize: 64})
	ctx := context.Background()

	t.Run("first of run", func(t *testing.T) {
		testCases := []struct {
			target int64
			want   uint64
		}{
			{50, offsets[0]},
			{100, offsets[0]},
			{120, offsets[2]},
			{150, offsets[2]},
			{200, offsets[3]},
			{250, offsets[6]},
			{300, offsets[6]},
			{350, size},
		}
		for _, tc := range testCases {
			got, err := r.FindOffset(ctx, tc.target, 0, size, FirstOfRun)
			if err != nil {
				t.Fatalf("FindOffset(%d) returned unexpected error: %v", tc.target, err)
			}
			if got != tc.want {
				t.Errorf("FindOffset(%d): got %d, want %d", tc.target, got, tc.want)
			}
		}
	})

	t.Run("last of run", func(t *testing.T) {
		testCases := []struct {
			target int64
			want   uint64
		}{
			{100, offsets[1]},
			{150, offsets[2]},
			{175, offsets[2]},
			{200, offsets[5]},
			{300, offsets[6]},
			{1000, offsets[6]},
			{50, 0},
		}
		for _, tc := range testCases {
			got, err := r.FindOffset(ctx, tc.target, 0, size, LastOfRun)
			if err != nil {
				t.Fatalf("FindOffset(%d) returned unexpected error: %v", tc.target, err)
			}
			if got != tc.want {
				t.Errorf("FindOffset(%d): got %d, want %d", tc.target, got, tc.want)
			}
		}
	})

	t.Run("exact", func(t *testing.T) {
		for _, target := range []int64{100, 150, 200, 300} {
			off, err := r.FindOffset(ctx, target, 0, size, Exact)
			if err != nil {
				t.Fatalf("FindOffset(%d) returned unexpected error: %v", target, err)
			}
			if rec, err := r.RecordAt(ctx, off); err != nil || rec.Coordinate() != target {
				t.Errorf("FindOffset(%d) = %d: got record %v (%v)", target, off, rec, err)
			}
			if !lineStart(offsets, off) {
				t.Errorf("FindOffset(%d) = %d is not the start of a line", target, off)
			}
		}

		_, err := r.FindOffset(ctx, 175, 0, size, Exact)
		var nf *NotFoundError
		if !errors.As(err, &nf) || !errors.Is(err, ErrNotFound) || nf.Target != 175 {
			t.Errorf("Wrong error: got %v, want *NotFoundError for 175", err)
		}
	})
}

func TestRecordsInByteRange(t *testing.T) {
	content, offsets := ldFile([]int64{100, 150, 200, 250})
	size := uint64(len(content))
	testCases := []struct {
		name       string
		start, end uint64
		want       []int64
	}{
		{"whole file", 0, size, []int64{100, 150, 200, 250}},
		{"line boundaries", offsets[1], offsets[3], []int64{150, 200}},
		{"mid line start", offsets[1] + 1, offsets[3], []int64{200}},
		{"line cut by end", offsets[1], offsets[2] + 3, []int64{150}},
		{"end past size", offsets[3], size + 100, []int64{250}},
		{"empty", offsets[2], offsets[2], nil},
		{"inside one line", offsets[1] + 1, offsets[2] - 1, nil},
	}
	for _, config := range testConfigs {
		r, _ := newTestReader(content, config.opts)
		for _, tc := range testCases {
			t.Run(config.name+"/"+tc.name, func(t *testing.T) {
				records, err := r.RecordsInByteRange(context.Background(), tc.start, tc.end)
				if err != nil {
					t.Fatalf("RecordsInByteRange() returned unexpected error: %v", err)
				}
				if got := coordinates(records); !equalCoordinates(got, tc.want) {
					t.Errorf("Wrong records: got %v, want %v", got, tc.want)
				}
			})
		}
	}
}

func TestRecordsInByteRange_ParseErrorOffset(t *testing.T) {
	content, _ := ldFile([]int64{100, 150})
	want := uint64(len(content))
	content += "bogus line\n"
	r, _ := newTestReader(content, Options{})

	_, err := r.RecordsInByteRange(context.Background(), 0, uint64(len(content)))
	var pe *ld.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Wrong error: got %v, want *ld.ParseError", err)
	}
	if !pe.Located() || pe.Offset != want {
		t.Errorf("Wrong offset: got %d (located %v), want %d", pe.Offset, pe.Located(), want)
	}
}

func TestBoundaries(t *testing.T) {
	content, _ := ldFile([]int64{100, 150, 200})
	for _, config := range testConfigs {
		t.Run(config.name, func(t *testing.T) {
			r, f := newTestReader(content, config.opts)
			bounds, err := r.Boundaries(context.Background())
			if err != nil {
				t.Fatalf("Boundaries() returned unexpected error: %v", err)
			}
			if got, want := bounds.First.Coordinate(), int64(100); got != want {
				t.Errorf("Wrong first record: got %d, want %d", got, want)
			}
			if got, want := bounds.Last.Coordinate(), int64(200); got != want {
				t.Errorf("Wrong last record: got %d, want %d", got, want)
			}

			calls := f.calls.Load()
			if _, err := r.Boundaries(context.Background()); err != nil {
				t.Fatalf("Boundaries() returned unexpected error: %v", err)
			}
			if got := f.calls.Load(); got != calls {
				t.Errorf("Second Boundaries() call fetched data: got %d fetches, want %d", got, calls)
			}
		})
	}
}

func TestBoundaries_LineTooLong(t *testing.T) {
	content, _ := ldFile([]int64{100, 150, 200})
	r, _ := newTestReader(content, Options{LineBufferSize: 8})
	if _, err := r.Boundaries(context.Background()); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("Wrong error: got %v, want %v", err, ErrLineTooLong)
	}
}

func TestFileSize_SharedResolution(t *testing.T) {
	content, _ := ldFile([]int64{100, 150, 200})
	r, f := newTestReader(content, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if size, err := r.FileSize(context.Background()); err != nil || size != uint64(len(content)) {
				t.Errorf("FileSize(): got (%d, %v), want %d", size, err, len(content))
			}
		}()
	}
	wg.Wait()
	if got, want := f.calls.Load(), int32(1); got != want {
		t.Errorf("Wrong number of size requests: got %d, want %d", got, want)
	}
}

func TestCachedMatchesDirect(t *testing.T) {
	content, _ := ldFile([]int64{100, 150, 200, 250, 300})
	r, _ := newTestReader(content, Options{BlockSize: 32})
	ctx := context.Background()
	size := uint64(len(content))

	for start := uint64(0); start < size; start += 11 {
		for _, length := range []uint64{1, 20, 31, 32, 33, 90} {
			end := start + length
			direct, err := r.FetchRaw(ctx, start, min(end, size))
			if err != nil {
				t.Fatalf("FetchRaw(%d, %d) returned unexpected error: %v", start, end, err)
			}
			cached, err := r.CachedRaw(ctx, start, end)
			if err != nil {
				t.Fatalf("CachedRaw(%d, %d) returned unexpected error: %v", start, end, err)
			}
			if !bytes.Equal(direct, cached) {
				t.Fatalf("CachedRaw(%d, %d): got %q, want %q", start, end, cached, direct)
			}
			text, err := r.CachedText(ctx, start, end)
			if err != nil {
				t.Fatalf("CachedText(%d, %d) returned unexpected error: %v", start, end, err)
			}
			if text != string(direct) {
				t.Fatalf("CachedText(%d, %d): got %q, want %q", start, end, text, direct)
			}
		}
	}
	if r.BlockFetches() == 0 {
		t.Errorf("Cached reads did not fetch any blocks")
	}
}

func TestOpen_HTTP(t *testing.T) {
	content, _ := ldFile([]int64{100, 100, 150, 200, 200, 200, 300})
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requests.Add(1)
		if req.Header.Get("Range") == "" {
			t.Errorf("Request without a Range header")
		}
		http.ServeContent(w, req, "ld.txt", time.Time{}, strings.NewReader(content))
	}))
	defer server.Close()

	r, err := Open(context.Background(), server.URL+"/ld.txt", fetch.Options{}, Options{LineBufferSize: testLineBuffer})
	if err != nil {
		t.Fatalf("Open() returned unexpected error: %v", err)
	}
	records, err := r.RecordsInCoordinateRange(context.Background(), 150, 200)
	if err != nil {
		t.Fatalf("RecordsInCoordinateRange() returned unexpected error: %v", err)
	}
	if got, want := coordinates(records), []int64{150, 200, 200, 200}; !equalCoordinates(got, want) {
		t.Errorf("Wrong records: got %v, want %v", got, want)
	}
	if got, want := records[0].String(), strings.SplitN(content, "\n", 4)[2]; got != want {
		t.Errorf("Wrong record text: got %q, want %q", got, want)
	}
	if requests.Load() == 0 {
		t.Errorf("No requests reached the server")
	}
}
