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

package ld

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want Record
	}{
		{
			"hapmap line",
			"554631 557616 ASW rs3094315 rs3131972 1.0 0.066 1.36 2",
			Record{
				RS1:        Marker{554631, "rs3094315"},
				RS2:        Marker{557616, "rs3131972"},
				Population: "ASW",
				DPrime:     1.0,
				RSquare:    0.066,
				LOD:        1.36,
				FBin:       2,
			},
		},
		{
			"carriage return",
			"100 200 CEU rs1 rs2 0.5 0.25 3 1\r",
			Record{
				RS1:        Marker{100, "rs1"},
				RS2:        Marker{200, "rs2"},
				Population: "CEU",
				DPrime:     0.5,
				RSquare:    0.25,
				LOD:        3,
				FBin:       1,
			},
		},
		{
			"extra columns ignored",
			"100 200 CEU rs1 rs2 0.5 0.25 3 1 trailing junk",
			Record{
				RS1:        Marker{100, "rs1"},
				RS2:        Marker{200, "rs2"},
				Population: "CEU",
				DPrime:     0.5,
				RSquare:    0.25,
				LOD:        3,
				FBin:       1,
			},
		},
		{
			"coordinate beyond 32 bits",
			"8589934592 8589934600 YRI rs9 rs10 0 0 0 -1",
			Record{
				RS1:        Marker{8589934592, "rs9"},
				RS2:        Marker{8589934600, "rs10"},
				Population: "YRI",
				FBin:       -1,
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.line)
			if err != nil {
				t.Fatalf("Parse(%q) returned unexpected error: %v", tc.line, err)
			}
			if !reflect.DeepEqual(*got, tc.want) {
				t.Errorf("Wrong record: got %+v, want %+v", *got, tc.want)
			}
			if got, want := got.Coordinate(), tc.want.RS1.Coordinate; got != want {
				t.Errorf("Wrong coordinate: got %d, want %d", got, want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"too few fields", "100 200 CEU rs1 rs2 0.5 0.25 3"},
		{"double space", "100  200 CEU rs1 rs2 0.5 0.25 3 1"},
		{"non-numeric coordinate", "abc 200 CEU rs1 rs2 0.5 0.25 3 1"},
		{"non-numeric rs2", "100 x CEU rs1 rs2 0.5 0.25 3 1"},
		{"non-numeric dprime", "100 200 CEU rs1 rs2 d 0.25 3 1"},
		{"non-numeric rsquare", "100 200 CEU rs1 rs2 0.5 r 3 1"},
		{"non-numeric lod", "100 200 CEU rs1 rs2 0.5 0.25 l 1"},
		{"fractional fbin", "100 200 CEU rs1 rs2 0.5 0.25 3 1.5"},
		{"fbin overflow", "100 200 CEU rs1 rs2 0.5 0.25 3 4294967296"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.line)
			if err == nil {
				t.Fatalf("Unexpected success: got %+v, wanted error", got)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Wrong error type: got %T, want *ParseError", err)
			}
			if pe.Located() {
				t.Errorf("Parse error unexpectedly carries an offset: %v", pe)
			}
			if !strings.Contains(err.Error(), pe.Line) {
				t.Errorf("Error %q does not identify the line %q", err, pe.Line)
			}
		})
	}
}

func TestParseAt_RecordsOffset(t *testing.T) {
	_, err := ParseAt("100 200", 4096)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Wrong error type: got %T, want *ParseError", err)
	}
	if !pe.Located() {
		t.Fatalf("ParseAt error is missing its offset")
	}
	if got, want := pe.Offset, uint64(4096); got != want {
		t.Errorf("Wrong offset: got %d, want %d", got, want)
	}
	if !errors.Is(err, ErrTooFewFields) {
		t.Errorf("Expected ErrTooFewFields, got %v", err)
	}
	if !strings.Contains(err.Error(), "offset 4096") {
		t.Errorf("Error %q does not mention the offset", err)
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	lines := []string{
		"554631 557616 ASW rs3094315 rs3131972 1 0.066 1.36 2",
		"100 200 CEU rs1 rs2 0.5 0.25 3 1",
		"9007199254740993 9007199254740995 JPT+CHB rs7 rs8 0.123456789012345 1e-07 1234.5 0",
		"1 2 MKK a b -0 0.3333333333333333 0.1 -7",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			first, err := Parse(line)
			if err != nil {
				t.Fatalf("Parse(%q) returned unexpected error: %v", line, err)
			}
			second, err := Parse(first.String())
			if err != nil {
				t.Fatalf("Parse(%q) returned unexpected error: %v", first.String(), err)
			}
			if !reflect.DeepEqual(first, second) {
				t.Errorf("Round trip changed the record: got %+v, want %+v", second, first)
			}
		})
	}
}
