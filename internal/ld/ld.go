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

// Package ld provides support for parsing linkage disequilibrium records.
//
// Records are single lines of nine space separated columns as published in
// the HapMap LD data releases:
// http://hapmap.ncbi.nlm.nih.gov/downloads/ld_data/2009-04_rel27/00README.txt.
package ld

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Column positions inside a record line.
const (
	colRS1Coordinate = iota
	colRS2Coordinate
	colPopulation
	colRS1ID
	colRS2ID
	colDPrime
	colRSquare
	colLOD
	colFBin

	fieldCount
)

// ErrTooFewFields is returned (wrapped in a ParseError) for lines that do not
// contain all nine columns.
var ErrTooFewFields = errors.New("too few fields")

// Marker identifies one of the two SNPs of a record.
type Marker struct {
	Coordinate int64  `json:"coordinate"`
	ID         string `json:"id"`
}

// Record is a single LD measurement between two markers.
type Record struct {
	RS1        Marker  `json:"rs1"`
	RS2        Marker  `json:"rs2"`
	Population string  `json:"population"`
	DPrime     float64 `json:"dprime"`
	RSquare    float64 `json:"rsquare"`
	LOD        float64 `json:"lod"`
	FBin       int32   `json:"fbin"`
}

// Coordinate returns the sort key of the record, the position of the first
// marker.
func (r *Record) Coordinate() int64 {
	return r.RS1.Coordinate
}

// String returns the record in the line format accepted by Parse.
func (r *Record) String() string {
	fields := [fieldCount]string{
		colRS1Coordinate: strconv.FormatInt(r.RS1.Coordinate, 10),
		colRS2Coordinate: strconv.FormatInt(r.RS2.Coordinate, 10),
		colPopulation:    r.Population,
		colRS1ID:         r.RS1.ID,
		colRS2ID:         r.RS2.ID,
		colDPrime:        formatFloat(r.DPrime),
		colRSquare:       formatFloat(r.RSquare),
		colLOD:           formatFloat(r.LOD),
		colFBin:          strconv.FormatInt(int64(r.FBin), 10),
	}
	return strings.Join(fields[:], " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseError describes a line that could not be parsed.
type ParseError struct {
	// Line is the offending text.
	Line string
	// Offset is the file offset of the line, valid only when located is set.
	Offset  uint64
	located bool
	Err     error
}

func (e *ParseError) Error() string {
	if e.located {
		return fmt.Sprintf("parsing line at offset %d %q: %v", e.Offset, e.Line, e.Err)
	}
	return fmt.Sprintf("parsing line %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Located reports whether Offset holds the file position of the line.
func (e *ParseError) Located() bool {
	return e.located
}

// Parse parses a single line (without its terminating newline) into a Record.
// Columns past the ninth are ignored.
func Parse(line string) (*Record, error) {
	line = strings.TrimSuffix(line, "\r")
	tokens := strings.Split(line, " ")
	if len(tokens) < fieldCount {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("%w: got %d, want %d", ErrTooFewFields, len(tokens), fieldCount)}
	}

	var (
		record Record
		err    error
	)
	fail := func(column string, err error) (*Record, error) {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("parsing %s: %w", column, err)}
	}
	if record.RS1.Coordinate, err = strconv.ParseInt(tokens[colRS1Coordinate], 10, 64); err != nil {
		return fail("rs1 coordinate", err)
	}
	if record.RS2.Coordinate, err = strconv.ParseInt(tokens[colRS2Coordinate], 10, 64); err != nil {
		return fail("rs2 coordinate", err)
	}
	record.Population = tokens[colPopulation]
	record.RS1.ID = tokens[colRS1ID]
	record.RS2.ID = tokens[colRS2ID]
	if record.DPrime, err = strconv.ParseFloat(tokens[colDPrime], 64); err != nil {
		return fail("D'", err)
	}
	if record.RSquare, err = strconv.ParseFloat(tokens[colRSquare], 64); err != nil {
		return fail("r^2", err)
	}
	if record.LOD, err = strconv.ParseFloat(tokens[colLOD], 64); err != nil {
		return fail("LOD", err)
	}
	fbin, err := strconv.ParseInt(tokens[colFBin], 10, 32)
	if err != nil {
		return fail("fbin", err)
	}
	record.FBin = int32(fbin)
	return &record, nil
}

// ParseAt is like Parse but records offset in any returned ParseError.
func ParseAt(line string, offset uint64) (*Record, error) {
	record, err := Parse(line)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Offset, pe.located = offset, true
		}
		return nil, err
	}
	return record, nil
}
