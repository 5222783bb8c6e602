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

package api

import (
	"context"
	"errors"

	"github.com/googlegenomics/ldget/internal/fetch"
	"github.com/googlegenomics/ldget/internal/genomics"
	"github.com/googlegenomics/ldget/internal/ld"
	"github.com/googlegenomics/ldget/reader"
)

// ldRequest reads a single object.  Its reader, and so its block cache, lives
// for one HTTP request.
type ldRequest struct {
	object  ObjectHandle
	options reader.Options
}

type summary struct {
	Size  uint64     `json:"size"`
	First *ld.Record `json:"first,omitempty"`
	Last  *ld.Record `json:"last,omitempty"`
}

func (req *ldRequest) open() *reader.Reader {
	return reader.New(fetch.NewObjectFetcher(req.object, 0, nil), req.options)
}

func (req *ldRequest) records(ctx context.Context, region genomics.Region) ([]*ld.Record, error) {
	records, err := req.open().RecordsInCoordinateRange(ctx, region.Start, region.End)
	if err != nil {
		return nil, newStorageError("reading records", err)
	}
	if records == nil {
		records = []*ld.Record{}
	}
	return records, nil
}

func (req *ldRequest) summary(ctx context.Context) (*summary, error) {
	r := req.open()
	size, err := r.FileSize(ctx)
	if err != nil {
		return nil, newStorageError("reading size", err)
	}

	bounds, err := r.Boundaries(ctx)
	if errors.Is(err, reader.ErrEmptyFile) {
		return &summary{Size: size}, nil
	}
	if err != nil {
		return nil, newStorageError("reading boundaries", err)
	}
	return &summary{Size: size, First: bounds.First, Last: bounds.Last}, nil
}
