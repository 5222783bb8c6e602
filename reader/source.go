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

	"github.com/googlegenomics/ldget/internal/blockcache"
	"github.com/googlegenomics/ldget/internal/fetch"
)

// Source supplies file content to a Reader in both encodings.
type Source interface {
	Raw(ctx context.Context, start, end uint64) ([]byte, error)
	Text(ctx context.Context, start, end uint64) (string, error)
}

// directSource issues one fetch per read.
type directSource struct {
	fetcher fetch.Fetcher
}

func (s directSource) Raw(ctx context.Context, start, end uint64) ([]byte, error) {
	if end <= start {
		return nil, nil
	}
	resp, err := s.fetcher.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (s directSource) Text(ctx context.Context, start, end uint64) (string, error) {
	if end <= start {
		return "", nil
	}
	return fetch.Text(ctx, s.fetcher, start, end)
}

// cachedSource serves reads from two block caches, one per encoding.
type cachedSource struct {
	raw  *blockcache.Cache[[]byte]
	text *blockcache.Cache[string]
}

func newCachedSource(fetcher fetch.Fetcher, size blockcache.SizeFunc, blockSize uint64) *cachedSource {
	direct := directSource{fetcher}
	return &cachedSource{
		raw:  blockcache.New[[]byte](direct.Raw, size, blockSize),
		text: blockcache.New[string](direct.Text, size, blockSize),
	}
}

func (s *cachedSource) Raw(ctx context.Context, start, end uint64) ([]byte, error) {
	return s.raw.Get(ctx, start, end)
}

func (s *cachedSource) Text(ctx context.Context, start, end uint64) (string, error) {
	return s.text.Get(ctx, start, end)
}
