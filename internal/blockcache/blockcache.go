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

// Package blockcache caches fixed size, offset aligned blocks of a remote
// object.
//
// Reads that fall inside a single block are served from that block, which is
// fetched at most once; reads spanning several blocks bypass the cache.
package blockcache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 512 * 1024

// Content is the type of data held by a Cache.
type Content interface {
	~[]byte | ~string
}

// FetchFunc reads [start, end) from the underlying object.
type FetchFunc[T Content] func(ctx context.Context, start, end uint64) (T, error)

// SizeFunc returns the total size of the underlying object.
type SizeFunc func(ctx context.Context) (uint64, error)

// Cache is a block cache over a single object.  It must be created with New.
// Blocks are never evicted.
type Cache[T Content] struct {
	fetch     FetchFunc[T]
	size      SizeFunc
	blockSize uint64

	mu     sync.Mutex
	blocks map[uint64]T
	flight singleflight.Group

	fetches atomic.Int64
}

// New returns a cache that fills blocks of blockSize bytes using fetch.  The
// object size is obtained from size on each read, so it should be memoized by
// the caller.  A zero blockSize selects DefaultBlockSize.
func New[T Content](fetch FetchFunc[T], size SizeFunc, blockSize uint64) *Cache[T] {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &Cache[T]{
		fetch:     fetch,
		size:      size,
		blockSize: blockSize,
		blocks:    make(map[uint64]T),
	}
}

// Get returns the content in [start, end).  The end is clamped to the object
// size.
func (c *Cache[T]) Get(ctx context.Context, start, end uint64) (T, error) {
	var empty T
	size, err := c.size(ctx)
	if err != nil {
		return empty, fmt.Errorf("resolving object size: %w", err)
	}
	if end > size {
		end = size
	}
	if start >= end {
		return empty, nil
	}

	blockSize := c.BlockSize(size)
	index := start / blockSize
	if (end-1)/blockSize != index {
		return c.fetch(ctx, start, end)
	}

	block, err := c.block(ctx, index, blockSize, size)
	if err != nil {
		return empty, err
	}
	base := index * blockSize
	return block[start-base : end-base], nil
}

// BlockSize returns the effective block size for an object of the given
// size: the configured size clamped to the object size.
func (c *Cache[T]) BlockSize(size uint64) uint64 {
	if size > 0 && size < c.blockSize {
		return size
	}
	return c.blockSize
}

// Fetches returns the number of block fetches issued so far.
func (c *Cache[T]) Fetches() int64 {
	return c.fetches.Load()
}

func (c *Cache[T]) lookup(index uint64) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.blocks[index]
	return block, ok
}

// block returns the content of block index, fetching it if no caller has
// done so yet.  Concurrent callers share a single fetch, which is not
// cancelled when any one of them gives up.
func (c *Cache[T]) block(ctx context.Context, index, blockSize, size uint64) (T, error) {
	if block, ok := c.lookup(index); ok {
		return block, nil
	}

	v, err, _ := c.flight.Do(strconv.FormatUint(index, 10), func() (interface{}, error) {
		// The block may have been stored after the lookup above.
		if block, ok := c.lookup(index); ok {
			return block, nil
		}

		start := index * blockSize
		end := start + blockSize
		if end > size {
			end = size
		}
		c.fetches.Add(1)
		block, err := c.fetch(context.WithoutCancel(ctx), start, end)
		if err != nil {
			return nil, fmt.Errorf("fetching block %d: %w", index, err)
		}
		if got, want := uint64(len(block)), end-start; got != want {
			return nil, fmt.Errorf("fetching block %d: got %d bytes, want %d", index, got, want)
		}

		c.mu.Lock()
		c.blocks[index] = block
		c.mu.Unlock()
		return block, nil
	})
	if err != nil {
		var empty T
		return empty, err
	}
	return v.(T), nil
}
