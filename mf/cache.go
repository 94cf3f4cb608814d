package mf

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eak1mov/go-mapfile/mf/spec"
)

const (
	// DefaultIndexCachePages is the page capacity of the index cache.
	DefaultIndexCachePages = 64

	indexEntriesPerPage = 256
	indexPageLength     = indexEntriesPerPage * spec.IndexEntryLength
)

type rangeReader interface {
	ReadRange(offset, length int64) ([]byte, error)
}

type indexPageKey struct {
	indexStart int64
	page       int64
}

// indexCache resolves (sub-file, block number) to an index entry. Misses
// read a whole page of consecutive entries, so racing queries may fetch
// the same page twice; page reads are idempotent and the waste is bounded.
type indexCache struct {
	source rangeReader
	pages  *lru.Cache[indexPageKey, []byte]
}

func newIndexCache(source rangeReader, pages int) (*indexCache, error) {
	cache, err := lru.New[indexPageKey, []byte](pages)
	if err != nil {
		return nil, err
	}
	return &indexCache{source: source, pages: cache}, nil
}

func (c *indexCache) IndexEntry(sub *spec.SubFileParams, blockNumber int64) (spec.IndexEntry, error) {
	if blockNumber < 0 || blockNumber >= sub.BlockCount {
		return spec.IndexEntry{}, fmt.Errorf("mapfile: block number %d outside grid of %d blocks", blockNumber, sub.BlockCount)
	}

	key := indexPageKey{indexStart: sub.IndexStart, page: blockNumber / indexEntriesPerPage}
	page, ok := c.pages.Get(key)
	if !ok {
		offset := key.page * indexPageLength
		length := min(int64(indexPageLength), sub.BlockCount*spec.IndexEntryLength-offset)

		var err error
		page, err = c.source.ReadRange(sub.IndexStart+offset, length)
		if err != nil {
			return spec.IndexEntry{}, err
		}
		c.pages.Add(key, page)
	}

	rb := spec.NewReadBuffer(page)
	if err := rb.SetPosition(int(blockNumber%indexEntriesPerPage) * spec.IndexEntryLength); err != nil {
		return spec.IndexEntry{}, err
	}
	raw, err := rb.ReadUintN(spec.IndexEntryLength)
	if err != nil {
		return spec.IndexEntry{}, err
	}
	return spec.DecodeIndexEntry(raw), nil
}

// dispose drops all cached pages without further I/O.
func (c *indexCache) dispose() {
	c.pages.Purge()
}
