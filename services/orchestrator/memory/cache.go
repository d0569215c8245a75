// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory bounds prompt size across conversation turns: a
// capacity- and TTL-bounded cache of rolling conversation summaries, and
// the summarizer that refreshes them after each answered turn.
package memory

import (
	"container/list"
	"sync"
	"time"
)

// Cache defaults.
const (
	DefaultCapacity = 512
	DefaultTTL      = 30 * time.Minute
)

type cacheEntry struct {
	conversationID string
	summary        string
	writtenAt      time.Time
}

// SummaryCache maps conversation ids to rolling summaries with LRU
// eviction under capacity pressure and TTL expiry from the last write.
// Safe for concurrent use; same-key concurrent writes are last-write-wins.
type SummaryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	entries  map[string]*list.Element

	// now is swappable for tests.
	now func() time.Time
}

// NewSummaryCache creates a cache. Non-positive capacity or TTL fall back
// to the defaults.
func NewSummaryCache(capacity int, ttl time.Duration) *SummaryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SummaryCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the summary for a conversation and whether it was present.
// An entry past its TTL is evicted on access and reported absent. A hit
// refreshes recency.
func (c *SummaryCache) Get(conversationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[conversationID]
	if !ok {
		return "", false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.writtenAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, conversationID)
		return "", false
	}

	c.order.MoveToFront(elem)
	return entry.summary, true
}

// Set inserts or updates a summary, marks it most recently used, and
// evicts the least recently used entry when capacity is exceeded.
func (c *SummaryCache) Set(conversationID, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[conversationID]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.summary = summary
		entry.writtenAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{
		conversationID: conversationID,
		summary:        summary,
		writtenAt:      c.now(),
	})
	c.entries[conversationID] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).conversationID)
	}
}

// Len returns the current entry count.
func (c *SummaryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
