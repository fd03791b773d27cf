/*
Copyright (C) 2026  Graft Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package local

import (
	"container/list"
	"sync"

	"github.com/orbitinghail/graft"
)

// SegmentIndexCache caches decoded segment frame indexes by SegmentId, so
// repeated reads against the same segment don't re-decode its footer
// (SPEC_FULL.md §5, "segment index caching"). Segments are immutable once
// written, so entries never need invalidation, only eviction.
//
// Modeled on the teacher's map+mutex cache manager, trading its
// channel-driven eviction loop for a plain LRU list since this cache has
// no background expiry, only a size cap.
type SegmentIndexCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	entries  map[graft.SegmentId]*list.Element
}

type segIdxEntry struct {
	id     graft.SegmentId
	frames []graft.FrameMeta
}

// NewSegmentIndexCache returns a cache holding up to capacity entries.
func NewSegmentIndexCache(capacity int) *SegmentIndexCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &SegmentIndexCache{
		capacity: capacity,
		ll:       list.New(),
		entries:  make(map[graft.SegmentId]*list.Element),
	}
}

// Get returns the cached frame index for id, promoting it to most-recently
// used.
func (c *SegmentIndexCache) Get(id graft.SegmentId) ([]graft.FrameMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*segIdxEntry).frames, true
}

// Put inserts or refreshes the frame index for id, evicting the least
// recently used entry if the cache is full.
func (c *SegmentIndexCache) Put(id graft.SegmentId, frames []graft.FrameMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		el.Value.(*segIdxEntry).frames = frames
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&segIdxEntry{id: id, frames: frames})
	c.entries[id] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*segIdxEntry).id)
	}
}

// Len reports the number of cached entries.
func (c *SegmentIndexCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
