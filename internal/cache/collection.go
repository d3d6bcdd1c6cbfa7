// Package cache implements RecordCollection, a hash-keyed set of resource
// records with set algebra, and ExpiringRecordCollection, which layers
// TTL-driven reissue and expiry timers on top of it.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 6762 §5.2 (TTL reissue), §10.1
// (cache-flush).
package cache

import (
	"sync"

	"github.com/joshuafuller/beacon/internal/rr"
)

// RecordCollection is a set of records keyed by Hash, grounded in the
// teacher's map-plus-RWMutex registry pattern (services-by-name there,
// records-by-hash here).
type RecordCollection struct {
	mu      sync.RWMutex
	records map[uint32]*rr.Record
}

// NewRecordCollection returns an empty collection.
func NewRecordCollection() *RecordCollection {
	return &RecordCollection{records: make(map[uint32]*rr.Record)}
}

// Add inserts r, returning false if a record with the same hash was
// already present (the collection is unchanged in that case).
func (c *RecordCollection) Add(r *rr.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := r.Hash()
	if _, ok := c.records[h]; ok {
		return false
	}
	c.records[h] = r
	return true
}

// Has reports whether a record with r's hash is present.
func (c *RecordCollection) Has(r *rr.Record) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.records[r.Hash()]
	return ok
}

// HasHash reports whether the exact hash value is present.
func (c *RecordCollection) HasHash(h uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.records[h]
	return ok
}

// Delete removes r's hash from the collection, if present.
func (c *RecordCollection) Delete(r *rr.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, r.Hash())
}

// Len returns the number of distinct hashes held.
func (c *RecordCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// All returns a snapshot slice of every record currently held.
func (c *RecordCollection) All() []*rr.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*rr.Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out
}

// Intersection returns a new collection holding records present in both c
// and other (by hash).
func (c *RecordCollection) Intersection(other *RecordCollection) *RecordCollection {
	ours := c.All()
	result := NewRecordCollection()
	for _, r := range ours {
		if other.Has(r) {
			result.Add(r)
		}
	}
	return result
}

// Difference returns a new collection holding records present in c but not
// in other.
func (c *RecordCollection) Difference(other *RecordCollection) *RecordCollection {
	ours := c.All()
	result := NewRecordCollection()
	for _, r := range ours {
		if !other.Has(r) {
			result.Add(r)
		}
	}
	return result
}

// Equals reports whether c and other hold exactly the same set of hashes.
func (c *RecordCollection) Equals(other *RecordCollection) bool {
	if c.Len() != other.Len() {
		return false
	}
	for _, r := range c.All() {
		if !other.Has(r) {
			return false
		}
	}
	return true
}

// GetConflicts returns every record in other that conflicts with some
// record in c, after first discarding records that appear in both sets
// exactly (by hash) — duplicated entries never count as conflicts.
func (c *RecordCollection) GetConflicts(other *RecordCollection) []*rr.Record {
	ours := c.All()
	theirs := other.Difference(c).All()

	var conflicts []*rr.Record
	for _, candidate := range theirs {
		for _, owned := range ours {
			if candidate.ConflictsWith(owned) {
				conflicts = append(conflicts, candidate)
				break
			}
		}
	}
	return conflicts
}
