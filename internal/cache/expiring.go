package cache

import (
	"math/rand"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/rr"
)

// reissueFractions are the four randomized points during a record's TTL
// (expressed as [lo, hi) fraction ranges) at which a reissue query should
// fire, per RFC 6762 §5.2.
var reissueFractions = [4][2]float64{
	{0.80, 0.82},
	{0.85, 0.87},
	{0.90, 0.92},
	{0.95, 0.97},
}

type trackedRecord struct {
	record     *rr.Record
	insertedAt time.Time
	ttl        time.Duration
	timers     []*time.Timer
}

func (t *trackedRecord) stopTimers() {
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
}

func (t *trackedRecord) elapsedFraction(now time.Time) float64 {
	if t.ttl <= 0 {
		return 1
	}
	return float64(now.Sub(t.insertedAt)) / float64(t.ttl)
}

// ExpiringRecordCollection tracks records with per-record reissue and
// expiry timers, grounded in the teacher's cooldown-expiry bookkeeping in
// internal/security/rate_limiter.go generalized from a single cooldown
// field into a small set of scheduled time.Timer callbacks per record.
//
// Reissue and expiry fire as a fan-out to every current subscriber (a
// query tracking known answers, a resolver tracking a service's pieces,
// and so on may all need the same event), not just a single constructor
// callback, per spec.md §4.4.
type ExpiringRecordCollection struct {
	mu      sync.Mutex
	tracked map[uint32]*trackedRecord
	now     func() time.Time

	subMu      sync.Mutex
	nextSubID  int
	reissueSub map[int]func(*rr.Record)
	expireSub  map[int]func(*rr.Record)

	afterFunc func(time.Duration, func()) *time.Timer
}

// NewExpiringRecordCollection returns a collection, optionally starting it
// with one reissue and one expiry subscriber. Either may be nil; more can
// be added later with OnReissue/OnExpire.
func NewExpiringRecordCollection(onReissue, onExpire func(*rr.Record)) *ExpiringRecordCollection {
	c := &ExpiringRecordCollection{
		tracked:    make(map[uint32]*trackedRecord),
		now:        time.Now,
		reissueSub: make(map[int]func(*rr.Record)),
		expireSub:  make(map[int]func(*rr.Record)),
		afterFunc:  func(d time.Duration, f func()) *time.Timer { return time.AfterFunc(d, f) },
	}
	if onReissue != nil {
		c.OnReissue(onReissue)
	}
	if onExpire != nil {
		c.OnExpire(onExpire)
	}
	return c
}

// OnReissue registers fn to be called at each of a record's four RFC 6762
// reissue points. The returned cancel func detaches it.
func (c *ExpiringRecordCollection) OnReissue(fn func(*rr.Record)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.reissueSub[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.reissueSub, id)
		c.subMu.Unlock()
	}
}

// OnExpire registers fn to be called when a tracked record's TTL elapses.
// The returned cancel func detaches it.
func (c *ExpiringRecordCollection) OnExpire(fn func(*rr.Record)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.expireSub[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.expireSub, id)
		c.subMu.Unlock()
	}
}

// Add inserts r and (re)schedules its timers. Re-adding a record already
// present refreshes its timers from now, per spec.md §4.4.
func (c *ExpiringRecordCollection) Add(r *rr.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := r.Hash()
	if existing, ok := c.tracked[h]; ok {
		existing.stopTimers()
	}

	now := c.now()
	entry := &trackedRecord{record: r, insertedAt: now, ttl: time.Duration(r.TTL) * time.Second}
	c.tracked[h] = entry

	if r.TTL == 0 {
		entry.timers = append(entry.timers, c.afterFunc(time.Second, func() { c.expire(h) }))
		return
	}

	for _, frac := range reissueFractions {
		delay := randomFractionDelay(entry.ttl, frac[0], frac[1])
		entry.timers = append(entry.timers, c.afterFunc(delay, func() { c.reissue(h) }))
	}
	entry.timers = append(entry.timers, c.afterFunc(entry.ttl, func() { c.expire(h) }))
}

func randomFractionDelay(ttl time.Duration, lo, hi float64) time.Duration {
	frac := lo + rand.Float64()*(hi-lo)
	return time.Duration(float64(ttl) * frac)
}

func (c *ExpiringRecordCollection) reissue(hash uint32) {
	c.mu.Lock()
	entry, ok := c.tracked[hash]
	c.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range c.reissueSubs() {
		fn(entry.record)
	}
}

func (c *ExpiringRecordCollection) expire(hash uint32) {
	c.mu.Lock()
	entry, ok := c.tracked[hash]
	if ok {
		delete(c.tracked, hash)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	entry.stopTimers()
	for _, fn := range c.expireSubs() {
		fn(entry.record)
	}
}

func (c *ExpiringRecordCollection) reissueSubs() []func(*rr.Record) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(*rr.Record), 0, len(c.reissueSub))
	for _, fn := range c.reissueSub {
		out = append(out, fn)
	}
	return out
}

func (c *ExpiringRecordCollection) expireSubs() []func(*rr.Record) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(*rr.Record), 0, len(c.expireSub))
	for _, fn := range c.expireSub {
		out = append(out, fn)
	}
	return out
}

// Has reports whether a record with r's hash is currently tracked.
func (c *ExpiringRecordCollection) Has(r *rr.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tracked[r.Hash()]
	return ok
}

// Delete cancels r's timers and removes it without firing onExpire.
func (c *ExpiringRecordCollection) Delete(r *rr.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.tracked[r.Hash()]; ok {
		entry.stopTimers()
		delete(c.tracked, r.Hash())
	}
}

// Len returns the number of tracked records.
func (c *ExpiringRecordCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracked)
}

// Find returns clones of every tracked record answering q whose remaining
// TTL fraction is at least cutoff (spec.md's default is 0.25).
func (c *ExpiringRecordCollection) Find(q *rr.Query, cutoff float64) []*rr.Record {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*rr.Record
	for _, entry := range c.tracked {
		if !entry.record.CanAnswer(q) {
			continue
		}
		if 1-entry.elapsedFraction(now) < cutoff {
			continue
		}
		out = append(out, entry.record.CloneWithElapsed(now.Sub(entry.insertedAt)))
	}
	return out
}

// GetAboveTTL returns clones of every tracked record whose remaining TTL
// fraction is at least cutoff, regardless of name/type.
func (c *ExpiringRecordCollection) GetAboveTTL(cutoff float64) []*rr.Record {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*rr.Record
	for _, entry := range c.tracked {
		if 1-entry.elapsedFraction(now) < cutoff {
			continue
		}
		out = append(out, entry.record.CloneWithElapsed(now.Sub(entry.insertedAt)))
	}
	return out
}

// FlushRelated schedules expiry (in one second, not synchronously, so the
// packet that carried r can still include its siblings) for every tracked
// record sharing r's NameHash that has been in the collection for at least
// one second — implementing the cache-flush bit while preserving
// same-packet siblings that just arrived.
func (c *ExpiringRecordCollection) FlushRelated(r *rr.Record) {
	now := c.now()
	targetHash := r.NameHash()

	c.mu.Lock()
	var toFlush []uint32
	for h, entry := range c.tracked {
		if entry.record.NameHash() != targetHash {
			continue
		}
		if now.Sub(entry.insertedAt) < time.Second {
			continue
		}
		toFlush = append(toFlush, h)
	}
	c.mu.Unlock()

	for _, h := range toFlush {
		h := h
		c.mu.Lock()
		entry, ok := c.tracked[h]
		if ok {
			entry.stopTimers()
			entry.timers = append(entry.timers, c.afterFunc(time.Second, func() { c.expire(h) }))
		}
		c.mu.Unlock()
	}
}
