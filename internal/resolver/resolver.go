// Package resolver assembles a full Service description (SRV target/port,
// TXT metadata, and at least one address) from an instance's fullname, per
// spec.md §4.9.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 6763 §6 (DNS-SD TXT), §7 (service
// instance resolution).
package resolver

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/query"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

const (
	hardTimeout    = protocol.ResolveTimeout
	reissueBatch   = time.Second
)

// State is one node of the resolver's state machine.
type State int

const (
	StateUnresolved State = iota
	StateResolved
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolved:
		return "resolved"
	default:
		return "stopped"
	}
}

// Service is the fully (or partially) assembled service instance.
type Service struct {
	Fullname string
	Target   string
	Port     uint16
	TXT      map[string]string
	TXTRaw   map[string][]byte
	Addrs    []net.IP
}

func (s *Service) complete() bool {
	return s.Target != "" && s.Port != 0 && len(s.Addrs) > 0
}

// Resolver drives a Service to the resolved state by querying for its
// missing SRV/TXT/address pieces.
type Resolver struct {
	tr       transport.Transport
	fullname string

	mu      sync.Mutex
	state   State
	service Service
	queries []*query.Query

	onResolved func(Service)
	onUpdated  func(Service)
	onDown     func()

	reissueMu      sync.Mutex
	reissuePending bool
	reissueTimer   *time.Timer

	cancelCacheReissue func()
	cancelCacheExpire  func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures resolver callbacks.
type Options struct {
	OnResolved func(Service)
	OnUpdated  func(Service)
	OnDown     func()
}

// New constructs a Resolver for fullname (Instance._service._proto.domain.).
func New(tr transport.Transport, fullname string, opts Options) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		tr:         tr,
		fullname:   fullname,
		state:      StateUnresolved,
		service:    Service{Fullname: fullname, TXT: map[string]string{}, TXTRaw: map[string][]byte{}},
		onResolved: opts.OnResolved,
		onUpdated:  opts.OnUpdated,
		onDown:     opts.OnDown,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start begins resolution: arms the 10-second hard timeout, checks the
// cache for pieces already known, and starts continuous cache-ignoring
// queries for whatever is still missing.
func (r *Resolver) Start() {
	time.AfterFunc(hardTimeout, func() {
		if r.State() == StateUnresolved {
			r.Stop()
		}
	})
	cache := r.tr.Cache()
	r.cancelCacheReissue = cache.OnReissue(r.HandleReissue)
	r.cancelCacheExpire = cache.OnExpire(r.HandleExpired)
	r.consultCache()
	r.startMissingQueries()
}

func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// consultCache applies SRV/TXT records (directly named for this instance)
// before address records, since an address is only relevant once the SRV
// target is known.
func (r *Resolver) consultCache() {
	c := r.tr.Cache()
	all := c.GetAboveTTL(0)
	full := strings.TrimSuffix(r.fullname, ".")
	for _, rec := range all {
		if strings.EqualFold(strings.TrimSuffix(rec.Name, "."), full) {
			r.applyRecord(rec)
		}
	}
	for _, rec := range all {
		name := strings.TrimSuffix(rec.Name, ".")
		if strings.EqualFold(name, full) {
			continue
		}
		if r.relevant(rec) {
			r.applyRecord(rec)
		}
	}
}

func (r *Resolver) relevant(rec *rr.Record) bool {
	name := strings.TrimSuffix(rec.Name, ".")
	full := strings.TrimSuffix(r.fullname, ".")
	if strings.EqualFold(name, full) {
		return true
	}
	r.mu.Lock()
	target := r.service.Target
	r.mu.Unlock()
	return target != "" && strings.EqualFold(name, strings.TrimSuffix(target, "."))
}

func (r *Resolver) startMissingQueries() {
	r.mu.Lock()
	missing := r.missingQuestionsLocked()
	r.mu.Unlock()

	for _, q := range missing {
		question := q
		qu := query.New(r.tr, []*rr.Query{question}, query.Options{
			Continuous:  true,
			IgnoreCache: true,
			OnAnswer:    func(ev query.AnswerEvent) { r.handleAnswer(ev) },
		})
		qu.Start()
		r.mu.Lock()
		r.queries = append(r.queries, qu)
		r.mu.Unlock()
	}
}

func (r *Resolver) missingQuestionsLocked() []*rr.Query {
	var out []*rr.Query
	if r.service.Target == "" {
		out = append(out, &rr.Query{Name: r.fullname, QType: protocol.TypeSRV, QClass: protocol.ClassIN})
	}
	if r.service.TXTRaw == nil || len(r.service.TXTRaw) == 0 {
		out = append(out, &rr.Query{Name: r.fullname, QType: protocol.TypeTXT, QClass: protocol.ClassIN})
	}
	if len(r.service.Addrs) == 0 && r.service.Target != "" {
		out = append(out, &rr.Query{Name: r.service.Target, QType: protocol.TypeA, QClass: protocol.ClassIN})
		out = append(out, &rr.Query{Name: r.service.Target, QType: protocol.TypeAAAA, QClass: protocol.ClassIN})
	}
	return out
}

func (r *Resolver) handleAnswer(ev query.AnswerEvent) {
	if ev.Record.TTL == 0 {
		return
	}
	r.applyRecord(ev.Record)
}

// applyRecord folds one record into the Service and clears the address
// list if SRV.target changed. It handles a single record; the SRV/TXT
// before A/AAAA ordering of cached records is done by consultCache.
func (r *Resolver) applyRecord(rec *rr.Record) {
	r.mu.Lock()
	wasComplete := r.service.complete()
	targetChanged := false

	switch data := rec.Data.(type) {
	case rr.SRVData:
		if r.service.Target != "" && r.service.Target != data.Target {
			targetChanged = true
			r.service.Addrs = nil
		}
		r.service.Target = data.Target
		r.service.Port = data.Port
	case rr.TXTData:
		r.service.TXT = data.AsMap()
		r.service.TXTRaw = data.AsRawMap()
	case rr.AData:
		r.service.Addrs = appendAddr(r.service.Addrs, data.IP)
	case rr.AAAAData:
		r.service.Addrs = appendAddr(r.service.Addrs, data.IP)
	}

	nowComplete := r.service.complete()
	snapshot := r.service
	state := r.state
	r.mu.Unlock()

	if targetChanged {
		r.startMissingQueries()
	}

	if state == StateStopped {
		return
	}

	if nowComplete && state == StateUnresolved {
		r.mu.Lock()
		r.state = StateResolved
		r.mu.Unlock()
		if r.onResolved != nil {
			r.onResolved(snapshot)
		}
		return
	}
	if wasComplete && nowComplete && r.onUpdated != nil {
		r.onUpdated(snapshot)
	}
}

func appendAddr(addrs []net.IP, ip net.IP) []net.IP {
	for _, existing := range addrs {
		if existing.Equal(ip) {
			return addrs
		}
	}
	return append(addrs, ip)
}

// HandleReissue batches reissue notices for 1s and re-queries once with a
// one-shot, cache-ignoring query.
func (r *Resolver) HandleReissue(rec *rr.Record) {
	if !r.relevant(rec) {
		return
	}
	r.reissueMu.Lock()
	defer r.reissueMu.Unlock()
	if r.reissuePending {
		return
	}
	r.reissuePending = true
	r.reissueTimer = time.AfterFunc(reissueBatch, r.sendReissueQuery)
}

func (r *Resolver) sendReissueQuery() {
	r.reissueMu.Lock()
	r.reissuePending = false
	r.reissueMu.Unlock()

	r.mu.Lock()
	qs := r.missingQuestionsLocked()
	if len(qs) == 0 {
		qs = []*rr.Query{{Name: r.fullname, QType: protocol.TypeANY, QClass: protocol.ClassIN}}
	}
	r.mu.Unlock()

	qu := query.New(r.tr, qs, query.Options{
		Continuous:  false,
		IgnoreCache: true,
		OnAnswer:    func(ev query.AnswerEvent) { r.handleAnswer(ev) },
	})
	qu.Start()
}

// HandleExpired applies cache-expiry demotion rules: SRV or PTR expiry
// stops the resolver; A/AAAA expiry removes that address and demotes to
// unresolved if the list empties; TXT expiry clears txt/txtRaw and
// demotes.
func (r *Resolver) HandleExpired(rec *rr.Record) {
	if !r.relevant(rec) {
		return
	}
	switch data := rec.Data.(type) {
	case rr.SRVData:
		_ = data
		r.Stop()
	case rr.PTRData:
		_ = data
		r.Stop()
	case rr.AData:
		r.removeAddrAndDemote(data.IP)
	case rr.AAAAData:
		r.removeAddrAndDemote(data.IP)
	case rr.TXTData:
		r.mu.Lock()
		r.service.TXT = map[string]string{}
		r.service.TXTRaw = map[string][]byte{}
		if r.state == StateResolved {
			r.state = StateUnresolved
		}
		r.mu.Unlock()
		r.startMissingQueries()
	}
}

func (r *Resolver) removeAddrAndDemote(ip net.IP) {
	r.mu.Lock()
	kept := r.service.Addrs[:0]
	for _, existing := range r.service.Addrs {
		if !existing.Equal(ip) {
			kept = append(kept, existing)
		}
	}
	r.service.Addrs = kept
	empty := len(r.service.Addrs) == 0
	if empty && r.state == StateResolved {
		r.state = StateUnresolved
	}
	r.mu.Unlock()
	if empty {
		r.startMissingQueries()
	}
}

// Stop transitions to stopped, removes listeners, and emits down.
func (r *Resolver) Stop() {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	r.state = StateStopped
	queries := r.queries
	r.queries = nil
	r.mu.Unlock()

	for _, q := range queries {
		q.Stop()
	}
	if r.cancelCacheReissue != nil {
		r.cancelCacheReissue()
	}
	if r.cancelCacheExpire != nil {
		r.cancelCacheExpire()
	}
	r.cancel()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	if r.onDown != nil {
		r.onDown()
	}
}

// Done returns a channel closed once the resolver stops.
func (r *Resolver) Done() <-chan struct{} { return r.done }
