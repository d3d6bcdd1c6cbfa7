// Package querier is the public façade for discovering mDNS/DNS-SD service
// instances: Browse starts a continuous PTR query for a service type, and
// Resolve assembles a full Service for a discovered instance name.
package querier

import (
	"sync"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/query"
	"github.com/joshuafuller/beacon/internal/resolver"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

// Instance is a discovered (but not yet resolved) service instance.
type Instance struct {
	Fullname string
	TTL      uint32
}

// Browser discovers service instances of a given type by continuously
// querying PTR records.
type Browser struct {
	tr   transport.Transport
	q    *query.Query
	mu   sync.Mutex
	seen map[string]bool

	onAdd    func(Instance)
	onRemove func(Instance)
}

// BrowseOptions configures a Browser.
type BrowseOptions struct {
	OnAdd    func(Instance)
	OnRemove func(Instance)
}

// Browse starts browsing serviceType (e.g. "_ipp._tcp") in domain (default
// "local") over tr.
func Browse(tr transport.Transport, serviceType, domain string, opts BrowseOptions) *Browser {
	if domain == "" {
		domain = "local"
	}
	typeFQDN := serviceType + "." + domain + "."

	b := &Browser{tr: tr, seen: make(map[string]bool), onAdd: opts.OnAdd, onRemove: opts.OnRemove}
	b.q = query.New(tr, []*rr.Query{{Name: typeFQDN, QType: protocol.TypePTR, QClass: protocol.ClassIN}}, query.Options{
		Continuous: true,
		OnAnswer:   b.handleAnswer,
	})
	b.q.Start()
	return b
}

func (b *Browser) handleAnswer(ev query.AnswerEvent) {
	ptr, ok := ev.Record.Data.(rr.PTRData)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Record.TTL == 0 {
		if b.seen[ptr.Target] {
			delete(b.seen, ptr.Target)
			if b.onRemove != nil {
				b.onRemove(Instance{Fullname: ptr.Target})
			}
		}
		return
	}

	if !b.seen[ptr.Target] {
		b.seen[ptr.Target] = true
		if b.onAdd != nil {
			b.onAdd(Instance{Fullname: ptr.Target, TTL: ev.Record.TTL})
		}
	}
}

// Stop ends the browse query.
func (b *Browser) Stop() { b.q.Stop() }

// Service mirrors resolver.Service, the publicly consumable shape of a
// fully resolved instance.
type Service = resolver.Service

// Resolver resolves a single discovered instance name into a full Service.
type Resolver struct {
	r *resolver.Resolver
}

// ResolveOptions configures a Resolver.
type ResolveOptions struct {
	OnResolved func(Service)
	OnUpdated  func(Service)
	OnDown     func()
}

// Resolve begins resolving fullname over tr.
func Resolve(tr transport.Transport, fullname string, opts ResolveOptions) *Resolver {
	r := resolver.New(tr, fullname, resolver.Options{
		OnResolved: opts.OnResolved,
		OnUpdated:  opts.OnUpdated,
		OnDown:     opts.OnDown,
	})
	r.Start()
	return &Resolver{r: r}
}

// Stop ends resolution.
func (r *Resolver) Stop() { r.r.Stop() }
