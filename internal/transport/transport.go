// Package transport implements the per-interface Transport capability
// spec.md §4.5 describes: send/receive raw packets, classify them into
// probe/query/answer/legacy/local, maintain that interface's record cache
// and outbound history, and enforce destination/rate-limit policy.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 6762 §5 (transport), §10.1
// (cache-flush), §6.2 (rate limiting).
package transport

import (
	"context"
	"net"

	"github.com/joshuafuller/beacon/internal/cache"
	"github.com/joshuafuller/beacon/internal/rr"
)

// Kind classifies an inbound packet per spec.md §4.3.
type Kind int

const (
	KindQuery Kind = iota
	KindProbe
	KindAnswer
)

// Event is a classified inbound packet delivered to subscribers.
type Event struct {
	Kind       Kind
	Packet     *rr.Packet
	SourceAddr net.IP
	SourcePort int
	Legacy     bool // source port != 5353
	Local      bool // source address is one of this host's addresses
}

// Subscription is an opaque handle returned by Subscribe; Cancel detaches
// every listener registered under it, grounded in the teacher's
// EventEmitter "using(ctx)" pattern generalized into a typed handle.
type Subscription struct {
	cancel func()
}

// Cancel detaches this subscription's channel from the transport.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Transport is the capability the rest of the core consumes instead of
// touching sockets directly.
type Transport interface {
	// Bind joins the interface's multicast group exactly once, no matter
	// how many times Bind is called concurrently.
	Bind() error
	// Acquire/Release implement the reference-counted lifetime: the
	// transport shuts down once the last caller releases it.
	Acquire()
	Release()
	// Send transmits pkt. dest == nil means "the mDNS multicast group for
	// this transport's address family". Too-large packets are split and
	// resent automatically.
	Send(ctx context.Context, pkt *rr.Packet, dest net.Addr) error
	// Subscribe registers ch to receive every classified inbound event
	// until the returned Subscription is cancelled.
	Subscribe(ch chan<- *Event) *Subscription
	// Cache returns this transport's record cache.
	Cache() *cache.ExpiringRecordCollection
	// HasRecentlySent reports whether r (or an equivalent by NameHash) was
	// sent within fraction * TTL of now.
	HasRecentlySent(r *rr.Record, fraction float64) bool
	// Close shuts the transport down unconditionally, ignoring the
	// reference count.
	Close() error
}
