package resolver

import (
	"net"
	"testing"
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

const fullname = "Printer._ipp._tcp.local."

func TestResolverResolvesFromCache(t *testing.T) {
	mt := transport.NewMockTransport()
	mt.Cache().Add(&rr.Record{Name: fullname, Class: protocol.ClassIN, TTL: 120, Data: rr.SRVData{Priority: 0, Weight: 0, Port: 631, Target: "printer.local."}})
	mt.Cache().Add(&rr.Record{Name: fullname, Class: protocol.ClassIN, TTL: 4500, Data: rr.TXTData{Entries: []rr.TXTEntry{{Key: "txtvers", Value: []byte("1")}}}})
	mt.Cache().Add(&rr.Record{Name: "printer.local.", Class: protocol.ClassIN, TTL: 120, Data: rr.AData{IP: net.ParseIP("10.0.0.5")}})

	resolved := make(chan Service, 1)
	r := New(mt, fullname, Options{OnResolved: func(s Service) { resolved <- s }})
	r.Start()
	defer r.Stop()

	select {
	case s := <-resolved:
		if s.Target != "printer.local." || s.Port != 631 || len(s.Addrs) != 1 {
			t.Fatalf("unexpected resolved service: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected resolver to resolve from cache")
	}
}

func TestResolverClearsAddressesOnTargetChange(t *testing.T) {
	mt := transport.NewMockTransport()
	r := New(mt, fullname, Options{})
	r.Start()
	defer r.Stop()

	r.applyRecord(&rr.Record{Name: fullname, Class: protocol.ClassIN, TTL: 120, Data: rr.SRVData{Port: 631, Target: "a.local."}})
	r.applyRecord(&rr.Record{Name: "a.local.", Class: protocol.ClassIN, TTL: 120, Data: rr.AData{IP: net.ParseIP("10.0.0.1")}})
	if len(r.service.Addrs) != 1 {
		t.Fatalf("expected 1 address, got %d", len(r.service.Addrs))
	}

	r.applyRecord(&rr.Record{Name: fullname, Class: protocol.ClassIN, TTL: 120, Data: rr.SRVData{Port: 631, Target: "b.local."}})
	if len(r.service.Addrs) != 0 {
		t.Fatalf("expected addresses to clear on target change, got %d", len(r.service.Addrs))
	}
}

func TestResolverStopsWhenCacheExpiresSRV(t *testing.T) {
	mt := transport.NewMockTransport()
	downCalled := make(chan struct{}, 1)
	r := New(mt, fullname, Options{OnDown: func() { downCalled <- struct{}{} }})
	r.Start()

	srv := &rr.Record{Name: fullname, Class: protocol.ClassIN, TTL: 0, Data: rr.SRVData{Target: "a.local.", Port: 631}}
	mt.Cache().Add(srv) // TTL=0 expires in ~1s, driving HandleExpired via the cache's own OnExpire fan-out

	select {
	case <-downCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the cache's own expiry event to stop the resolver")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", r.State())
	}
}

func TestResolverStopsOnSRVExpiry(t *testing.T) {
	mt := transport.NewMockTransport()
	downCalled := make(chan struct{}, 1)
	r := New(mt, fullname, Options{OnDown: func() { downCalled <- struct{}{} }})
	r.Start()

	r.HandleExpired(&rr.Record{Name: fullname, Class: protocol.ClassIN, Data: rr.SRVData{Target: "a.local.", Port: 631}})

	select {
	case <-downCalled:
	case <-time.After(time.Second):
		t.Fatal("expected SRV expiry to stop the resolver")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %v", r.State())
	}
}
