package probe

import (
	"net"
	"testing"
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

func aHostRecord(ip string) *rr.Record {
	return &rr.Record{Name: "host.local.", Class: protocol.ClassIN, TTL: 120, Unique: true, Data: rr.AData{IP: net.ParseIP(ip)}}
}

func TestShortCircuitSucceedsWhenAlreadyCached(t *testing.T) {
	mt := transport.NewMockTransport()
	rec := aHostRecord("10.0.0.1")
	mt.Cache().Add(rec)

	ok, conflict := ShortCircuit(mt, []*rr.Record{rec})
	if !ok || conflict != nil {
		t.Fatalf("expected short circuit success, got ok=%v conflict=%v", ok, conflict)
	}
}

func TestShortCircuitFailsOnConflict(t *testing.T) {
	mt := transport.NewMockTransport()
	mt.Cache().Add(aHostRecord("10.0.0.1"))

	ok, conflict := ShortCircuit(mt, []*rr.Record{aHostRecord("10.0.0.2")})
	if ok || conflict == nil {
		t.Fatal("expected short circuit to report a conflict")
	}
}

func TestProbeCompletesAfterThreeSendsWithNoConflict(t *testing.T) {
	mt := transport.NewMockTransport()
	done := make(chan Result, 1)
	p := New(mt, []*rr.Record{aHostRecord("10.0.0.1")}, nil, Options{
		OnComplete: func(r Result) { done <- r },
	})
	go p.Run()

	select {
	case r := <-done:
		if r.Conflict || r.Early {
			t.Fatalf("expected a clean completion, got %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("probe never completed")
	}
	if len(mt.Sent()) != 3 {
		t.Fatalf("expected 3 probe sends, got %d", len(mt.Sent()))
	}
}

func TestProbeFiresConflictOnRealCollision(t *testing.T) {
	mt := transport.NewMockTransport()
	conflicted := make(chan struct{}, 1)
	p := New(mt, []*rr.Record{aHostRecord("10.0.0.1")}, nil, Options{
		OnConflict: func() { conflicted <- struct{}{} },
	})
	go p.Run()

	time.Sleep(50 * time.Millisecond)
	mt.Inject(&transport.Event{
		Kind:   transport.KindAnswer,
		Packet: &rr.Packet{Header: rr.Header{QR: true}, Answers: []*rr.Record{aHostRecord("10.0.0.2")}},
	})

	select {
	case <-conflicted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a conflict to fire")
	}
}

func TestProbeIgnoresConflictFromBridgeableRecord(t *testing.T) {
	mt := transport.NewMockTransport()
	other := aHostRecord("10.0.0.2")
	conflicted := make(chan struct{}, 1)
	p := New(mt, []*rr.Record{aHostRecord("10.0.0.1")}, []*rr.Record{other}, Options{
		OnConflict: func() { conflicted <- struct{}{} },
	})
	go p.Run()

	time.Sleep(50 * time.Millisecond)
	mt.Inject(&transport.Event{
		Kind:   transport.KindAnswer,
		Packet: &rr.Packet{Header: rr.Header{QR: true}, Answers: []*rr.Record{other}},
	})

	select {
	case <-conflicted:
		t.Fatal("a bridged record must not count as a conflict")
	case <-time.After(800 * time.Millisecond):
	}
}

func TestTiebreakLosesWhenOtherIsLexicographicallyLater(t *testing.T) {
	mine := []*rr.Record{aHostRecord("10.0.0.1")}
	other := []*rr.Record{aHostRecord("10.0.0.2")}
	if !tiebreakLoses(mine, other) {
		t.Fatal("expected the lower address to lose the tiebreak")
	}
	if tiebreakLoses(other, mine) {
		t.Fatal("expected the higher address to win the tiebreak")
	}
}
