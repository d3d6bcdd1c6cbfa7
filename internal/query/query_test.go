package query

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

func aQuestion(name string) *rr.Query {
	return &rr.Query{Name: name, QType: protocol.TypeA, QClass: protocol.ClassIN}
}

func aRecord(name string) *rr.Record {
	return &rr.Record{Name: name, Class: protocol.ClassIN, TTL: 120, Unique: true, Data: rr.AData{IP: net.ParseIP("10.0.0.5")}}
}

func TestQuerySendsInitialPacket(t *testing.T) {
	mt := transport.NewMockTransport()
	q := New(mt, []*rr.Query{aQuestion("host.local.")}, Options{Continuous: true})
	q.Start()
	defer q.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(mt.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(mt.Sent()) == 0 {
		t.Fatal("expected at least one packet to be sent")
	}
}

func TestQueryStopsOnAnswerWhenNotContinuous(t *testing.T) {
	mt := transport.NewMockTransport()
	var mu sync.Mutex
	var got []AnswerEvent
	q := New(mt, []*rr.Query{aQuestion("host.local.")}, Options{
		Continuous: false,
		OnAnswer: func(ev AnswerEvent) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		},
	})
	q.Start()

	rec := aRecord("host.local.")
	mt.Inject(&transport.Event{Kind: transport.KindAnswer, Packet: &rr.Packet{Header: rr.Header{QR: true}, Answers: []*rr.Record{rec}}})

	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected query to stop after first answer")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 answer event, got %d", len(got))
	}
}

func TestQueryConsultsCacheOnStart(t *testing.T) {
	mt := transport.NewMockTransport()
	rec := aRecord("host.local.")
	mt.Cache().Add(rec)

	var called bool
	q := New(mt, []*rr.Query{aQuestion("host.local.")}, Options{
		Continuous: true,
		OnAnswer:   func(ev AnswerEvent) { called = true },
	})
	q.Start()
	defer q.Stop()

	time.Sleep(50 * time.Millisecond)
	if !called {
		t.Fatal("expected cached answer to be emitted on start")
	}
}

func TestRemainingFractionGatesAtHalfOriginalTTL(t *testing.T) {
	now := time.Now()
	fresh := &knownAnswer{record: aRecord("host.local."), originalTTL: 120, learnedAt: now}
	if got := remainingFraction(fresh, now); got < 0.99 {
		t.Fatalf("expected ~1.0 fraction immediately after learning, got %v", got)
	}

	stale := &knownAnswer{record: aRecord("host.local."), originalTTL: 120, learnedAt: now.Add(-100 * time.Second)}
	if got := remainingFraction(stale, now); got >= knownAnswerMin {
		t.Fatalf("expected fraction below 0.5 after 100s of a 120s TTL, got %v", got)
	}

	expired := &knownAnswer{record: aRecord("host.local."), originalTTL: 0, learnedAt: now}
	if got := remainingFraction(expired, now); got != 0 {
		t.Fatalf("expected 0 fraction for a zero-TTL known answer, got %v", got)
	}
}

func TestQueryPrunesKnownAnswerOnCacheExpiry(t *testing.T) {
	mt := transport.NewMockTransport()
	q := New(mt, []*rr.Query{aQuestion("host.local.")}, Options{Continuous: true})
	q.Start()
	defer q.Stop()

	rec := aRecord("host.local.")
	rec.Unique = false
	rec.TTL = 0 // expires in ~1s, per ExpiringRecordCollection.Add
	q.mu.Lock()
	q.knownAnswers[rec.Hash()] = &knownAnswer{record: rec, originalTTL: rec.TTL, learnedAt: time.Now()}
	q.mu.Unlock()

	mt.Cache().Add(rec)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		_, stillKnown := q.knownAnswers[rec.Hash()]
		q.mu.Unlock()
		if !stillKnown {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected known answer to be pruned once the cache expired it")
}

func TestQueryEmptyQuestionsStopsImmediately(t *testing.T) {
	mt := transport.NewMockTransport()
	rec := aRecord("host.local.")
	mt.Cache().Add(rec)

	q := New(mt, []*rr.Query{aQuestion("host.local.")}, Options{Continuous: true})
	q.Start()

	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected query with a fully-satisfied question set to stop immediately")
	}
}
