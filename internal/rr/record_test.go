package rr

import (
	"net"
	"testing"
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
)

func aRecord(name string, ip string) *Record {
	return &Record{Name: name, Class: protocol.ClassIN, TTL: 120, Unique: true, Data: AData{IP: net.ParseIP(ip)}}
}

func TestHashCaseInsensitive(t *testing.T) {
	r1 := aRecord("Host.Local.", "1.2.3.4")
	r2 := aRecord("host.local.", "1.2.3.4")
	if r1.Hash() != r2.Hash() {
		t.Fatalf("hash should be case-insensitive: %d != %d", r1.Hash(), r2.Hash())
	}
}

func TestHashStableAcrossRuns(t *testing.T) {
	r := aRecord("host.local.", "1.2.3.4")
	h1 := r.Hash()
	h2 := r.Hash()
	if h1 != h2 {
		t.Fatalf("hash not stable: %d != %d", h1, h2)
	}
}

func TestConflictsWith(t *testing.T) {
	a := aRecord("host.local.", "1.1.1.1")
	b := aRecord("host.local.", "2.2.2.2")
	if !a.ConflictsWith(b) {
		t.Fatal("expected conflict: same name, same type, different rdata, both unique")
	}
	c := aRecord("host.local.", "1.1.1.1")
	if a.ConflictsWith(c) {
		t.Fatal("identical rdata should not conflict")
	}
}

func TestConflictsWithRequiresBothUnique(t *testing.T) {
	a := aRecord("host.local.", "1.1.1.1")
	b := aRecord("host.local.", "2.2.2.2")
	b.Unique = false
	if a.ConflictsWith(b) {
		t.Fatal("shared records never conflict")
	}
}

func TestCanAnswer(t *testing.T) {
	r := aRecord("Host.local.", "1.1.1.1")
	q := &Query{Name: "host.local.", QType: protocol.TypeA, QClass: protocol.ClassIN}
	if !r.CanAnswer(q) {
		t.Fatal("expected record to answer matching query")
	}
	qAny := &Query{Name: "host.local.", QType: protocol.TypeANY, QClass: protocol.ClassANY}
	if !r.CanAnswer(qAny) {
		t.Fatal("expected record to answer ANY/ANY query")
	}
	qWrongName := &Query{Name: "other.local.", QType: protocol.TypeA, QClass: protocol.ClassIN}
	if r.CanAnswer(qWrongName) {
		t.Fatal("expected record to not answer a different name")
	}
}

func TestCompareTiebreakSymmetry(t *testing.T) {
	a := aRecord("host.local.", "1.1.1.1")
	b := aRecord("host.local.", "2.2.2.2")
	if a.Compare(b) >= 0 {
		t.Fatal("expected a < b lexicographically")
	}
	if b.Compare(a) <= 0 {
		t.Fatal("expected b > a symmetrically")
	}
}

func TestCompareEqualRecordsAreEqual(t *testing.T) {
	a := aRecord("host.local.", "1.1.1.1")
	b := aRecord("host.local.", "1.1.1.1")
	if a.Compare(b) != 0 {
		t.Fatal("expected byte-identical rdata to compare equal")
	}
}

func TestCloneWithElapsedDecrementsTTL(t *testing.T) {
	r := aRecord("host.local.", "1.1.1.1")
	clone := r.CloneWithElapsed(30 * time.Second)
	if clone.TTL != 90 {
		t.Fatalf("TTL = %d, want 90", clone.TTL)
	}
	if r.TTL != 120 {
		t.Fatal("original record must not be mutated")
	}
}

func TestCloneWithElapsedFloorsAtZero(t *testing.T) {
	r := aRecord("host.local.", "1.1.1.1")
	clone := r.CloneWithElapsed(500 * time.Second)
	if clone.TTL != 0 {
		t.Fatalf("TTL = %d, want 0", clone.TTL)
	}
}

func TestTXTRoundTripViaRecord(t *testing.T) {
	txt := TXTData{Entries: []TXTEntry{{Key: "path", Value: []byte("/svc")}, {Key: "flag"}}}
	if got := txt.AsMap()["path"]; got != "/svc" {
		t.Fatalf("AsMap()[path] = %q", got)
	}
	if _, ok := txt.AsMap()["flag"]; !ok {
		t.Fatal("bare key should still appear in AsMap")
	}
}

func TestNSECBitmapRoundTrip(t *testing.T) {
	types := []protocol.Type{protocol.TypeA, protocol.TypeSRV, protocol.TypeTXT}
	bitmap := typeBitmap(types)
	got := typesFromBitmap(bitmap)
	want := map[protocol.Type]bool{protocol.TypeA: true, protocol.TypeSRV: true, protocol.TypeTXT: true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want types matching %v", got, want)
	}
	for _, g := range got {
		if !want[g] {
			t.Fatalf("unexpected type %v in bitmap round-trip", g)
		}
	}
}
