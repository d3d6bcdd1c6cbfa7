package cache

import (
	"net"
	"testing"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/rr"
)

func testRecord(name, ip string, unique bool) *rr.Record {
	return &rr.Record{Name: name, Class: protocol.ClassIN, TTL: 120, Unique: unique, Data: aData(ip)}
}

func aData(ip string) rr.RData {
	return rr.AData{IP: net.ParseIP(ip)}
}

func TestRecordCollectionAddIdempotent(t *testing.T) {
	c := NewRecordCollection()
	r := testRecord("host.local.", "1.1.1.1", true)
	if !c.Add(r) {
		t.Fatal("first Add should report newly added")
	}
	if c.Add(r) {
		t.Fatal("second Add of the same record should report no change")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestRecordCollectionSetAlgebra(t *testing.T) {
	a := NewRecordCollection()
	b := NewRecordCollection()
	shared := testRecord("shared.local.", "1.1.1.1", true)
	onlyA := testRecord("a.local.", "2.2.2.2", true)
	onlyB := testRecord("b.local.", "3.3.3.3", true)

	a.Add(shared)
	a.Add(onlyA)
	b.Add(shared)
	b.Add(onlyB)

	if a.Intersection(b).Len() != 1 {
		t.Fatal("expected exactly the shared record in the intersection")
	}
	if a.Difference(b).Len() != 1 {
		t.Fatal("expected exactly onlyA in the difference")
	}
	if a.Equals(b) {
		t.Fatal("sets with different members must not be equal")
	}
}

func TestGetConflictsExcludesExactIntersection(t *testing.T) {
	ours := NewRecordCollection()
	theirs := NewRecordCollection()

	shared := testRecord("host.local.", "1.1.1.1", true)
	conflicting := testRecord("host.local.", "2.2.2.2", true)

	ours.Add(shared)
	theirs.Add(shared)
	theirs.Add(conflicting)

	conflicts := ours.GetConflicts(theirs)
	if len(conflicts) != 1 || conflicts[0].Hash() != conflicting.Hash() {
		t.Fatalf("expected exactly the conflicting record, got %v", conflicts)
	}
}

func TestGetConflictsEmptyWhenNoOverlap(t *testing.T) {
	ours := NewRecordCollection()
	theirs := NewRecordCollection()
	ours.Add(testRecord("host.local.", "1.1.1.1", false))
	theirs.Add(testRecord("host.local.", "2.2.2.2", false))

	if conflicts := ours.GetConflicts(theirs); len(conflicts) != 0 {
		t.Fatalf("shared (non-unique) records must never conflict, got %v", conflicts)
	}
}
