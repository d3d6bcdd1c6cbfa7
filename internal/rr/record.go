// Package rr implements resource records, query records, the deterministic
// hashing and conflict/equality algebra spec.md §4.2 describes, and the
// packet envelope (§4.3) that carries them.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 1035 §3.2, RFC 6762 §6, §8.2.
package rr

import (
	"bytes"
	"strings"
	"time"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/wire"
)

// Record is a resource record: a name, class, TTL, the unique (cache-flush)
// bit, and its type-specific payload.
type Record struct {
	Name       string
	Class      protocol.Class
	TTL        uint32
	Unique     bool
	Data       RData
	Additional []*Record // suggested companion records, e.g. SRV -> A/AAAA
}

// NameHash is H(name, type, class): two records share identity iff their
// NameHash matches.
func NameHash(name string, t protocol.Type, class protocol.Class) uint32 {
	return canonicalHash(map[string]interface{}{
		"name": strings.ToLower(strings.TrimSuffix(name, ".")),
		"type": uint16(t), "class": uint16(class & protocol.ClassMask),
	})
}

// NameHash returns this record's identity hash.
func (r *Record) NameHash() uint32 { return NameHash(r.Name, r.Data.Type(), r.Class) }

// RDataHash returns the hash of this record's payload alone.
func (r *Record) RDataHash() uint32 { return r.Data.HashRData() }

// Hash combines NameHash and RDataHash; two records are equal iff Hash
// matches.
func (r *Record) Hash() uint32 {
	return canonicalHash(map[string]interface{}{"namehash": r.NameHash(), "rdatahash": r.RDataHash()})
}

// Type returns the record's wire type number.
func (r *Record) Type() protocol.Type { return r.Data.Type() }

// ConflictsWith reports whether r and other are both unique, share a
// NameHash, but differ in RDataHash.
func (r *Record) ConflictsWith(other *Record) bool {
	return r.Unique && other.Unique && r.NameHash() == other.NameHash() && r.RDataHash() != other.RDataHash()
}

// CanAnswer reports whether r is a valid answer to q.
func (r *Record) CanAnswer(q *Query) bool {
	typeOK := q.QType == protocol.TypeANY || q.QType == r.Data.Type()
	classOK := q.QClass == protocol.ClassANY || (q.QClass&protocol.ClassMask) == (r.Class&protocol.ClassMask)
	nameOK := strings.EqualFold(strings.TrimSuffix(q.Name, "."), strings.TrimSuffix(r.Name, "."))
	return typeOK && classOK && nameOK
}

// rdataBytes renders r's rdata without name compression, for use by
// Compare where byte-identical, context-free output is required.
func rdataBytes(r *Record) []byte {
	w := wire.NewRawWriteBuffer()
	_ = r.Data.WriteTo(w)
	return w.Bytes()
}

// Compare implements the RFC 6762 §8.2 simultaneous-probe tiebreak: a
// lexicographic order over (class, type, rdata-bytes) with the cache-flush
// bit cleared on both sides. It returns <0 if r sorts before other, >0 if
// after, 0 if identical under this ordering.
func (r *Record) Compare(other *Record) int {
	ac := uint16(r.Class) & uint16(protocol.ClassMask)
	bc := uint16(other.Class) & uint16(protocol.ClassMask)
	if ac != bc {
		if ac < bc {
			return -1
		}
		return 1
	}
	at, bt := uint16(r.Data.Type()), uint16(other.Data.Type())
	if at != bt {
		if at < bt {
			return -1
		}
		return 1
	}
	return bytes.Compare(rdataBytes(r), rdataBytes(other))
}

// CloneWithElapsed returns a shallow copy of r with TTL reduced by the
// whole seconds in elapsed, floored at zero.
func (r *Record) CloneWithElapsed(elapsed time.Duration) *Record {
	clone := *r
	dec := uint32(elapsed / time.Second)
	if dec >= clone.TTL {
		clone.TTL = 0
	} else {
		clone.TTL -= dec
	}
	return &clone
}

// Query is a question: {name, qtype, qclass, QU-bit}. It hashes like a
// record but without rdata.
type Query struct {
	Name   string
	QType  protocol.Type
	QClass protocol.Class
	QU     bool
}

// NameHash returns the identity hash this query shares with any record
// capable of answering it (ignoring QU/QM, which is transport-scoped).
func (q *Query) NameHash() uint32 { return NameHash(q.Name, q.QType, q.QClass) }

// Equal reports whether two queries ask the same question, ignoring the
// QU/QM bit.
func (q *Query) Equal(other *Query) bool {
	return q.NameHash() == other.NameHash()
}
