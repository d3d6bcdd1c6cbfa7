package rr

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/wire"
)

// RData is implemented by every supported record's type-specific payload.
// Variants are a closed set (A, AAAA, PTR, SRV, TXT, NSEC, Unknown) that
// together stand in for the sum type Go's type system doesn't have
// natively; callers type-switch on the concrete type when they need
// type-specific fields.
type RData interface {
	Type() protocol.Type
	WriteTo(w *wire.Buffer) error
	HashRData() uint32
	String() string
}

// AData is the 4-byte IPv4 address record.
type AData struct{ IP net.IP }

func (d AData) Type() protocol.Type { return protocol.TypeA }

func (d AData) WriteTo(w *wire.Buffer) error {
	ip4 := d.IP.To4()
	if ip4 == nil {
		return &errors.MalformedRecordError{RecordType: "A", Message: "address is not IPv4"}
	}
	w.WriteBytes(ip4)
	return nil
}

func (d AData) HashRData() uint32 {
	return canonicalHash(map[string]interface{}{"type": "A", "addr": strings.ToLower(d.IP.String())})
}

func (d AData) String() string { return d.IP.String() }

// AAAAData is the 16-byte IPv6 address record. Only link-local
// (fe80::/10) addresses are ever advertised by this core.
type AAAAData struct{ IP net.IP }

func (d AAAAData) Type() protocol.Type { return protocol.TypeAAAA }

func (d AAAAData) WriteTo(w *wire.Buffer) error {
	ip16 := d.IP.To16()
	if ip16 == nil || d.IP.To4() != nil {
		return &errors.MalformedRecordError{RecordType: "AAAA", Message: "address is not IPv6"}
	}
	w.WriteBytes(ip16)
	return nil
}

func (d AAAAData) HashRData() uint32 {
	return canonicalHash(map[string]interface{}{"type": "AAAA", "addr": strings.ToLower(d.IP.String())})
}

func (d AAAAData) String() string { return d.IP.String() }

// IsLinkLocal reports whether this AAAA's address is fe80::/10, the only
// IPv6 scope this core advertises.
func (d AAAAData) IsLinkLocal() bool { return d.IP.IsLinkLocalUnicast() }

// PTRData points at another FQDN (service enumeration and registration
// pointers).
type PTRData struct{ Target string }

func (d PTRData) Type() protocol.Type { return protocol.TypePTR }

func (d PTRData) WriteTo(w *wire.Buffer) error {
	return w.WriteName(d.Target)
}

func (d PTRData) HashRData() uint32 {
	return canonicalHash(map[string]interface{}{"type": "PTR", "target": strings.ToLower(d.Target)})
}

func (d PTRData) String() string { return d.Target }

// SRVData carries the service instance's priority/weight/port and target
// hostname, per RFC 2782.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (d SRVData) Type() protocol.Type { return protocol.TypeSRV }

func (d SRVData) WriteTo(w *wire.Buffer) error {
	w.WriteUint16(d.Priority)
	w.WriteUint16(d.Weight)
	w.WriteUint16(d.Port)
	return w.WriteName(d.Target)
}

func (d SRVData) HashRData() uint32 {
	return canonicalHash(map[string]interface{}{
		"type": "SRV", "priority": d.Priority, "weight": d.Weight,
		"port": d.Port, "target": strings.ToLower(d.Target),
	})
}

func (d SRVData) String() string {
	return fmt.Sprintf("%d %d %d %s", d.Priority, d.Weight, d.Port, d.Target)
}

// TXTEntry is one key[=value] entry; Value is nil for a bare key.
type TXTEntry struct {
	Key   string
	Value []byte
}

// TXTData is the ordered list of key/value pairs a service instance
// advertises. Both raw (byte-accurate) and decoded forms are derived from
// the same entry list on demand.
type TXTData struct{ Entries []TXTEntry }

func (d TXTData) Type() protocol.Type { return protocol.TypeTXT }

func (d TXTData) WriteTo(w *wire.Buffer) error {
	if len(d.Entries) == 0 {
		w.WriteUint8(0)
		return nil
	}
	for _, e := range d.Entries {
		raw := e.Key
		if e.Value != nil {
			raw = e.Key + "=" + string(e.Value)
		}
		if len(raw) > 255 {
			return &errors.MalformedRecordError{RecordType: "TXT", Message: "entry exceeds 255 bytes"}
		}
		w.WriteUint8(uint8(len(raw)))
		w.WriteBytes([]byte(raw))
	}
	return nil
}

func (d TXTData) HashRData() uint32 {
	normalized := make([]map[string]interface{}, 0, len(d.Entries))
	for _, e := range d.Entries {
		normalized = append(normalized, map[string]interface{}{
			"key": strings.ToLower(e.Key), "value": e.Value,
		})
	}
	return canonicalHash(map[string]interface{}{"type": "TXT", "entries": normalized})
}

func (d TXTData) String() string {
	parts := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		if e.Value == nil {
			parts = append(parts, e.Key)
			continue
		}
		parts = append(parts, e.Key+"="+string(e.Value))
	}
	return strings.Join(parts, " ")
}

// AsMap returns the decoded string-valued form, keyed by lowercased key.
func (d TXTData) AsMap() map[string]string {
	m := make(map[string]string, len(d.Entries))
	for _, e := range d.Entries {
		m[strings.ToLower(e.Key)] = string(e.Value)
	}
	return m
}

// AsRawMap returns the byte-valued form, keyed by lowercased key.
func (d TXTData) AsRawMap() map[string][]byte {
	m := make(map[string][]byte, len(d.Entries))
	for _, e := range d.Entries {
		m[strings.ToLower(e.Key)] = e.Value
	}
	return m
}

// NSECData is the restricted negative-response form this core emits: a
// next-domain-name field (written as the record's own name, per the
// compatibility behaviour spec.md's design notes call out) plus a single
// window-block-0 type bitmap.
type NSECData struct {
	NextName string
	Types    []protocol.Type
}

func (d NSECData) Type() protocol.Type { return protocol.TypeNSEC }

func (d NSECData) WriteTo(w *wire.Buffer) error {
	if err := w.WriteName(d.NextName); err != nil {
		return err
	}
	bitmap := typeBitmap(d.Types)
	w.WriteUint8(0) // window block number
	w.WriteUint8(uint8(len(bitmap)))
	w.WriteBytes(bitmap)
	return nil
}

func (d NSECData) HashRData() uint32 {
	sorted := append([]protocol.Type(nil), d.Types...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return canonicalHash(map[string]interface{}{
		"type": "NSEC", "next": strings.ToLower(d.NextName), "types": sorted,
	})
}

func (d NSECData) String() string {
	parts := make([]string, 0, len(d.Types))
	for _, t := range d.Types {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ",")
}

// typeBitmap encodes type numbers (all <= 255, the restricted form this
// core supports) into a single window-0 bitmap, bit 6 of byte 0
// corresponding to type 1 per RFC 4034 §4.1.2.
func typeBitmap(types []protocol.Type) []byte {
	if len(types) == 0 {
		return nil
	}
	maxType := uint16(0)
	for _, t := range types {
		if uint16(t) > maxType {
			maxType = uint16(t)
		}
	}
	bitmap := make([]byte, maxType/8+1)
	for _, t := range types {
		n := uint16(t)
		bitmap[n/8] |= 1 << (7 - n%8)
	}
	return bitmap
}

func typesFromBitmap(bitmap []byte) []protocol.Type {
	var types []protocol.Type
	for i, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<(7-bit)) != 0 {
				types = append(types, protocol.Type(i*8+bit))
			}
		}
	}
	return types
}

// UnknownData holds the raw rdata of any record type outside this core's
// supported set, so a packet containing one can still round-trip.
type UnknownData struct {
	RRType protocol.Type
	Data   []byte
}

func (d UnknownData) Type() protocol.Type { return d.RRType }

func (d UnknownData) WriteTo(w *wire.Buffer) error {
	w.WriteBytes(d.Data)
	return nil
}

func (d UnknownData) HashRData() uint32 {
	return canonicalHash(map[string]interface{}{"type": "UNKNOWN", "rrtype": uint16(d.RRType), "data": d.Data})
}

func (d UnknownData) String() string { return fmt.Sprintf("% x", d.Data) }

// DecodeRData dispatches on the wire type number and decodes rdlen bytes
// of payload starting at buf's current position. buf must be positioned
// over the full packet, not a pre-sliced rdata window, so that embedded
// compressed names (PTR targets, SRV targets) resolve against the whole
// message. The caller is responsible for repositioning buf to start+rdlen
// afterward regardless of how many bytes this function actually consumed.
func DecodeRData(t protocol.Type, buf *wire.Buffer, rdlen int) (RData, error) {
	switch t {
	case protocol.TypeA:
		b, err := buf.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		return AData{IP: net.IP(b)}, nil
	case protocol.TypeAAAA:
		b, err := buf.ReadBytes(16)
		if err != nil {
			return nil, err
		}
		return AAAAData{IP: net.IP(b)}, nil
	case protocol.TypePTR:
		name, err := buf.ReadName()
		if err != nil {
			return nil, err
		}
		return PTRData{Target: name}, nil
	case protocol.TypeSRV:
		priority, err := buf.ReadUint16()
		if err != nil {
			return nil, err
		}
		weight, err := buf.ReadUint16()
		if err != nil {
			return nil, err
		}
		port, err := buf.ReadUint16()
		if err != nil {
			return nil, err
		}
		target, err := buf.ReadName()
		if err != nil {
			return nil, err
		}
		return SRVData{Priority: priority, Weight: weight, Port: port, Target: target}, nil
	case protocol.TypeTXT:
		raw, err := buf.ReadBytes(rdlen)
		if err != nil {
			return nil, err
		}
		return decodeTXT(raw)
	case protocol.TypeNSEC:
		next, err := buf.ReadName()
		if err != nil {
			return nil, err
		}
		window, err := buf.ReadUint8()
		if err != nil {
			return nil, err
		}
		bitmapLen, err := buf.ReadUint8()
		if err != nil {
			return nil, err
		}
		bitmap, err := buf.ReadBytes(int(bitmapLen))
		if err != nil {
			return nil, err
		}
		if window != 0 {
			return NSECData{NextName: next}, nil
		}
		return NSECData{NextName: next, Types: typesFromBitmap(bitmap)}, nil
	default:
		raw, err := buf.ReadBytes(rdlen)
		if err != nil {
			return nil, err
		}
		return UnknownData{RRType: t, Data: raw}, nil
	}
}

func decodeTXT(raw []byte) (TXTData, error) {
	var entries []TXTEntry
	pos := 0
	for pos < len(raw) {
		n := int(raw[pos])
		pos++
		if pos+n > len(raw) {
			return TXTData{}, &errors.MalformedRecordError{RecordType: "TXT", Message: "entry length exceeds rdata"}
		}
		chunk := raw[pos : pos+n]
		pos += n
		if len(chunk) == 0 {
			continue
		}
		if eq := indexByte(chunk, '='); eq >= 0 {
			entries = append(entries, TXTEntry{Key: string(chunk[:eq]), Value: append([]byte(nil), chunk[eq+1:]...)})
		} else {
			entries = append(entries, TXTEntry{Key: string(chunk)})
		}
	}
	return TXTData{Entries: entries}, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
