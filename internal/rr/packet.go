package rr

import (
	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/wire"
)

// Header carries the fixed-size DNS header fields. Section counts are
// derived from the packet's slices on encode, not stored independently.
type Header struct {
	ID     uint16
	QR     bool
	Opcode uint8
	AA     bool
	TC     bool
	RCode  uint8
}

// Packet is a full DNS message: header plus the four sections. It carries
// no source address; the transport reports the sender of a received
// packet alongside it.
type Packet struct {
	Header      Header
	Questions   []*Query
	Answers     []*Record
	Authorities []*Record
	Additionals []*Record
}

// IsInvalid reports the malformed-header cases spec.md §4.3 requires a
// transport to drop: a non-zero OPCODE or RCODE, or a response with AA
// unset.
func (p *Packet) IsInvalid() bool {
	return p.Header.Opcode != 0 || p.Header.RCode != 0 || (p.Header.QR && !p.Header.AA)
}

// IsProbe reports whether this is an outbound-style query packet whose
// authorities section carries candidate records pending uniqueness proof.
func (p *Packet) IsProbe() bool { return !p.Header.QR && len(p.Authorities) > 0 }

// IsQuery reports whether this is a plain question packet (no authorities).
func (p *Packet) IsQuery() bool { return !p.Header.QR && len(p.Authorities) == 0 }

// IsAnswer reports whether this is a response packet.
func (p *Packet) IsAnswer() bool { return p.Header.QR }

// Encode serializes p into w.
func (p *Packet) Encode(w *wire.Buffer) error {
	flags := uint16(0)
	if p.Header.QR {
		flags |= protocol.FlagQR
	}
	flags |= uint16(p.Header.Opcode&0xF) << 11
	if p.Header.AA {
		flags |= protocol.FlagAA
	}
	if p.Header.TC {
		flags |= protocol.FlagTC
	}
	flags |= uint16(p.Header.RCode & 0xF)

	w.WriteUint16(p.Header.ID)
	w.WriteUint16(flags)
	w.WriteUint16(uint16(len(p.Questions)))
	w.WriteUint16(uint16(len(p.Answers)))
	w.WriteUint16(uint16(len(p.Authorities)))
	w.WriteUint16(uint16(len(p.Additionals)))

	for _, q := range p.Questions {
		if err := w.WriteName(q.Name); err != nil {
			return err
		}
		qtype := uint16(q.QType)
		qclass := uint16(q.QClass)
		if q.QU {
			qclass |= uint16(protocol.CacheFlushOrQUBit)
		}
		w.WriteUint16(qtype)
		w.WriteUint16(qclass)
	}
	for _, section := range [][]*Record{p.Answers, p.Authorities, p.Additionals} {
		for _, r := range section {
			if err := encodeRecord(w, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeRecord(w *wire.Buffer, r *Record) error {
	if err := w.WriteName(r.Name); err != nil {
		return err
	}
	w.WriteUint16(uint16(r.Data.Type()))
	class := uint16(r.Class)
	if r.Unique {
		class |= uint16(protocol.CacheFlushOrQUBit)
	}
	w.WriteUint16(class)
	w.WriteUint32(r.TTL)

	lenPos := w.Len()
	w.WriteUint16(0) // rdlength placeholder
	rdataStart := w.Len()
	if err := r.Data.WriteTo(w); err != nil {
		return err
	}
	rdlen := w.Len() - rdataStart
	patchUint16(w, lenPos, uint16(rdlen))
	return nil
}

// patchUint16 overwrites two bytes already written at pos with v, used to
// backfill RDLENGTH once the rdata's actual size is known.
func patchUint16(w *wire.Buffer, pos int, v uint16) {
	b := w.Bytes()
	b[pos] = byte(v >> 8)
	b[pos+1] = byte(v)
}

// Decode parses a packet from buf, which must be positioned at the start
// of the message (absolute offset 0) so embedded compression pointers
// resolve correctly.
func Decode(buf *wire.Buffer) (*Packet, error) {
	id, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	flags, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	qd, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	an, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	ns, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	ar, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}

	p := &Packet{Header: Header{
		ID:     id,
		QR:     flags&protocol.FlagQR != 0,
		Opcode: uint8((flags & protocol.OpcodeMask) >> 11),
		AA:     flags&protocol.FlagAA != 0,
		TC:     flags&protocol.FlagTC != 0,
		RCode:  uint8(flags & protocol.RCodeMask),
	}}

	for i := uint16(0); i < qd; i++ {
		name, err := buf.ReadName()
		if err != nil {
			return nil, err
		}
		qtype, err := buf.ReadUint16()
		if err != nil {
			return nil, err
		}
		qclassRaw, err := buf.ReadUint16()
		if err != nil {
			return nil, err
		}
		p.Questions = append(p.Questions, &Query{
			Name: name, QType: protocol.Type(qtype),
			QClass: protocol.Class(qclassRaw) & protocol.ClassMask,
			QU:     qclassRaw&uint16(protocol.CacheFlushOrQUBit) != 0,
		})
	}

	for i := uint16(0); i < an; i++ {
		r, err := decodeRecord(buf)
		if err != nil {
			return nil, err
		}
		p.Answers = append(p.Answers, r)
	}
	for i := uint16(0); i < ns; i++ {
		r, err := decodeRecord(buf)
		if err != nil {
			return nil, err
		}
		p.Authorities = append(p.Authorities, r)
	}
	for i := uint16(0); i < ar; i++ {
		r, err := decodeRecord(buf)
		if err != nil {
			return nil, err
		}
		p.Additionals = append(p.Additionals, r)
	}
	return p, nil
}

func decodeRecord(buf *wire.Buffer) (*Record, error) {
	name, err := buf.ReadName()
	if err != nil {
		return nil, err
	}
	rtype, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	classRaw, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	ttl, err := buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	rdlen, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	rdataStart := buf.Pos()
	data, decErr := DecodeRData(protocol.Type(rtype), buf, int(rdlen))
	buf.SeekTo(rdataStart + int(rdlen))
	if decErr != nil {
		return nil, &errors.MalformedRecordError{RecordType: protocol.Type(rtype).String(), Message: "rdata decode failed", Err: decErr}
	}
	return &Record{
		Name:   name,
		Class:  protocol.Class(classRaw) & protocol.ClassMask,
		TTL:    ttl,
		Unique: classRaw&uint16(protocol.CacheFlushOrQUBit) != 0,
		Data:   data,
	}, nil
}
