package rr

import (
	"net"
	"testing"

	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/wire"
)

func buildSamplePacket() *Packet {
	return &Packet{
		Header: Header{ID: 0, QR: true, AA: true},
		Answers: []*Record{
			{Name: "Test._test._tcp.local.", Class: protocol.ClassIN, TTL: 4500, Unique: false,
				Data: PTRData{Target: "Test._test._tcp.local."}},
			{Name: "Test._test._tcp.local.", Class: protocol.ClassIN, TTL: 120, Unique: true,
				Data: SRVData{Priority: 0, Weight: 0, Port: 4444, Target: "host.local."}},
			{Name: "host.local.", Class: protocol.ClassIN, TTL: 120, Unique: true,
				Data: AData{IP: net.ParseIP("192.168.1.5")}},
		},
	}
}

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	p := buildSamplePacket()
	w := wire.NewWriteBuffer()
	if err := p.Encode(w); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(wire.NewBuffer(w.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Answers) != len(p.Answers) {
		t.Fatalf("got %d answers, want %d", len(decoded.Answers), len(p.Answers))
	}
	for i, r := range decoded.Answers {
		if r.Hash() != p.Answers[i].Hash() {
			t.Fatalf("answer %d hash mismatch after round-trip", i)
		}
	}
	if !decoded.Header.QR || !decoded.Header.AA {
		t.Fatal("QR/AA flags lost in round-trip")
	}
}

func TestPacketClassification(t *testing.T) {
	query := &Packet{Header: Header{QR: false}}
	if !query.IsQuery() || query.IsProbe() || query.IsAnswer() {
		t.Fatal("expected plain query classification")
	}

	probe := &Packet{Header: Header{QR: false}, Authorities: []*Record{aRecord("x.local.", "1.1.1.1")}}
	if !probe.IsProbe() || probe.IsQuery() {
		t.Fatal("expected probe classification when authorities non-empty")
	}

	answer := &Packet{Header: Header{QR: true, AA: true}}
	if !answer.IsAnswer() {
		t.Fatal("expected answer classification when QR set")
	}
}

func TestPacketInvalid(t *testing.T) {
	badOpcode := &Packet{Header: Header{Opcode: 1}}
	if !badOpcode.IsInvalid() {
		t.Fatal("non-zero opcode must be invalid")
	}
	badRCode := &Packet{Header: Header{RCode: 1}}
	if !badRCode.IsInvalid() {
		t.Fatal("non-zero rcode must be invalid")
	}
	responseNoAA := &Packet{Header: Header{QR: true, AA: false}}
	if !responseNoAA.IsInvalid() {
		t.Fatal("response without AA must be invalid")
	}
	ok := &Packet{Header: Header{QR: true, AA: true}}
	if ok.IsInvalid() {
		t.Fatal("valid response must not be flagged invalid")
	}
}

func TestPacketSplit(t *testing.T) {
	p := buildSamplePacket()
	rest := p.Split()
	if rest == nil {
		t.Fatal("expected a second half")
	}
	if len(p.Answers)+len(rest.Answers) != 3 {
		t.Fatalf("answers split incorrectly: %d + %d", len(p.Answers), len(rest.Answers))
	}
}

func TestPacketSplitUnsplittable(t *testing.T) {
	p := &Packet{Answers: []*Record{aRecord("x.local.", "1.1.1.1")}}
	if rest := p.Split(); rest != nil {
		t.Fatal("single-answer packet should not split further")
	}
}

func TestCompressedNameAcrossMultipleRecords(t *testing.T) {
	p := &Packet{
		Header: Header{QR: true, AA: true},
		Answers: []*Record{
			{Name: "One._test._tcp.local.", Class: protocol.ClassIN, TTL: 4500, Data: PTRData{Target: "_test._tcp.local."}},
			{Name: "Two._test._tcp.local.", Class: protocol.ClassIN, TTL: 4500, Data: PTRData{Target: "_test._tcp.local."}},
		},
	}
	w := wire.NewWriteBuffer()
	if err := p.Encode(w); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(wire.NewBuffer(w.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Answers[0].Name != "One._test._tcp.local." {
		t.Fatalf("answer 0 name = %q", decoded.Answers[0].Name)
	}
	if decoded.Answers[1].Name != "Two._test._tcp.local." {
		t.Fatalf("answer 1 name = %q", decoded.Answers[1].Name)
	}
	ptr0 := decoded.Answers[0].Data.(PTRData)
	ptr1 := decoded.Answers[1].Data.(PTRData)
	if ptr0.Target != "_test._tcp.local." || ptr1.Target != "_test._tcp.local." {
		t.Fatalf("PTR targets decoded incorrectly: %q, %q", ptr0.Target, ptr1.Target)
	}
}
