// Package wire implements the byte-level codec shared by every record and
// packet type: a growable buffer with an independent read and write cursor,
// big-endian integer helpers, and DNS name compression on both paths.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 1035 §3.1, §4.1.4.
package wire

import (
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// growthFloor is the minimum number of bytes a single grow adds, matching
// the "next grow >= 512 bytes or 1.5x needed" rule.
const growthFloor = 512

// Buffer wraps a byte slice with independent read/write cursors and a name
// offset index used to compress FQDNs as they're written.
type Buffer struct {
	data      []byte
	readPos   int
	nameIndex map[string]int
}

// NewBuffer wraps an existing packet for reading.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// NewWriteBuffer returns an empty buffer ready for writing, with its name
// compression index initialized.
func NewWriteBuffer() *Buffer {
	return &Buffer{data: make([]byte, 0, growthFloor), nameIndex: make(map[string]int)}
}

// NewRawWriteBuffer returns an empty buffer with compression disabled: all
// names are written as literal labels. Used where byte-identical,
// context-free output is required (record comparison, hashing fixtures).
func NewRawWriteBuffer() *Buffer {
	return &Buffer{data: make([]byte, 0, growthFloor)}
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written or available to read.
func (b *Buffer) Len() int { return len(b.data) }

// Pos returns the current read cursor.
func (b *Buffer) Pos() int { return b.readPos }

// SeekTo moves the read cursor to an absolute offset.
func (b *Buffer) SeekTo(pos int) { b.readPos = pos }

func (b *Buffer) grow(extra int) {
	need := len(b.data) + extra
	if cap(b.data) >= need {
		return
	}
	want := need
	if grown := len(b.data) + growthFloor; grown > want {
		want = grown
	}
	if scaled := int(float64(need) * 1.5); scaled > want {
		want = scaled
	}
	next := make([]byte, len(b.data), want)
	copy(next, b.data)
	b.data = next
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	b.grow(1)
	b.data = append(b.data, v)
}

// WriteUint16 appends a big-endian uint16.
func (b *Buffer) WriteUint16(v uint16) {
	b.grow(2)
	b.data = append(b.data, byte(v>>8), byte(v))
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	b.grow(4)
	b.data = append(b.data, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteBytes appends raw bytes verbatim.
func (b *Buffer) WriteBytes(p []byte) {
	b.grow(len(p))
	b.data = append(b.data, p...)
}

// WriteString writes a length-prefixed UTF-8 string (used for TXT entries
// and single character-strings), with the length in a single octet.
func (b *Buffer) WriteString(s string) {
	b.WriteUint8(uint8(len(s)))
	b.WriteBytes([]byte(s))
}

func eof(op string, offset int) error {
	return &errors.WireFormatError{Operation: op, Offset: offset, Message: "truncated packet", Err: errors.ErrTruncatedPacket}
}

// ReadUint8 reads a single byte at the cursor.
func (b *Buffer) ReadUint8() (uint8, error) {
	if b.readPos+1 > len(b.data) {
		return 0, eof("read uint8", b.readPos)
	}
	v := b.data[b.readPos]
	b.readPos++
	return v, nil
}

// ReadUint16 reads a big-endian uint16 at the cursor.
func (b *Buffer) ReadUint16() (uint16, error) {
	if b.readPos+2 > len(b.data) {
		return 0, eof("read uint16", b.readPos)
	}
	v := uint16(b.data[b.readPos])<<8 | uint16(b.data[b.readPos+1])
	b.readPos += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32 at the cursor.
func (b *Buffer) ReadUint32() (uint32, error) {
	if b.readPos+4 > len(b.data) {
		return 0, eof("read uint32", b.readPos)
	}
	v := uint32(b.data[b.readPos])<<24 | uint32(b.data[b.readPos+1])<<16 |
		uint32(b.data[b.readPos+2])<<8 | uint32(b.data[b.readPos+3])
	b.readPos += 4
	return v, nil
}

// ReadBytes reads n raw bytes at the cursor.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.readPos+n > len(b.data) {
		return nil, eof("read bytes", b.readPos)
	}
	v := make([]byte, n)
	copy(v, b.data[b.readPos:b.readPos+n])
	b.readPos += n
	return v, nil
}

// ReadString reads a single length-prefixed string.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUint8()
	if err != nil {
		return "", err
	}
	raw, err := b.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// WriteName writes a dot-terminated FQDN using greedy suffix compression:
// it tries to find the longest already-written suffix of the name (starting
// from the whole name and dropping the first label each failed attempt) in
// the name index, and replaces that suffix with a two-byte pointer. Labels
// that precede the matched suffix are still written literally.
func (b *Buffer) WriteName(name string) error {
	labels := splitLabels(name)
	for i := 0; i < len(labels); i++ {
		suffix := joinLabels(labels[i:])
		if b.nameIndex != nil {
			if ptr, ok := b.nameIndex[strings.ToLower(suffix)]; ok && ptr < 0x4000 {
				b.WriteUint16(uint16(0xC000 | ptr))
				return nil
			}
			b.nameIndex[strings.ToLower(suffix)] = b.Len()
		}
		b.WriteUint8(uint8(len(labels[i])))
		b.WriteBytes([]byte(labels[i]))
	}
	b.WriteUint8(0)
	return nil
}

// ReadName reads a (possibly compressed) FQDN starting at the cursor and
// returns it dot-joined with a trailing dot.
func (b *Buffer) ReadName() (string, error) {
	var labels []string
	startPos := b.readPos
	jumped := false
	farthest := -1
	jumps := 0

	for {
		if b.readPos >= len(b.data) {
			return "", eof("read name", b.readPos)
		}
		lenByte := b.data[b.readPos]
		if lenByte&protocol.CompressionPointerMask == protocol.CompressionPointerMask {
			if b.readPos+2 > len(b.data) {
				return "", eof("read name pointer", b.readPos)
			}
			ptr := int(lenByte&^protocol.CompressionPointerMask)<<8 | int(b.data[b.readPos+1])
			if !jumped {
				farthest = b.readPos + 2
				jumped = true
			}
			jumps++
			if jumps > protocol.MaxCompressionJumps || ptr >= len(b.data) || ptr >= startPos {
				return "", &errors.WireFormatError{Operation: "read name", Offset: b.readPos, Message: "bad compression pointer", Err: errors.ErrBadPointer}
			}
			b.readPos = ptr
			continue
		}
		if lenByte&protocol.CompressionPointerMask != 0 {
			return "", &errors.WireFormatError{Operation: "read name", Offset: b.readPos, Message: "reserved label length bits set", Err: errors.ErrBadPointer}
		}
		b.readPos++
		if lenByte == 0 {
			break
		}
		if int(lenByte) > protocol.MaxLabelLength {
			return "", &errors.WireFormatError{Operation: "read name", Offset: b.readPos, Message: "label exceeds 63 bytes"}
		}
		label, err := b.ReadBytes(int(lenByte))
		if err != nil {
			return "", eof("read name label", b.readPos)
		}
		labels = append(labels, string(label))
	}

	if jumped {
		b.readPos = farthest
	}
	name := strings.Join(labels, ".") + "."
	if len(name) > protocol.MaxNameLength {
		return "", &errors.WireFormatError{Operation: "read name", Offset: startPos, Message: "name exceeds 255 bytes"}
	}
	return name, nil
}

func splitLabels(name string) []string {
	trimmed := strings.TrimSuffix(name, ".")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ".")
}

func joinLabels(labels []string) string {
	if len(labels) == 0 {
		return "."
	}
	return strings.Join(labels, ".") + "."
}
