// Package wire implements the bit-packed station frame format: field and
// segment layouts, a codec over them, and the communication-code table that
// selects the layout of each record slice.
package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrShortFrame is returned when a buffer is shorter than its layout.
	ErrShortFrame = errors.New("wire: frame shorter than layout")
	// ErrUnsupportedCode is returned for communication codes outside the table.
	ErrUnsupportedCode = errors.New("wire: unsupported communication code")
	// ErrMissingField is returned by Encode when a layout field has no value.
	ErrMissingField = errors.New("wire: missing field value")
	// ErrFieldOverflow is returned by Encode when a value does not fit its field.
	ErrFieldOverflow = errors.New("wire: field value overflows its width")
	// ErrFieldConflict is returned by Encode when two fields sharing the same
	// bytes are given different values.
	ErrFieldConflict = errors.New("wire: conflicting values for shared bytes")
	// ErrInvalidLayout is returned by Layout.Validate.
	ErrInvalidLayout = errors.New("wire: invalid layout")
)

// BitOrder selects which end of a segment a bit field is taken from.
type BitOrder int

const (
	// WholeBytes fields occupy ByteLength bytes from the start of their segment.
	WholeBytes BitOrder = iota
	// MostSignificant fields are the top Bits bits of the segment.
	MostSignificant
	// LeastSignificant fields are the bottom Bits bits of the segment.
	LeastSignificant
)

// maxSegmentBytes bounds segments to a single uint64.
const maxSegmentBytes = 8

// FieldSpec describes one named value inside a segment.
type FieldSpec struct {
	Name       string
	ByteLength int
	Bits       int
	Order      BitOrder
}

// Whole returns a full-byte field.
func Whole(name string, byteLength int) FieldSpec {
	return FieldSpec{Name: name, ByteLength: byteLength, Order: WholeBytes}
}

// MSB returns a bit field taken from the most significant end of its segment.
func MSB(name string, byteLength, bits int) FieldSpec {
	return FieldSpec{Name: name, ByteLength: byteLength, Bits: bits, Order: MostSignificant}
}

// LSB returns a bit field taken from the least significant end of its segment.
func LSB(name string, byteLength, bits int) FieldSpec {
	return FieldSpec{Name: name, ByteLength: byteLength, Bits: bits, Order: LeastSignificant}
}

// width is the number of bits the field can hold.
func (f FieldSpec) width() int {
	if f.Order == WholeBytes {
		return f.ByteLength * 8
	}
	return f.Bits
}

// Segment is a run of bytes shared by one or more fields.
type Segment struct {
	ByteLength int
	Fields     []FieldSpec
}

// Seg is shorthand for building a Segment.
func Seg(byteLength int, fields ...FieldSpec) Segment {
	return Segment{ByteLength: byteLength, Fields: fields}
}

// Layout is an ordered list of byte-aligned segments.
type Layout []Segment

// ByteLength returns the number of bytes consumed by the layout.
func (l Layout) ByteLength() int {
	n := 0
	for _, s := range l {
		n += s.ByteLength
	}
	return n
}

// Concat returns a new layout made of l followed by more.
func (l Layout) Concat(more ...Segment) Layout {
	out := make(Layout, 0, len(l)+len(more))
	out = append(out, l...)
	return append(out, more...)
}

// Validate checks that every segment fits in a uint64 and every field fits
// in its segment.
func (l Layout) Validate() error {
	for i, s := range l {
		if s.ByteLength < 1 || s.ByteLength > maxSegmentBytes {
			return fmt.Errorf("%w: segment %d has %d bytes", ErrInvalidLayout, i, s.ByteLength)
		}
		segBits := s.ByteLength * 8
		for _, f := range s.Fields {
			if f.Name == "" {
				return fmt.Errorf("%w: segment %d has an unnamed field", ErrInvalidLayout, i)
			}
			if f.ByteLength < 1 || f.ByteLength > s.ByteLength {
				return fmt.Errorf("%w: field %q spans %d of %d bytes", ErrInvalidLayout, f.Name, f.ByteLength, s.ByteLength)
			}
			if f.Order != WholeBytes && (f.Bits < 0 || f.Bits > segBits) {
				return fmt.Errorf("%w: field %q has %d bits in a %d-bit segment", ErrInvalidLayout, f.Name, f.Bits, segBits)
			}
		}
	}
	return nil
}

// Fields maps field names to their raw decoded values.
type Fields map[string]uint64

// ExtractBits returns the bits of a segment value selected by order.
// MostSignificant with bits == segBits and LeastSignificant with bits == 64
// both return seg unchanged; LeastSignificant with bits == 0 returns 0.
func ExtractBits(seg uint64, segBits, bits int, order BitOrder) uint64 {
	switch order {
	case MostSignificant:
		if bits <= 0 {
			return 0
		}
		if bits >= segBits {
			return seg
		}
		return seg >> uint(segBits-bits)
	case LeastSignificant:
		if bits >= 64 {
			return seg
		}
		return seg & (1<<uint(bits) - 1)
	default:
		return seg
	}
}

// Decode unpacks b according to l. Bytes past the layout length are ignored.
func (l Layout) Decode(b []byte) (Fields, error) {
	n := l.ByteLength()
	if len(b) < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortFrame, n, len(b))
	}
	out := make(Fields, l.fieldCount())
	off := 0
	for _, s := range l {
		chunk := b[off : off+s.ByteLength]
		seg := beUint(chunk)
		for _, f := range s.Fields {
			if f.Order == WholeBytes {
				out[f.Name] = beUint(chunk[:f.ByteLength])
				continue
			}
			out[f.Name] = ExtractBits(seg, s.ByteLength*8, f.Bits, f.Order)
		}
		off += s.ByteLength
	}
	return out, nil
}

// Encode packs values into a new buffer according to l.
func (l Layout) Encode(values Fields) ([]byte, error) {
	out := make([]byte, l.ByteLength())
	off := 0
	for _, s := range l {
		segBits := s.ByteLength * 8
		var seg uint64
		var whole uint64
		haveWhole := false
		for _, f := range s.Fields {
			v, ok := values[f.Name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingField, f.Name)
			}
			if w := f.width(); w < 64 && v>>uint(w) != 0 {
				return nil, fmt.Errorf("%w: %q=%d in %d bits", ErrFieldOverflow, f.Name, v, w)
			}
			switch f.Order {
			case WholeBytes:
				shifted := v << uint((s.ByteLength-f.ByteLength)*8)
				if haveWhole && shifted != whole {
					return nil, fmt.Errorf("%w: %q", ErrFieldConflict, f.Name)
				}
				whole, haveWhole = shifted, true
				seg |= shifted
			case MostSignificant:
				if f.Bits > 0 {
					seg |= v << uint(segBits-f.Bits)
				}
			case LeastSignificant:
				seg |= v
			}
		}
		putBEUint(out[off:off+s.ByteLength], seg)
		off += s.ByteLength
	}
	return out, nil
}

func (l Layout) fieldCount() int {
	n := 0
	for _, s := range l {
		n += len(s.Fields)
	}
	return n
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBEUint(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
