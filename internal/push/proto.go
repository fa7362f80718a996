package push

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The provider speaks a small fixed set of protobuf-framed messages. The
// handful of fields the bridge reads and writes are encoded directly with
// varint/length-delimited framing instead of generated code.

const (
	wireVarint = 0
	wireBytes  = 2
)

func appendVarint(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

func appendTag(b []byte, field int, wire int) []byte {
	return appendVarint(b, uint64(field)<<3|uint64(wire))
}

func appendVarintField(b []byte, field int, v uint64) []byte {
	b = appendTag(b, field, wireVarint)
	return appendVarint(b, v)
}

func appendBytesField(b []byte, field int, v []byte) []byte {
	b = appendTag(b, field, wireBytes)
	b = appendVarint(b, uint64(len(v)))
	return append(b, v...)
}

func appendStringField(b []byte, field int, v string) []byte {
	return appendBytesField(b, field, []byte(v))
}

// field is one decoded protobuf field. Exactly one of num/raw is meaningful
// depending on the wire type.
type field struct {
	number int
	wire   int
	num    uint64
	raw    []byte
}

// parseFields decodes a message into its top-level fields. Unknown wire
// types abort the parse; the caller treats that as a corrupt frame.
func parseFields(data []byte) ([]field, error) {
	var fields []field
	for len(data) > 0 {
		key, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("truncated field key")
		}
		data = data[n:]
		f := field{number: int(key >> 3), wire: int(key & 7)}
		switch f.wire {
		case wireVarint:
			v, n := binary.Uvarint(data)
			if n <= 0 {
				return nil, fmt.Errorf("truncated varint in field %d", f.number)
			}
			f.num = v
			data = data[n:]
		case wireBytes:
			size, n := binary.Uvarint(data)
			if n <= 0 || uint64(len(data)-n) < size {
				return nil, fmt.Errorf("truncated bytes in field %d", f.number)
			}
			f.raw = data[n : n+int(size)]
			data = data[n+int(size):]
		case 5: // fixed32
			if len(data) < 4 {
				return nil, fmt.Errorf("truncated fixed32 in field %d", f.number)
			}
			f.num = uint64(binary.LittleEndian.Uint32(data))
			data = data[4:]
		case 1: // fixed64
			if len(data) < 8 {
				return nil, fmt.Errorf("truncated fixed64 in field %d", f.number)
			}
			f.num = binary.LittleEndian.Uint64(data)
			data = data[8:]
		default:
			return nil, fmt.Errorf("unsupported wire type %d in field %d", f.wire, f.number)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func readVarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}
