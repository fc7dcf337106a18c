package romclass

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/romclass/internal/oracle"
)

// ErrVariableEncoding reports a variable table that cannot be decoded.
var ErrVariableEncoding = errors.New("malformed variable table")

// VariableEntry is the position part of one decoded variable table entry.
type VariableEntry struct {
	Index      uint16
	StartPC    uint16
	Length     uint16
	HasGeneric bool
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// EncodeVariables appends the delta encoding of vars to dst. Each entry is three varints:
// the zigzag slot-index delta shifted left once with the has-generic flag in bit 0, the
// signed start-pc delta, and the signed length delta.
func EncodeVariables(dst []byte, vars []oracle.LocalVariableInfo) []byte {
	var lastIndex, lastStart, lastLength int64
	for i := range vars {
		v := &vars[i]
		first := zigzag(int64(v.Index)-lastIndex) << 1
		if v.Signature != 0 {
			first |= 1
		}
		dst = binary.AppendUvarint(dst, first)
		dst = binary.AppendVarint(dst, int64(v.StartPC)-lastStart)
		dst = binary.AppendVarint(dst, int64(v.Length)-lastLength)
		lastIndex, lastStart, lastLength = int64(v.Index), int64(v.StartPC), int64(v.Length)
	}
	return dst
}

// DecodeVariables expands count entries from buf.
func DecodeVariables(buf []byte, count int) ([]VariableEntry, error) {
	out := make([]VariableEntry, 0, count)
	var index, start, length int64
	pos := 0
	for i := 0; i < count; i++ {
		first, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: entry %d index", ErrVariableEncoding, i)
		}
		pos += n
		dstart, n := binary.Varint(buf[pos:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: entry %d start pc", ErrVariableEncoding, i)
		}
		pos += n
		dlength, n := binary.Varint(buf[pos:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: entry %d length", ErrVariableEncoding, i)
		}
		pos += n

		index += unzigzag(first >> 1)
		start += dstart
		length += dlength
		if index < 0 || index > 0xFFFF || start < 0 || start > 0xFFFF || length < 0 || length > 0xFFFF {
			return nil, fmt.Errorf("%w: entry %d out of range", ErrVariableEncoding, i)
		}
		out = append(out, VariableEntry{
			Index:      uint16(index),
			StartPC:    uint16(start),
			Length:     uint16(length),
			HasGeneric: first&1 != 0,
		})
	}
	if pos != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrVariableEncoding, len(buf)-pos)
	}
	return out, nil
}
