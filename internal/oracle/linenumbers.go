package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
)

// Compressed line-number entries are deltas from the previous (pc, line) pair, starting
// at (0, 0). Entries must be sorted by pc so pc deltas are never negative.
//
//	0PPPPPLL                              pc 0..31, line -1..2
//	10PPPPPP PLLLLLLL                     pc 0..127, line -64..63
//	110PPPPP PPPPPPPP LLLLLLLL            pc 0..8191, line -128..127
//	1110000S PPPPPPPP PPPPPPPP LLLLLLLL LLLLLLLL   S set for negative line delta
const maxLineNumberEntrySize = 5

// ErrLineNumberEncoding reports a compressed line-number table that cannot be decoded.
var ErrLineNumberEncoding = errors.New("malformed compressed line numbers")

// LineNumberBufferSize returns the worst-case compressed size of n entries.
func LineNumberBufferSize(n int) int {
	return n * maxLineNumberEntrySize
}

// EncodeLineNumbers appends the compressed form of entries to dst. Entries must already
// be sorted by StartPC.
func EncodeLineNumbers(dst []byte, entries []classfile.LineNumber) []byte {
	lastPC, lastLine := 0, 0
	for _, e := range entries {
		dpc := int(e.StartPC) - lastPC
		dline := int(e.LineNumber) - lastLine
		lastPC, lastLine = int(e.StartPC), int(e.LineNumber)

		switch {
		case dpc <= 31 && dline >= -1 && dline <= 2:
			dst = append(dst, byte(dpc<<2|(dline+1)))
		case dpc <= 127 && dline >= -64 && dline <= 63:
			v := 0x8000 | uint16(dpc)<<7 | uint16(dline&0x7F)
			dst = binary.BigEndian.AppendUint16(dst, v)
		case dpc <= 8191 && dline >= -128 && dline <= 127:
			v := 0xC00000 | uint32(dpc)<<8 | uint32(dline&0xFF)
			dst = append(dst, byte(v>>16), byte(v>>8), byte(v))
		default:
			prefix := byte(0xE0)
			if dline < 0 {
				prefix |= 1
				dline = -dline
			}
			dst = append(dst, prefix)
			dst = binary.BigEndian.AppendUint16(dst, uint16(dpc))
			dst = binary.BigEndian.AppendUint16(dst, uint16(dline))
		}
	}
	return dst
}

// DecodeLineNumbers expands count entries from buf.
func DecodeLineNumbers(buf []byte, count int) ([]classfile.LineNumber, error) {
	out := make([]classfile.LineNumber, 0, count)
	pc, line := 0, 0
	pos := 0
	need := func(n int) error {
		if pos+n > len(buf) {
			return fmt.Errorf("%w: truncated entry at byte %d", ErrLineNumberEncoding, pos)
		}
		return nil
	}
	for i := 0; i < count; i++ {
		if err := need(1); err != nil {
			return nil, err
		}
		b := buf[pos]
		var dpc, dline int
		switch {
		case b&0x80 == 0:
			dpc = int(b >> 2)
			dline = int(b&0x3) - 1
			pos++
		case b&0xC0 == 0x80:
			if err := need(2); err != nil {
				return nil, err
			}
			v := binary.BigEndian.Uint16(buf[pos:])
			dpc = int(v>>7) & 0x7F
			dline = int(int8(byte(v<<1))) >> 1
			pos += 2
		case b&0xE0 == 0xC0:
			if err := need(3); err != nil {
				return nil, err
			}
			dpc = int(b&0x1F)<<8 | int(buf[pos+1])
			dline = int(int8(buf[pos+2]))
			pos += 3
		case b&0xFE == 0xE0:
			if err := need(5); err != nil {
				return nil, err
			}
			dpc = int(binary.BigEndian.Uint16(buf[pos+1:]))
			dline = int(binary.BigEndian.Uint16(buf[pos+3:]))
			if b&1 != 0 {
				dline = -dline
			}
			pos += 5
		default:
			return nil, fmt.Errorf("%w: bad prefix 0x%02x at byte %d", ErrLineNumberEncoding, b, pos)
		}
		pc += dpc
		line += dline
		if pc > 0xFFFF || line < 0 || line > 0xFFFF {
			return nil, fmt.Errorf("%w: entry %d out of range", ErrLineNumberEncoding, i)
		}
		out = append(out, classfile.LineNumber{StartPC: uint16(pc), LineNumber: uint16(line)})
	}
	if pos != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrLineNumberEncoding, len(buf)-pos)
	}
	return out, nil
}

func sortedByPC(entries []classfile.LineNumber) bool {
	for i := 1; i < len(entries); i++ {
		if entries[i].StartPC < entries[i-1].StartPC {
			return false
		}
	}
	return true
}

// compressLineNumbers encodes entries into an arena buffer sized for the worst case and
// gives back the unused tail. Unsorted input is sorted on a copy; the attribute itself is
// never modified.
func (o *Oracle) compressLineNumbers(info *MethodInfo, entries []classfile.LineNumber) {
	if !sortedByPC(entries) {
		sorted, _, err := arena.AllocSlice[classfile.LineNumber](o.arena, len(entries))
		if err != nil {
			o.failErr(err)
			return
		}
		copy(sorted, entries)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartPC < sorted[j].StartPC })
		entries = sorted
	}

	buf, tok, err := o.arena.Allocate(LineNumberBufferSize(len(entries)))
	if err != nil {
		o.failErr(err)
		return
	}
	n := len(EncodeLineNumbers(buf[:0], entries))
	o.arena.Reclaim(tok, n)
	buf = buf[:n:n]

	decoded, err := DecodeLineNumbers(buf, len(entries))
	if err != nil || !equalLineNumbers(decoded, entries) {
		o.fail(LineNumberDecompressionFailure, "method %s: line number table does not round-trip", o.cf.String(info.Name))
		return
	}
	info.LineNumbers = buf
	info.LineNumberCount = len(entries)
}

func equalLineNumbers(a, b []classfile.LineNumber) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
