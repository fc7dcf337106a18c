package romclass

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/romclass/internal/srp"
)

// cursor is the sink the class writer emits through. The counting cursor only advances
// and records key offsets; the byte cursor writes into a buffer sized by the counting
// pass and resolves SRPs against the frozen offset table.
type cursor interface {
	Segment() srp.Segment
	Offset() uint64
	U8(v uint8)
	U16(v uint16)
	U32(v uint32)
	U64(v uint64)
	Bytes(b []byte)
	// SRP writes a 32-bit self-relative pointer to k.
	SRP(k srp.Key)
	// WSRP writes a 64-bit self-relative pointer to k.
	WSRP(k srp.Key)
	// Mark records that k's structure starts at the current offset.
	Mark(k srp.Key)
	Align(n uint64)
}

// LayoutError is raised, as a panic value, when the emitting pass diverges from the
// measuring pass or an SRP cannot be computed.
type LayoutError struct {
	Region   string
	Measured uint64
	Written  uint64
	Reason   string
}

func (e *LayoutError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("romclass layout: %s: %s", e.Region, e.Reason)
	}
	return fmt.Sprintf("romclass layout: %s measured %d bytes, wrote %d", e.Region, e.Measured, e.Written)
}

type countingCursor struct {
	segment srp.Segment
	offset  uint64
	table   *srp.OffsetTable
}

func newCountingCursor(seg srp.Segment, table *srp.OffsetTable) *countingCursor {
	return &countingCursor{segment: seg, table: table}
}

func (c *countingCursor) Segment() srp.Segment { return c.segment }
func (c *countingCursor) Offset() uint64       { return c.offset }
func (c *countingCursor) U8(uint8)             { c.offset++ }
func (c *countingCursor) U16(uint16)           { c.offset += 2 }
func (c *countingCursor) U32(uint32)           { c.offset += 4 }
func (c *countingCursor) U64(uint64)           { c.offset += 8 }
func (c *countingCursor) Bytes(b []byte)       { c.offset += uint64(len(b)) }
func (c *countingCursor) SRP(srp.Key)          { c.offset += 4 }
func (c *countingCursor) WSRP(srp.Key)         { c.offset += 8 }
func (c *countingCursor) Align(n uint64)       { c.offset = alignUp(c.offset, n) }

func (c *countingCursor) Mark(k srp.Key) {
	c.table.Insert(k, c.offset, c.segment)
}

type byteCursor struct {
	segment  srp.Segment
	buf      []byte
	offset   uint64
	order    binary.ByteOrder
	table    *srp.OffsetTable
	resolved *srp.Resolved
}

func newByteCursor(seg srp.Segment, size uint64, order binary.ByteOrder, table *srp.OffsetTable, resolved *srp.Resolved) *byteCursor {
	return &byteCursor{
		segment:  seg,
		buf:      make([]byte, size),
		order:    order,
		table:    table,
		resolved: resolved,
	}
}

func (c *byteCursor) Segment() srp.Segment { return c.segment }
func (c *byteCursor) Offset() uint64       { return c.offset }

func (c *byteCursor) next(n int) []byte {
	end := c.offset + uint64(n)
	if end > uint64(len(c.buf)) {
		panic(&LayoutError{
			Region:   c.segment.String(),
			Measured: uint64(len(c.buf)),
			Written:  end,
			Reason:   "write past the measured end of the segment",
		})
	}
	b := c.buf[c.offset:end]
	c.offset = end
	return b
}

func (c *byteCursor) U8(v uint8)     { c.next(1)[0] = v }
func (c *byteCursor) U16(v uint16)   { c.order.PutUint16(c.next(2), v) }
func (c *byteCursor) U32(v uint32)   { c.order.PutUint32(c.next(4), v) }
func (c *byteCursor) U64(v uint64)   { c.order.PutUint64(c.next(8), v) }
func (c *byteCursor) Bytes(b []byte) { copy(c.next(len(b)), b) }

func (c *byteCursor) here() uint64 {
	return c.resolved.Bases()[c.segment] + c.offset
}

func (c *byteCursor) SRP(k srp.Key) {
	if _, ok := c.resolved.Address(k); !ok {
		panic(&LayoutError{Region: c.segment.String(), Reason: fmt.Sprintf("SRP to unresolved key %d", k)})
	}
	d := c.resolved.ComputeWSRP(k, c.here())
	if d < math.MinInt32 || d > math.MaxInt32 {
		panic(&LayoutError{Region: c.segment.String(), Reason: fmt.Sprintf("SRP to key %d out of range (%d)", k, d)})
	}
	c.U32(uint32(int32(d)))
}

func (c *byteCursor) WSRP(k srp.Key) {
	if _, ok := c.resolved.Address(k); !ok {
		panic(&LayoutError{Region: c.segment.String(), Reason: fmt.Sprintf("WSRP to unresolved key %d", k)})
	}
	c.U64(uint64(c.resolved.ComputeWSRP(k, c.here())))
}

func (c *byteCursor) Mark(k srp.Key) {
	off, seg, ok := c.table.Offset(k)
	if !ok || seg != c.segment || off != c.offset {
		panic(&LayoutError{
			Region:   c.segment.String(),
			Measured: off,
			Written:  c.offset,
			Reason:   fmt.Sprintf("key %d moved between passes", k),
		})
	}
}

func (c *byteCursor) Align(n uint64) {
	pad := alignUp(c.offset, n) - c.offset
	if pad > 0 {
		clear(c.next(int(pad)))
	}
}

// Buffer returns the written segment.
func (c *byteCursor) Buffer() []byte {
	return c.buf
}
