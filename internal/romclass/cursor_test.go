package romclass

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romclass/internal/srp"
)

func TestCountingCursorMarks(t *testing.T) {
	table := srp.NewOffsetTable(4)
	c := newCountingCursor(srp.SegmentMain, table)

	c.U8(1)
	c.Align(4)
	c.Mark(1)
	c.U16(0)
	c.SRP(1)
	c.WSRP(1)
	c.Bytes([]byte("abc"))
	c.Align(8)

	assert.Equal(t, uint64(24), c.Offset())
	off, seg, ok := table.Offset(1)
	require.True(t, ok)
	assert.Equal(t, uint64(4), off)
	assert.Equal(t, srp.SegmentMain, seg)
}

func TestByteCursorWrites(t *testing.T) {
	table := srp.NewOffsetTable(4)
	table.Insert(1, 0, srp.SegmentMain)
	table.Insert(2, 16, srp.SegmentMain)
	resolved := table.Resolve(srp.Bases{})

	c := newByteCursor(srp.SegmentMain, 24, binary.LittleEndian, table, resolved)
	c.Mark(1)
	c.U8(0xFF)
	c.Align(4)
	c.U32(0x01020304)
	c.SRP(1)
	c.SRP(2)
	c.Mark(2)
	c.U64(9)

	buf := c.Buffer()
	assert.Equal(t, []byte{0xFF, 0, 0, 0}, buf[:4])
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(buf[4:]))
	assert.Equal(t, int32(-8), int32(binary.LittleEndian.Uint32(buf[8:])))
	assert.Equal(t, int32(4), int32(binary.LittleEndian.Uint32(buf[12:])))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(buf[16:]))
}

func TestByteCursorPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(c *byteCursor)
	}{
		{"write past end", func(c *byteCursor) { c.U64(1); c.U8(1) }},
		{"mark moved", func(c *byteCursor) { c.U8(1); c.Mark(1) }},
		{"unknown mark", func(c *byteCursor) { c.Mark(3) }},
		{"unresolved srp", func(c *byteCursor) { c.SRP(3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := srp.NewOffsetTable(4)
			table.Insert(1, 0, srp.SegmentMain)
			c := newByteCursor(srp.SegmentMain, 8, binary.BigEndian, table, table.Resolve(srp.Bases{}))

			defer func() {
				r := recover()
				require.NotNil(t, r)
				_, ok := r.(*LayoutError)
				assert.True(t, ok, "panic value %T", r)
			}()
			tt.fn(c)
		})
	}
}

func TestByteCursorSRPRange(t *testing.T) {
	table := srp.NewOffsetTable(4)
	table.SetInternedAt(1, 1<<40)
	c := newByteCursor(srp.SegmentMain, 12, binary.LittleEndian, table, table.Resolve(srp.Bases{}))

	c.WSRP(1)
	assert.Equal(t, uint64(1<<40), binary.LittleEndian.Uint64(c.Buffer()))
	assert.Panics(t, func() { c.SRP(1) })
}
