package srp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romclass/internal/classfile"
)

func TestComputeSRP(t *testing.T) {
	tbl := NewOffsetTable(4)
	tbl.Insert(1, 100, SegmentMain)
	tbl.Insert(2, 8, SegmentUTF8)

	r := tbl.Resolve(Bases{SegmentMain: 0x1000, SegmentUTF8: 0x8000})

	tests := []struct {
		name string
		key  Key
		from uint64
		want int32
	}{
		{"forward in main", 1, 0x1000 + 40, 60},
		{"backward in main", 1, 0x1000 + 200, -100},
		{"other segment", 2, 0x1000, 0x7008},
		{"unresolved", 3, 0x1000, 0},
		{"beyond table", 99, 0x1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ComputeSRP(tt.key, tt.from))
			assert.Equal(t, int64(tt.want), r.ComputeWSRP(tt.key, tt.from))
		})
	}
}

func TestInternedKey(t *testing.T) {
	tbl := NewOffsetTable(0)
	tbl.SetInternedAt(5, 0x2000)

	r := tbl.Resolve(Bases{})
	assert.True(t, tbl.IsInterned(5))
	assert.False(t, tbl.IsMarked(5))
	assert.Equal(t, int32(0x1000), r.ComputeSRP(5, 0x1000))

	tbl.Clear()
	assert.True(t, tbl.IsInterned(5), "interned keys survive Clear")
}

func TestInsertTwicePanics(t *testing.T) {
	tbl := NewOffsetTable(2)
	tbl.Insert(1, 0, SegmentMain)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		ce, ok := r.(*ConsistencyError)
		require.True(t, ok)
		assert.Equal(t, Key(1), ce.Key)
	}()
	tbl.Insert(1, 4, SegmentMain)
}

func TestClearAllowsReinsert(t *testing.T) {
	tbl := NewOffsetTable(2)
	tbl.Insert(1, 0, SegmentMain)
	tbl.Clear()
	assert.False(t, tbl.IsMarked(1))

	tbl.Insert(1, 16, SegmentLineNumbers)
	off, seg, ok := tbl.Offset(1)
	require.True(t, ok)
	assert.Equal(t, uint64(16), off)
	assert.Equal(t, SegmentLineNumbers, seg)
}

func TestKeyProducer(t *testing.T) {
	cf := &classfile.ClassFile{
		ConstantPool: []classfile.ConstantPoolEntry{
			{},
			{Tag: classfile.TagUtf8, Bytes: []byte("name")},
			{Tag: classfile.TagUtf8, Bytes: []byte("other")},
			{Tag: classfile.TagUtf8, Bytes: []byte("name")},
			{Tag: classfile.TagNameAndType, Slot1: 1, Slot2: 2},
		},
		Methods: make([]classfile.Member, 2),
	}
	p := NewKeyProducer(cf)

	assert.Equal(t, p.UTF8Key(1), p.UTF8Key(3), "equal strings share a key")
	assert.NotEqual(t, p.UTF8Key(1), p.UTF8Key(2))
	assert.Equal(t, uint16(1), p.CanonicalUTF8(3))
	assert.Equal(t, Key(5+4), p.NASKey(4))
	assert.Equal(t, Key(10), p.LineNumberKey(0))
	assert.Equal(t, Key(13), p.VariableInfoKey(1))

	first := p.GenerateKey()
	assert.Equal(t, Key(14), first)
	assert.Equal(t, Key(15), p.GenerateKey())
	assert.Equal(t, 16, p.MaxKey())

	p.Reset()
	assert.Equal(t, first, p.GenerateKey())
}
