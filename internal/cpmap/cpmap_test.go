package cpmap_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/internal/testutil"
)

func newMap(t *testing.T, cf *classfile.ClassFile) *cpmap.Map {
	t.Helper()
	m, err := cpmap.New(arena.New(1<<20), cf)
	require.NoError(t, err)
	return m
}

func TestMarkIndexZeroIsNoop(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	m := newMap(t, b.Build())

	m.Mark(0)
	m.MarkUse(0, cpmap.UseLDC)
	require.NoError(t, m.ComputeMapAndSizes())

	assert.False(t, m.IsReferenced(0))
	assert.Equal(t, 1, m.ROMCount())
}

func TestUnreferencedEntriesAreDropped(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	used := b.String("used")
	b.String("unused")
	b.Integer(42)
	m := newMap(t, b.Build())

	m.Mark(used)
	require.NoError(t, m.ComputeMapAndSizes())

	require.Equal(t, 2, m.ROMCount())
	assert.Equal(t, uint16(1), m.ROMIndex(used, cpmap.UseReferenced))
	assert.Equal(t, cpmap.SlotString, m.Slots()[1].Type)
}

func TestLayoutOrder(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	long := b.Long(1)
	cls := b.Class("B")
	str := b.String("s")
	ldcInt := b.Integer(7)
	dbl := b.Double(1.5)
	m := newMap(t, b.Build())

	m.MarkUse(long, cpmap.UseLDCWide)
	m.MarkUse(cls, cpmap.UseNew)
	m.MarkUse(str, cpmap.UseLDCWide)
	m.MarkUse(ldcInt, cpmap.UseLDC)
	m.MarkUse(dbl, cpmap.UseLDCWide)
	require.NoError(t, m.ComputeMapAndSizes())

	assert.Equal(t, uint16(1), m.ROMIndex(ldcInt, cpmap.UseLDC), "ldc targets come first")
	assert.Equal(t, uint16(2), m.ROMIndex(cls, cpmap.UseNew))
	assert.Equal(t, uint16(3), m.ROMIndex(str, cpmap.UseLDCWide))
	assert.Equal(t, uint16(4), m.ROMIndex(long, cpmap.UseLDCWide), "long/double at the tail")
	assert.Equal(t, uint16(5), m.ROMIndex(dbl, cpmap.UseLDCWide))
	assert.Equal(t, 4, m.RAMCount())
	assert.Equal(t, 6, m.ROMCount())
}

func TestLDCAddressability(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		wantErr bool
	}{
		{"none", 0, false},
		{"one", 1, false},
		{"full range", 255, false},
		{"overflow", 256, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewClass("A", "java/lang/Object")
			var idx []uint16
			for i := 0; i < tt.count; i++ {
				idx = append(idx, b.Integer(int32(i)))
			}
			// Something else referenced ahead of the ldc targets in input order.
			other := b.Class("Other")
			m := newMap(t, b.Build())
			m.MarkUse(other, cpmap.UseCheckcast)
			for _, i := range idx {
				m.MarkUse(i, cpmap.UseLDC)
			}

			err := m.ComputeMapAndSizes()
			if tt.wantErr {
				assert.ErrorIs(t, err, cpmap.ErrTooManyLDCEntries)
				return
			}
			require.NoError(t, err)
			for _, i := range idx {
				rom := m.ROMIndex(i, cpmap.UseLDC)
				assert.GreaterOrEqual(t, rom, uint16(1))
				assert.Less(t, rom, uint16(cpmap.MaxLDCSlots))
			}
			assert.Equal(t, uint16(tt.count+1), m.ROMIndex(other, cpmap.UseCheckcast))
		})
	}
}

func TestSplitVirtualAndStatic(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	ref := b.Methodref("A", "m", "()V")
	m := newMap(t, b.Build())

	m.MarkUse(ref, cpmap.UseInvokeVirtual)
	m.MarkUse(ref, cpmap.UseInvokeStatic)
	require.NoError(t, m.ComputeMapAndSizes())

	virtual := m.ROMIndex(ref, cpmap.UseInvokeVirtual)
	static := m.ROMIndex(ref, cpmap.UseInvokeStatic)
	assert.NotEqual(t, virtual, static)
	assert.Equal(t, cpmap.SlotInstanceMethod, m.Slots()[virtual].Type)
	assert.Equal(t, cpmap.SlotStaticMethod, m.Slots()[static].Type)

	pos, ok := m.StaticSplitIndex(ref)
	require.True(t, ok)
	assert.Equal(t, static, m.StaticSplitTable()[pos])
	_, ok = m.SpecialSplitIndex(ref)
	assert.False(t, ok)
}

func TestSplitSpecialAndInterface(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	ref := b.InterfaceMethodref("I", "m", "()V")
	m := newMap(t, b.Build())

	m.MarkUse(ref, cpmap.UseInvokeInterface)
	m.MarkUse(ref, cpmap.UseInvokeSpecial)
	require.NoError(t, m.ComputeMapAndSizes())

	iface := m.ROMIndex(ref, cpmap.UseInvokeInterface)
	special := m.ROMIndex(ref, cpmap.UseInvokeSpecial)
	assert.NotEqual(t, iface, special)

	pos, ok := m.SpecialSplitIndex(ref)
	require.True(t, ok)
	assert.Equal(t, special, m.SpecialSplitTable()[pos])
}

func TestSingleUseIsNotSplit(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	ref := b.Methodref("A", "m", "()V")
	m := newMap(t, b.Build())

	m.MarkUse(ref, cpmap.UseInvokeStatic)
	m.MarkUse(ref, cpmap.UseInvokeStatic)
	require.NoError(t, m.ComputeMapAndSizes())

	// Class A plus one method slot.
	assert.Equal(t, 3, m.ROMCount())
	assert.Equal(t, cpmap.SlotStaticMethod, m.Slots()[m.ROMIndex(ref, cpmap.UseInvokeStatic)].Type)
	assert.Empty(t, m.StaticSplitTable())
}

func TestMemberReferenceMarksClass(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	ref := b.Fieldref("B", "f", "I")
	cls := b.Class("B")
	handle := b.MethodHandle(classfile.RefGetStatic, ref)
	m := newMap(t, b.Build())

	m.MarkUse(handle, cpmap.UseLDC)
	require.NoError(t, m.ComputeMapAndSizes())

	assert.True(t, m.IsReferenced(ref))
	assert.True(t, m.IsReferenced(cls))
	assert.Equal(t, uint16(1), m.ROMIndex(handle, cpmap.UseLDC))
}

func TestAnnotationUTF8Slots(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	name := b.UTF8("value")
	plain := b.UTF8("plain")
	m := newMap(t, b.Build())

	m.MarkUse(name, cpmap.UseAnnotationUTF8)
	m.Mark(plain)
	require.NoError(t, m.ComputeMapAndSizes())

	assert.Equal(t, 2, m.ROMCount())
	assert.Equal(t, cpmap.SlotAnnotationUTF8, m.Slots()[1].Type)
	assert.Equal(t, uint16(0), m.ROMIndex(plain, cpmap.UseReferenced))
}

func TestTooManyCallSites(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	indy := b.InvokeDynamic(0, "run", "()Ljava/lang/Runnable;")
	m := newMap(t, b.Build())

	for i := 0; i <= cpmap.MaxCallSites; i++ {
		m.MarkCallSite(indy)
	}
	assert.ErrorIs(t, m.ComputeMapAndSizes(), cpmap.ErrTooManyCallSites)
}

func TestComputeOutOfMemory(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	for i := 0; i < 100; i++ {
		b.Integer(int32(i))
	}
	cf := b.Build()

	// Room for the entry descriptors only.
	a := arena.New(len(cf.ConstantPool) * int(unsafe.Sizeof(cpmap.Entry{})))
	m, err := cpmap.New(a, cf)
	require.NoError(t, err)
	for i := 1; i < len(cf.ConstantPool); i++ {
		m.Mark(uint16(i))
	}
	assert.ErrorIs(t, m.ComputeMapAndSizes(), arena.ErrOutOfMemory)
	assert.True(t, a.ShouldFree())

	_, err = cpmap.New(arena.New(0), cf)
	assert.ErrorIs(t, err, arena.ErrOutOfMemory)
}

type recordingVisitor struct {
	calls   []string
	handles []uint16
}

func (r *recordingVisitor) VisitClass(cfrIndex, utf8 uint16) { r.calls = append(r.calls, "class") }
func (r *recordingVisitor) VisitString(cfrIndex, utf8 uint16) { r.calls = append(r.calls, "string") }
func (r *recordingVisitor) VisitMethodType(cfrIndex, utf8 uint16) {
	r.calls = append(r.calls, "methodtype")
}
func (r *recordingVisitor) VisitMethodHandle(cfrIndex uint16, kind uint8, member uint16) {
	r.calls = append(r.calls, "methodhandle")
	r.handles = append(r.handles, member)
}
func (r *recordingVisitor) VisitConstantDynamic(cfrIndex, nas, bsm uint16, ret byte) {
	r.calls = append(r.calls, "condy:"+string(ret))
}
func (r *recordingVisitor) VisitSingleSlot(cfrIndex uint16, value uint32) {
	r.calls = append(r.calls, "single")
}
func (r *recordingVisitor) VisitDoubleSlot(cfrIndex uint16, high, low uint32) {
	r.calls = append(r.calls, "double")
}
func (r *recordingVisitor) VisitFieldOrMethod(cfrIndex, cls, nas uint16, slot cpmap.SlotType) {
	r.calls = append(r.calls, slot.String())
}
func (r *recordingVisitor) VisitAnnotationUTF8(cfrIndex, utf8 uint16) {
	r.calls = append(r.calls, "annotation")
}

func TestConstantPoolDo(t *testing.T) {
	b := testutil.NewClass("A", "java/lang/Object")
	i := b.Integer(1)
	condy := b.Dynamic(0, "c", "J")
	mt := b.MethodType("()V")
	fr := b.Fieldref("A", "f", "I")
	l := b.Long(3)
	m := newMap(t, b.Build())

	m.MarkUse(l, cpmap.UseLDCWide)
	m.MarkUse(i, cpmap.UseLDC)
	m.MarkUse(condy, cpmap.UseLDCWide)
	m.MarkUse(mt, cpmap.UseLDCWide)
	m.MarkUse(fr, cpmap.UseGetField)
	require.NoError(t, m.ComputeMapAndSizes())

	v := &recordingVisitor{}
	require.NoError(t, m.ConstantPoolDo(v))
	assert.Equal(t, []string{"single", "class", "condy:J", "methodtype", "fieldref", "double"}, v.calls)
}

func TestMethodHandleResolvesSplitSlot(t *testing.T) {
	tests := []struct {
		name string
		kind uint8
		use  cpmap.UseKind
	}{
		{"static", classfile.RefInvokeStatic, cpmap.UseInvokeStatic},
		{"special", classfile.RefInvokeSpecial, cpmap.UseInvokeSpecial},
		{"virtual", classfile.RefInvokeVirtual, cpmap.UseInvokeVirtual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewClass("A", "java/lang/Object")
			ref := b.Methodref("A", "m", "()V")
			mh := b.MethodHandle(tt.kind, ref)
			m := newMap(t, b.Build())

			m.MarkUse(ref, cpmap.UseInvokeVirtual)
			m.MarkUse(ref, cpmap.UseInvokeStatic)
			m.MarkUse(ref, cpmap.UseInvokeSpecial)
			m.MarkUse(mh, cpmap.UseLDCWide)
			require.NoError(t, m.ComputeMapAndSizes())

			v := &recordingVisitor{}
			require.NoError(t, m.ConstantPoolDo(v))
			require.Len(t, v.handles, 1)
			assert.Equal(t, m.ROMIndex(ref, tt.use), v.handles[0])
		})
	}
}

func TestConstantPoolDoBeforeCompute(t *testing.T) {
	m := newMap(t, testutil.NewClass("A", "").Build())
	assert.ErrorIs(t, m.ConstantPoolDo(&recordingVisitor{}), cpmap.ErrNotComputed)
}
