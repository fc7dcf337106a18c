package romclass

import (
	"encoding/binary"
	"fmt"

	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/internal/oracle"
	"github.com/romclass/internal/srp"
)

// Region is one size-checked stretch of output, recorded by the measuring pass and
// asserted by the emitting pass.
type Region struct {
	Name    string
	Segment srp.Segment
	Size    uint64
}

// sectionKeys are the generated keys of the class-level structures. They are handed out
// in a fixed order at the start of each pass, so both passes agree on them.
type sectionKeys struct {
	cpShape              srp.Key
	fields               srp.Key
	methods              srp.Key
	interfaces           srp.Key
	innerClasses         srp.Key
	enclosedInnerClasses srp.Key
	nestMembers          srp.Key
	callSites            srp.Key
	bootstrapMethods     srp.Key
	staticSplit          srp.Key
	specialSplit         srp.Key
	recordComponents     srp.Key
	permittedSubclasses  srp.Key
	sourceDebugExtension srp.Key
	enclosingMethod      srp.Key
	annotations          srp.Key
	typeAnnotations      srp.Key
	optionalInfo         srp.Key
}

// classWriter lays out one ROM class. It is instantiated twice: once over counting
// cursors to measure and place every keyed structure, and once over byte cursors to emit.
// Inline segments share the main cursor.
type classWriter[C cursor] struct {
	o     *oracle.Oracle
	cf    *classfile.ClassFile
	cp    *cpmap.Map
	class *oracle.ClassInfo
	keys  *srp.KeyProducer
	table *srp.OffsetTable
	order binary.ByteOrder

	main         C
	utf8         C
	lineNumbers  C
	variableInfo C

	romSize uint32
	regions *[]Region
	verify  bool
	next    int

	sk sectionKeys

	utf8s    []uint16
	utf8Seen map[uint16]bool
	nas      []uint16
	nasSeen  map[uint16]bool
}

func newClassWriter[C cursor](o *oracle.Oracle, keys *srp.KeyProducer, table *srp.OffsetTable, main, utf8, ln, vi C) *classWriter[C] {
	return &classWriter[C]{
		o:            o,
		cf:           o.ClassFile(),
		cp:           o.ConstantPool(),
		class:        o.Class(),
		keys:         keys,
		table:        table,
		order:        o.Options().ByteOrder,
		main:         main,
		utf8:         utf8,
		lineNumbers:  ln,
		variableInfo: vi,
		utf8Seen:     make(map[uint16]bool),
		nasSeen:      make(map[uint16]bool),
	}
}

func (w *classWriter[C]) generateKeys() {
	k := w.keys
	w.sk = sectionKeys{
		cpShape:              k.GenerateKey(),
		fields:               k.GenerateKey(),
		methods:              k.GenerateKey(),
		interfaces:           k.GenerateKey(),
		innerClasses:         k.GenerateKey(),
		enclosedInnerClasses: k.GenerateKey(),
		nestMembers:          k.GenerateKey(),
		callSites:            k.GenerateKey(),
		bootstrapMethods:     k.GenerateKey(),
		staticSplit:          k.GenerateKey(),
		specialSplit:         k.GenerateKey(),
		recordComponents:     k.GenerateKey(),
		permittedSubclasses:  k.GenerateKey(),
		sourceDebugExtension: k.GenerateKey(),
		enclosingMethod:      k.GenerateKey(),
		annotations:          k.GenerateKey(),
		typeAnnotations:      k.GenerateKey(),
		optionalInfo:         k.GenerateKey(),
	}
}

// checkSize runs fn and records, or in the emitting pass asserts, how many bytes it
// produced through c.
func (w *classWriter[C]) checkSize(name string, c C, fn func()) {
	start := c.Offset()
	fn()
	size := c.Offset() - start
	if !w.verify {
		*w.regions = append(*w.regions, Region{Name: name, Segment: c.Segment(), Size: size})
		return
	}
	if w.next >= len(*w.regions) {
		panic(&LayoutError{Region: name, Written: size, Reason: "region not present in the measuring pass"})
	}
	want := (*w.regions)[w.next]
	w.next++
	if want.Name != name || want.Size != size {
		panic(&LayoutError{Region: name, Measured: want.Size, Written: size})
	}
}

func (w *classWriter[C]) write() {
	w.generateKeys()
	c := w.main
	w.checkSize("header", c, w.writeHeader)
	w.checkSize("constant pool", c, w.writeConstantPool)
	w.checkSize("cp shape", c, w.writeCPShape)
	w.checkSize("fields", c, w.writeFields)
	w.checkSize("methods", c, w.writeMethods)
	w.checkSize("interfaces", c, func() { w.classNames(w.sk.interfaces, w.class.Interfaces) })
	w.checkSize("inner classes", c, func() { w.classNames(w.sk.innerClasses, w.class.InnerClasses) })
	w.checkSize("enclosed inner classes", c, func() { w.classNames(w.sk.enclosedInnerClasses, w.class.EnclosedInnerClasses) })
	w.checkSize("nest members", c, func() { w.classNames(w.sk.nestMembers, w.class.NestMembers) })
	w.checkSize("call sites", c, w.writeCallSites)
	w.checkSize("bootstrap methods", c, w.writeBootstrapMethods)
	w.checkSize("static split table", c, func() { w.splitTable(w.sk.staticSplit, w.cp.StaticSplitTable()) })
	w.checkSize("special split table", c, func() { w.splitTable(w.sk.specialSplit, w.cp.SpecialSplitTable()) })
	w.checkSize("record components", c, w.writeRecordComponents)
	w.checkSize("permitted subclasses", c, w.writePermittedSubclasses)
	w.checkSize("source debug extension", c, w.writeSourceDebugExtension)
	w.checkSize("enclosing method", c, w.writeEnclosingMethod)
	w.checkSize("class annotations", c, w.writeClassAnnotations)
	w.checkSize("optional info", c, w.writeOptionalInfo)
	w.checkSize("name and signatures", c, w.writeNameAndSignatures)
	w.checkSize("utf8", w.utf8, w.writeUTF8s)
	c.Align(SlotSize)
	if w.utf8.Segment() != srp.SegmentMain {
		w.utf8.Align(SlotSize)
	}
}

// utf8SRP writes an SRP to the Utf8 at cfrIndex, or a null SRP for index 0. The string
// is queued for the UTF8 section on first reference unless it is interned.
func (w *classWriter[C]) utf8SRP(c C, cfrIndex uint16) {
	if cfrIndex == 0 {
		c.U32(0)
		return
	}
	k := w.keys.UTF8Key(cfrIndex)
	if !w.table.IsInterned(k) && !w.utf8Seen[uint16(k)] {
		w.utf8Seen[uint16(k)] = true
		w.utf8s = append(w.utf8s, uint16(k))
	}
	c.SRP(k)
}

// classNameSRP writes an SRP to the name of the Class entry at classIndex.
func (w *classWriter[C]) classNameSRP(c C, classIndex uint16) {
	if classIndex == 0 {
		c.U32(0)
		return
	}
	w.utf8SRP(c, uint16(w.cf.Entry(classIndex).Slot1))
}

func (w *classWriter[C]) nasSRP(c C, natIndex uint16) {
	if natIndex == 0 {
		c.U32(0)
		return
	}
	if !w.nasSeen[natIndex] {
		w.nasSeen[natIndex] = true
		w.nas = append(w.nas, natIndex)
	}
	c.SRP(w.keys.NASKey(natIndex))
}

// countedSRP writes a count followed by an SRP to k, or a null SRP when n is zero.
func countedSRP[C cursor](c C, n int, k srp.Key) {
	c.U32(uint32(n))
	if n == 0 {
		c.U32(0)
		return
	}
	c.SRP(k)
}

func (w *classWriter[C]) extraModifiers() uint32 {
	cl := w.class
	var m uint32
	if cl.Synthetic {
		m |= ClassSynthetic
	}
	if cl.Deprecated {
		m |= ClassDeprecated
	}
	if cl.IsRecord {
		m |= ClassRecord
	}
	if cl.HasFinalizer {
		m |= ClassHasFinalizer
	}
	if cl.OuterClass != 0 {
		m |= ClassInnerClass
	}
	if len(cl.PermittedSubclasses) > 0 {
		m |= ClassSealed
	}
	for i := range w.o.Methods() {
		if w.o.Methods()[i].Flags.Has(oracle.MethodHasStackMap) {
			m |= ClassHasVerifyData
			break
		}
	}
	if len(cl.CallSites) > 0 {
		m |= ClassHasCallSites
	}
	return m
}

func (w *classWriter[C]) optionalFlags() uint32 {
	cl := w.class
	var f uint32
	if cl.SourceFile != 0 {
		f |= OptSourceFile
	}
	if len(cl.SourceDebugExtension) > 0 {
		f |= OptSourceDebugExtension
	}
	if cl.Signature != 0 {
		f |= OptGenericSignature
	}
	if cl.EnclosingClass != 0 {
		f |= OptEnclosingMethod
	}
	if cl.SimpleName != 0 {
		f |= OptSimpleName
	}
	if cl.Annotations != nil {
		f |= OptAnnotations
	}
	if cl.TypeAnnotations != nil {
		f |= OptTypeAnnotations
	}
	if cl.IsRecord {
		f |= OptRecord
	}
	if len(cl.PermittedSubclasses) > 0 {
		f |= OptPermittedSubclasses
	}
	return f
}

func (w *classWriter[C]) slotCounts() (invokeCache, methodTypes int) {
	for _, s := range w.cp.Slots() {
		switch s.Type {
		case cpmap.SlotHandleMethod:
			invokeCache++
		case cpmap.SlotMethodType:
			methodTypes++
		}
	}
	return invokeCache, methodTypes
}

func (w *classWriter[C]) writeHeader() {
	c, cl, cf := w.main, w.class, w.cf
	invokeCache, methodTypes := w.slotCounts()

	c.U32(Magic)
	c.U32(w.romSize)
	c.U16(cf.MajorVersion)
	c.U16(cf.MinorVersion)
	w.utf8SRP(c, cl.Name)
	w.utf8SRP(c, cl.SuperName)
	c.U32(uint32(cl.AccessFlags))
	c.U32(w.extraModifiers())
	c.U32(uint32(cl.KnownAnnotations))
	countedSRP(c, len(cl.Interfaces), w.sk.interfaces)
	countedSRP(c, len(w.o.Methods()), w.sk.methods)
	countedSRP(c, len(w.o.Fields()), w.sk.fields)
	c.U32(uint32(cl.InstanceFieldCount))
	c.U32(uint32(cl.SingleScalarStaticCount))
	c.U32(uint32(cl.ObjectStaticCount))
	c.U32(uint32(cl.DoubleScalarStaticCount))
	c.U32(uint32(w.cp.ROMCount()))
	c.U32(uint32(w.cp.RAMCount()))
	c.SRP(w.sk.cpShape)
	c.U32(uint32(cl.MaxBranchCount))
	w.classNameSRP(c, cl.OuterClass)
	c.U32(uint32(cl.MemberAccessFlags))
	countedSRP(c, len(cl.InnerClasses), w.sk.innerClasses)
	countedSRP(c, len(cl.EnclosedInnerClasses), w.sk.enclosedInnerClasses)
	w.classNameSRP(c, cl.NestHost)
	countedSRP(c, len(cl.NestMembers), w.sk.nestMembers)
	countedSRP(c, len(cl.CallSites), w.sk.callSites)
	countedSRP(c, len(cl.BootstrapMethods), w.sk.bootstrapMethods)
	countedSRP(c, len(w.cp.StaticSplitTable()), w.sk.staticSplit)
	countedSRP(c, len(w.cp.SpecialSplitTable()), w.sk.specialSplit)
	c.U32(uint32(invokeCache))
	c.U32(uint32(methodTypes))
	opt := w.optionalFlags()
	c.U32(opt)
	if opt == 0 {
		c.U32(0)
	} else {
		c.SRP(w.sk.optionalInfo)
	}
	c.U32(0)
}

func (w *classWriter[C]) writeConstantPool() {
	c := w.main
	start := c.Offset()
	c.U64(0)
	if err := w.cp.ConstantPoolDo(&cpWriter[C]{w: w}); err != nil {
		panic(&LayoutError{Region: "constant pool", Reason: err.Error()})
	}
	if got, want := c.Offset()-start, uint64(w.cp.ROMCount())*SlotSize; got != want {
		panic(&LayoutError{Region: "constant pool", Measured: want, Written: got})
	}
}

// writeCPShape emits one type byte per slot, slot 0 included.
func (w *classWriter[C]) writeCPShape() {
	c := w.main
	c.Mark(w.sk.cpShape)
	for _, t := range w.cp.Shape() {
		c.U8(uint8(t))
	}
	c.Align(4)
}

func (w *classWriter[C]) classNames(k srp.Key, classes []uint16) {
	c := w.main
	c.Mark(k)
	for _, idx := range classes {
		w.classNameSRP(c, idx)
	}
}

func (w *classWriter[C]) writeCallSites() {
	c := w.main
	c.Mark(w.sk.callSites)
	for _, idx := range w.class.CallSites {
		w.nasSRP(c, uint16(w.cf.Entry(idx).Slot2))
	}
	for _, idx := range w.class.CallSites {
		c.U16(uint16(w.cf.Entry(idx).Slot1))
	}
	c.Align(4)
}

func (w *classWriter[C]) writeBootstrapMethods() {
	c := w.main
	c.Mark(w.sk.bootstrapMethods)
	for _, bsm := range w.class.BootstrapMethods {
		c.U16(w.cp.ROMIndex(bsm.MethodRef, cpmap.UseReferenced))
		c.U16(uint16(len(bsm.Arguments)))
		for _, arg := range bsm.Arguments {
			c.U16(w.cp.ROMIndex(arg, cpmap.UseReferenced))
		}
	}
	c.Align(4)
}

func (w *classWriter[C]) splitTable(k srp.Key, table []uint16) {
	c := w.main
	c.Mark(k)
	for _, romIndex := range table {
		c.U16(romIndex)
	}
	c.Align(4)
}

func (w *classWriter[C]) writeRecordComponents() {
	cl := w.class
	if !cl.IsRecord {
		return
	}
	c := w.main
	c.Mark(w.sk.recordComponents)
	c.U32(uint32(len(cl.RecordComponents)))
	for i := range cl.RecordComponents {
		rc := &cl.RecordComponents[i]
		var flags uint32
		if rc.Signature != 0 {
			flags |= ComponentHasSignature
		}
		if rc.Annotations != nil {
			flags |= ComponentHasAnnotations
		}
		if rc.TypeAnnotations != nil {
			flags |= ComponentHasTypeAnnotations
		}
		w.utf8SRP(c, rc.Name)
		w.utf8SRP(c, rc.Descriptor)
		c.U32(flags)
		if rc.Signature != 0 {
			w.utf8SRP(c, rc.Signature)
		}
		if rc.Annotations != nil {
			w.block(c, w.encodeAnnotations(nil, rc.Annotations.Annotations))
		}
		if rc.TypeAnnotations != nil {
			w.block(c, w.encodeTypeAnnotations(nil, rc.TypeAnnotations.Annotations))
		}
	}
}

func (w *classWriter[C]) writePermittedSubclasses() {
	cl := w.class
	if len(cl.PermittedSubclasses) == 0 {
		return
	}
	c := w.main
	c.Mark(w.sk.permittedSubclasses)
	c.U32(uint32(len(cl.PermittedSubclasses)))
	for _, idx := range cl.PermittedSubclasses {
		w.classNameSRP(c, idx)
	}
}

func (w *classWriter[C]) writeSourceDebugExtension() {
	sde := w.class.SourceDebugExtension
	if len(sde) == 0 {
		return
	}
	c := w.main
	c.Mark(w.sk.sourceDebugExtension)
	w.block(c, sde)
}

func (w *classWriter[C]) writeEnclosingMethod() {
	cl := w.class
	if cl.EnclosingClass == 0 {
		return
	}
	c := w.main
	c.Mark(w.sk.enclosingMethod)
	w.classNameSRP(c, cl.EnclosingClass)
	w.nasSRP(c, cl.EnclosingMethod)
}

func (w *classWriter[C]) writeClassAnnotations() {
	cl := w.class
	c := w.main
	if cl.Annotations != nil {
		c.Mark(w.sk.annotations)
		w.block(c, w.encodeAnnotations(nil, cl.Annotations.Annotations))
	}
	if cl.TypeAnnotations != nil {
		c.Mark(w.sk.typeAnnotations)
		w.block(c, w.encodeTypeAnnotations(nil, cl.TypeAnnotations.Annotations))
	}
}

func (w *classWriter[C]) writeOptionalInfo() {
	opt := w.optionalFlags()
	if opt == 0 {
		return
	}
	c, cl := w.main, w.class
	c.Mark(w.sk.optionalInfo)
	for bit := uint32(1); bit < optionalFlagLimit; bit <<= 1 {
		if opt&bit == 0 {
			continue
		}
		switch bit {
		case OptSourceFile:
			w.utf8SRP(c, cl.SourceFile)
		case OptSourceDebugExtension:
			c.SRP(w.sk.sourceDebugExtension)
		case OptGenericSignature:
			w.utf8SRP(c, cl.Signature)
		case OptEnclosingMethod:
			c.SRP(w.sk.enclosingMethod)
		case OptSimpleName:
			w.utf8SRP(c, cl.SimpleName)
		case OptAnnotations:
			c.SRP(w.sk.annotations)
		case OptTypeAnnotations:
			c.SRP(w.sk.typeAnnotations)
		case OptRecord:
			c.SRP(w.sk.recordComponents)
		case OptPermittedSubclasses:
			c.SRP(w.sk.permittedSubclasses)
		}
	}
}

// writeNameAndSignatures emits every NameAndType referenced so far, in first-reference
// order.
func (w *classWriter[C]) writeNameAndSignatures() {
	c := w.main
	for _, idx := range w.nas {
		e := w.cf.Entry(idx)
		c.Mark(w.keys.NASKey(idx))
		w.utf8SRP(c, uint16(e.Slot1))
		w.utf8SRP(c, uint16(e.Slot2))
	}
}

// writeUTF8s emits every queued string as a length-prefixed, 2-byte aligned record.
func (w *classWriter[C]) writeUTF8s() {
	c := w.utf8
	for _, idx := range w.utf8s {
		data := w.cf.UTF8(idx)
		if len(data) > 0xFFFF {
			panic(&LayoutError{Region: "utf8", Reason: fmt.Sprintf("string %d is %d bytes long", idx, len(data))})
		}
		c.Mark(srp.Key(idx))
		c.U16(uint16(len(data)))
		c.Bytes(data)
		c.Align(2)
	}
}

// block writes a length-prefixed, 4-byte aligned blob.
func (w *classWriter[C]) block(c C, data []byte) {
	c.U32(uint32(len(data)))
	c.Bytes(data)
	c.Align(4)
}

// cpWriter emits one 8-byte slot per visited constant.
type cpWriter[C cursor] struct {
	w *classWriter[C]
}

func (v *cpWriter[C]) VisitClass(_, utf8 uint16) {
	v.w.utf8SRP(v.w.main, utf8)
	v.w.main.U32(uint32(cpmap.SlotClass))
}

func (v *cpWriter[C]) VisitString(_, utf8 uint16) {
	v.w.utf8SRP(v.w.main, utf8)
	v.w.main.U32(uint32(cpmap.SlotString))
}

func (v *cpWriter[C]) VisitMethodType(_, utf8 uint16) {
	v.w.utf8SRP(v.w.main, utf8)
	v.w.main.U32(uint32(cpmap.SlotMethodType))
}

func (v *cpWriter[C]) VisitAnnotationUTF8(_, utf8 uint16) {
	v.w.utf8SRP(v.w.main, utf8)
	v.w.main.U32(uint32(cpmap.SlotAnnotationUTF8))
}

func (v *cpWriter[C]) VisitMethodHandle(_ uint16, kind uint8, memberROMIndex uint16) {
	v.w.main.U32(uint32(memberROMIndex))
	v.w.main.U32(uint32(kind)<<8 | uint32(cpmap.SlotMethodHandle))
}

func (v *cpWriter[C]) VisitConstantDynamic(_, nas, bsmIndex uint16, returnType byte) {
	v.w.nasSRP(v.w.main, nas)
	v.w.main.U32(uint32(bsmIndex)<<16 | uint32(returnType)<<8 | uint32(cpmap.SlotConstantDynamic))
}

func (v *cpWriter[C]) VisitSingleSlot(cfrIndex uint16, value uint32) {
	t := cpmap.SlotFloat
	if v.w.cf.Tag(cfrIndex) == classfile.TagInteger {
		t = cpmap.SlotInt
	}
	v.w.main.U32(value)
	v.w.main.U32(uint32(t))
}

func (v *cpWriter[C]) VisitDoubleSlot(_ uint16, high, low uint32) {
	v.w.main.U64(uint64(high)<<32 | uint64(low))
}

func (v *cpWriter[C]) VisitFieldOrMethod(_, classROMIndex, nas uint16, _ cpmap.SlotType) {
	v.w.main.U32(uint32(classROMIndex))
	v.w.nasSRP(v.w.main, nas)
}
