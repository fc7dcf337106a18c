package romclass

import (
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/internal/oracle"
)

func (w *classWriter[C]) writeFields() {
	c := w.main
	c.Mark(w.sk.fields)
	fields := w.o.Fields()
	for i := range fields {
		w.writeField(&fields[i])
	}
}

func fieldFlags(f *oracle.FieldInfo, cf *classfile.ClassFile) uint32 {
	var flags uint32
	if f.ConstantValue != 0 {
		flags |= FieldHasConstant
		if cf.Tag(f.ConstantValue).IsWide() {
			flags |= FieldWideConstant
		}
	}
	if f.Signature != 0 {
		flags |= FieldHasSignature
	}
	if f.Annotations != nil {
		flags |= FieldHasAnnotations
	}
	if f.TypeAnnotations != nil {
		flags |= FieldHasTypeAnnotations
	}
	if f.Deprecated {
		flags |= FieldDeprecated
	}
	return flags
}

func (w *classWriter[C]) writeField(f *oracle.FieldInfo) {
	c := w.main
	access := f.AccessFlags
	if f.Synthetic {
		access |= classfile.AccSynthetic
	}
	w.utf8SRP(c, f.Name)
	w.utf8SRP(c, f.Descriptor)
	c.U32(uint32(access))
	c.U32(fieldFlags(f, w.cf))
	c.U32(uint32(f.KnownAnnotations))

	if f.ConstantValue != 0 {
		e := w.cf.Entry(f.ConstantValue)
		switch e.Tag {
		case classfile.TagLong, classfile.TagDouble:
			c.U64(uint64(e.Slot1)<<32 | uint64(e.Slot2))
		case classfile.TagString:
			c.U32(uint32(w.cp.ROMIndex(f.ConstantValue, cpmap.UseReferenced)))
		default:
			c.U32(e.Slot1)
		}
	}
	if f.Signature != 0 {
		w.utf8SRP(c, f.Signature)
	}
	if f.Annotations != nil {
		w.block(c, w.encodeAnnotations(nil, f.Annotations.Annotations))
	}
	if f.TypeAnnotations != nil {
		w.block(c, w.encodeTypeAnnotations(nil, f.TypeAnnotations.Annotations))
	}
}

func (w *classWriter[C]) writeMethods() {
	c := w.main
	c.Mark(w.sk.methods)
	methods := w.o.Methods()
	for i := range methods {
		w.writeMethod(&methods[i])
	}
}

// NativeDescriptor encodes a native method's signature as its argument count, one type
// code per argument and the return type code.
func NativeDescriptor(args []byte, ret byte) []byte {
	out := make([]byte, 0, len(args)+2)
	out = append(out, byte(len(args)))
	for _, a := range args {
		out = append(out, nativeType(a))
	}
	return append(out, nativeType(ret))
}

func (w *classWriter[C]) writeMethod(m *oracle.MethodInfo) {
	c := w.main
	w.utf8SRP(c, m.Name)
	w.utf8SRP(c, m.Descriptor)
	c.U32(uint32(m.AccessFlags))
	c.U32(uint32(m.Flags))
	c.U32(uint32(m.KnownAnnotations))
	c.U16(m.MaxStack)
	c.U16(m.MaxLocals)
	c.U16(uint16(m.SendSlots))
	c.U16(uint16(len(m.ArgTypes)))

	body := m.Code
	if m.IsNative() {
		body = NativeDescriptor(m.ArgTypes, m.ReturnType)
	}
	c.U32(uint32(len(body)))
	c.Bytes(body)
	c.Align(4)

	if m.Flags.Has(oracle.MethodHasExceptionInfo) {
		w.checkSize("exception info", c, func() { w.writeExceptionInfo(m) })
	}
	if m.Flags.Has(oracle.MethodHasGenericSignature) {
		w.utf8SRP(c, m.Signature)
	}
	if m.Flags.Has(oracle.MethodHasAnnotations) {
		w.block(c, w.encodeAnnotations(nil, m.Annotations.Annotations))
	}
	if m.Flags.Has(oracle.MethodHasParameterAnnotations) {
		w.block(c, w.encodeParameterAnnotations(nil, m.ParameterAnnotations.Parameters))
	}
	if m.Flags.Has(oracle.MethodHasDefaultAnnotation) {
		w.block(c, w.encodeElementValue(nil, &m.DefaultAnnotation.Value))
	}
	if m.Flags.Has(oracle.MethodHasTypeAnnotations) {
		w.block(c, w.encodeTypeAnnotations(nil, m.TypeAnnotations.Annotations))
	}
	if m.Flags.Has(oracle.MethodHasCodeTypeAnnotations) {
		w.block(c, w.encodeTypeAnnotations(nil, m.CodeTypeAnnotations.Annotations))
	}
	if m.Flags.Has(oracle.MethodHasMethodParameters) {
		c.U32(uint32(len(m.MethodParameters)))
		for _, p := range m.MethodParameters {
			w.utf8SRP(c, p.NameIndex)
			c.U32(uint32(p.AccessFlags))
		}
	}
	if m.Flags.Has(oracle.MethodHasStackMap) {
		w.checkSize("stack map", c, func() { w.block(c, w.encodeStackMap(nil, m.StackMap)) })
	}
	if m.Flags.Has(oracle.MethodHasDebugInfo) {
		w.writeDebugInfo(m)
	}
}

func (w *classWriter[C]) writeExceptionInfo(m *oracle.MethodInfo) {
	c := w.main
	c.U16(uint16(len(m.ExceptionHandlers)))
	c.U16(uint16(len(m.ThrownExceptions)))
	for _, h := range m.ExceptionHandlers {
		c.U32(uint32(h.StartPC))
		c.U32(uint32(h.EndPC))
		c.U32(uint32(h.HandlerPC))
		c.U32(uint32(w.cp.ROMIndex(h.CatchType, cpmap.UseReferenced)))
	}
	for _, idx := range m.ThrownExceptions {
		w.classNameSRP(c, idx)
	}
}

// writeDebugInfo emits the fixed debug header in the method body and the line-number
// and variable data through their own cursors, which are the main cursor when debug
// info is kept inline.
func (w *classWriter[C]) writeDebugInfo(m *oracle.MethodInfo) {
	c := w.main
	lnKey := w.keys.LineNumberKey(m.Index)
	viKey := w.keys.VariableInfoKey(m.Index)
	deltas := EncodeVariables(nil, m.LocalVariables)

	c.U32(uint32(m.LineNumberCount))
	c.U32(uint32(len(m.LineNumbers)))
	c.U32(uint32(len(m.LocalVariables)))
	c.U32(uint32(variableInfoSize(deltas, m.LocalVariables)))
	if m.LineNumberCount > 0 {
		c.WSRP(lnKey)
	} else {
		c.U64(0)
	}
	if len(m.LocalVariables) > 0 {
		c.WSRP(viKey)
	} else {
		c.U64(0)
	}

	if m.LineNumberCount > 0 {
		ln := w.lineNumbers
		w.checkSize("line numbers", ln, func() {
			ln.Mark(lnKey)
			ln.Bytes(m.LineNumbers)
			ln.Align(4)
		})
	}
	if len(m.LocalVariables) > 0 {
		vi := w.variableInfo
		w.checkSize("variable info", vi, func() {
			vi.Mark(viKey)
			vi.U32(uint32(len(deltas)))
			vi.Bytes(deltas)
			vi.Align(4)
			for i := range m.LocalVariables {
				lv := &m.LocalVariables[i]
				w.utf8SRP(vi, lv.NameIndex)
				w.utf8SRP(vi, lv.DescriptorIndex)
				if lv.Signature != 0 {
					w.utf8SRP(vi, lv.Signature)
				}
			}
		})
	}
}

func variableInfoSize(deltas []byte, vars []oracle.LocalVariableInfo) uint64 {
	size := alignUp(4+uint64(len(deltas)), 4)
	for i := range vars {
		size += 8
		if vars[i].Signature != 0 {
			size += 4
		}
	}
	return size
}

// encodeStackMap re-encodes frames with constant indices translated to output slots and
// primitive array classes replaced by their dedicated tags. Multi-byte values use the
// output byte order.
func (w *classWriter[C]) encodeStackMap(dst []byte, frames []classfile.StackMapFrame) []byte {
	dst = w.appendU16(dst, uint16(len(frames)))
	for i := range frames {
		f := &frames[i]
		dst = append(dst, f.Type)
		switch t := int(f.Type); {
		case t <= classfile.FrameSameMax:
		case t <= classfile.FrameSameLocals1StackItemMax:
			dst = w.appendVerificationTypes(dst, f.Stack)
		case t <= classfile.FrameReservedMax:
			panic(&LayoutError{Region: "stack map", Reason: "reserved frame type"})
		case t == classfile.FrameSameLocals1StackItemExtended:
			dst = w.appendU16(dst, f.OffsetDelta)
			dst = w.appendVerificationTypes(dst, f.Stack)
		case t <= classfile.FrameSameExtended:
			dst = w.appendU16(dst, f.OffsetDelta)
		case t <= classfile.FrameAppendMax:
			dst = w.appendU16(dst, f.OffsetDelta)
			dst = w.appendVerificationTypes(dst, f.Locals)
		default:
			dst = w.appendU16(dst, f.OffsetDelta)
			dst = w.appendU16(dst, uint16(len(f.Locals)))
			dst = w.appendVerificationTypes(dst, f.Locals)
			dst = w.appendU16(dst, uint16(len(f.Stack)))
			dst = w.appendVerificationTypes(dst, f.Stack)
		}
	}
	return dst
}

func (w *classWriter[C]) appendVerificationTypes(dst []byte, types []classfile.VerificationType) []byte {
	for _, vt := range types {
		switch vt.Tag {
		case classfile.ItemObject:
			if tag, ok := oracle.PrimitiveArrayTag(w.cf.ClassName(vt.Data)); ok {
				dst = append(dst, tag)
				continue
			}
			dst = append(dst, vt.Tag)
			dst = w.appendU16(dst, w.cp.ROMIndex(vt.Data, cpmap.UseReferenced))
		case classfile.ItemUninitialized:
			dst = append(dst, vt.Tag)
			dst = w.appendU16(dst, vt.Data)
		default:
			dst = append(dst, vt.Tag)
		}
	}
	return dst
}

func (w *classWriter[C]) appendU16(dst []byte, v uint16) []byte {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	return append(dst, b[:]...)
}
