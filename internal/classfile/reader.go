package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Reader decodes big-endian class-file primitives from an in-memory buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncated, n, r.pos)
	}
	return nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadBytes reads n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:])
	r.pos += n
	return out, nil
}

// Skip skips n bytes.
func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

func (r *Reader) readUint16s() ([]uint16, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		if out[i], err = r.ReadUint16(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParseReader reads all of rd and parses it as a class file.
func ParseReader(rd io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read class file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a class file. Only structural checks are performed.
func Parse(data []byte) (*ClassFile, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	r := NewReader(data)
	cf := &ClassFile{}
	var err error

	if cf.Magic, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	if cf.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrInvalidFormat, cf.Magic)
	}
	if cf.MinorVersion, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if err := r.readConstantPool(cf); err != nil {
		return nil, fmt.Errorf("failed to read constant pool: %w", err)
	}

	flags, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	cf.AccessFlags = AccessFlags(flags)
	if cf.ThisClass, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if cf.SuperClass, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	if cf.Interfaces, err = r.readUint16s(); err != nil {
		return nil, err
	}
	if cf.Fields, err = r.readMembers(cf); err != nil {
		return nil, fmt.Errorf("failed to read fields: %w", err)
	}
	if cf.Methods, err = r.readMembers(cf); err != nil {
		return nil, fmt.Errorf("failed to read methods: %w", err)
	}
	if cf.Attributes, err = r.readAttributes(cf); err != nil {
		return nil, fmt.Errorf("failed to read class attributes: %w", err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidFormat, r.Remaining())
	}
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	return cf, nil
}

func (r *Reader) readConstantPool(cf *ClassFile) error {
	count, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: constant pool count is zero", ErrInvalidFormat)
	}
	cf.ConstantPool = make([]ConstantPoolEntry, count)
	for i := 1; i < int(count); i++ {
		tagByte, err := r.ReadUint8()
		if err != nil {
			return err
		}
		e := ConstantPoolEntry{Tag: Tag(tagByte)}
		switch e.Tag {
		case TagUtf8:
			n, err := r.ReadUint16()
			if err != nil {
				return err
			}
			if e.Bytes, err = r.ReadBytes(int(n)); err != nil {
				return err
			}
		case TagInteger, TagFloat:
			if e.Slot1, err = r.ReadUint32(); err != nil {
				return err
			}
		case TagLong, TagDouble:
			if e.Slot1, err = r.ReadUint32(); err != nil {
				return err
			}
			if e.Slot2, err = r.ReadUint32(); err != nil {
				return err
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			v, err := r.ReadUint16()
			if err != nil {
				return err
			}
			e.Slot1 = uint32(v)
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			a, err := r.ReadUint16()
			if err != nil {
				return err
			}
			b, err := r.ReadUint16()
			if err != nil {
				return err
			}
			e.Slot1, e.Slot2 = uint32(a), uint32(b)
		case TagMethodHandle:
			kind, err := r.ReadUint8()
			if err != nil {
				return err
			}
			ref, err := r.ReadUint16()
			if err != nil {
				return err
			}
			if kind < RefGetField || kind > RefInvokeInterface {
				return fmt.Errorf("%w: method handle kind %d at index %d", ErrInvalidFormat, kind, i)
			}
			e.Slot1, e.Slot2 = uint32(kind), uint32(ref)
		default:
			return fmt.Errorf("%w: constant pool tag %d at index %d", ErrInvalidFormat, tagByte, i)
		}
		cf.ConstantPool[i] = e
		if e.Tag.IsWide() {
			i++
		}
	}
	return nil
}

func (r *Reader) readMembers(cf *ClassFile) ([]Member, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	members := make([]Member, n)
	for i := range members {
		m := &members[i]
		flags, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		m.AccessFlags = AccessFlags(flags)
		if m.NameIndex, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if m.DescriptorIndex, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if cf.Tag(m.NameIndex) != TagUtf8 || cf.Tag(m.DescriptorIndex) != TagUtf8 {
			return nil, fmt.Errorf("%w: member %d name/descriptor not Utf8", ErrInvalidFormat, i)
		}
		if m.Attributes, err = r.readAttributes(cf); err != nil {
			return nil, err
		}
	}
	return members, nil
}

func (r *Reader) readAttributes(cf *ClassFile) ([]Attribute, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, 0, n)
	for i := 0; i < int(n); i++ {
		nameIndex, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		length, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		if uint64(length) > uint64(math.MaxInt32) {
			return nil, fmt.Errorf("%w: attribute length %d", ErrInvalidFormat, length)
		}
		body, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}
		if cf.Tag(nameIndex) != TagUtf8 {
			return nil, fmt.Errorf("%w: attribute name index %d", ErrInvalidFormat, nameIndex)
		}
		name := cf.String(nameIndex)
		sub := NewReader(body)
		attr, err := sub.readAttributeBody(cf, AttrHeader{NameIndex: nameIndex}, KindOf(name), body)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		if sub.Remaining() != 0 {
			return nil, fmt.Errorf("%w: attribute %s has %d trailing bytes", ErrInvalidFormat, name, sub.Remaining())
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func (r *Reader) readAttributeBody(cf *ClassFile, h AttrHeader, kind AttrKind, body []byte) (Attribute, error) {
	var err error
	switch kind {
	case AttrCode:
		a := &CodeAttribute{AttrHeader: h}
		if a.MaxStack, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if a.MaxLocals, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		codeLen, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		if uint64(codeLen) > uint64(r.Remaining()) {
			return nil, fmt.Errorf("%w: code length %d", ErrTruncated, codeLen)
		}
		if a.Code, err = r.ReadBytes(int(codeLen)); err != nil {
			return nil, err
		}
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		a.ExceptionTable = make([]ExceptionHandler, n)
		for i := range a.ExceptionTable {
			eh := &a.ExceptionTable[i]
			for _, p := range []*uint16{&eh.StartPC, &eh.EndPC, &eh.HandlerPC, &eh.CatchType} {
				if *p, err = r.ReadUint16(); err != nil {
					return nil, err
				}
			}
		}
		if a.Attributes, err = r.readAttributes(cf); err != nil {
			return nil, err
		}
		return a, nil

	case AttrStackMapTable:
		a := &StackMapTableAttribute{AttrHeader: h}
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		a.Frames = make([]StackMapFrame, n)
		for i := range a.Frames {
			if a.Frames[i], err = r.readFrame(); err != nil {
				return nil, err
			}
		}
		return a, nil

	case AttrLineNumberTable:
		a := &LineNumberTableAttribute{AttrHeader: h}
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		a.Entries = make([]LineNumber, n)
		for i := range a.Entries {
			if a.Entries[i].StartPC, err = r.ReadUint16(); err != nil {
				return nil, err
			}
			if a.Entries[i].LineNumber, err = r.ReadUint16(); err != nil {
				return nil, err
			}
		}
		return a, nil

	case AttrLocalVariableTable, AttrLocalVariableTypeTable:
		entries, err := r.readLocalVariables()
		if err != nil {
			return nil, err
		}
		if kind == AttrLocalVariableTable {
			return &LocalVariableTableAttribute{AttrHeader: h, Entries: entries}, nil
		}
		return &LocalVariableTypeTableAttribute{AttrHeader: h, Entries: entries}, nil

	case AttrExceptions:
		list, err := r.readUint16s()
		if err != nil {
			return nil, err
		}
		return &ExceptionsAttribute{AttrHeader: h, Exceptions: list}, nil

	case AttrSignature:
		v, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return &SignatureAttribute{AttrHeader: h, SignatureIndex: v}, nil

	case AttrSourceFile:
		v, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return &SourceFileAttribute{AttrHeader: h, SourceFileIndex: v}, nil

	case AttrSourceDebugExtension:
		data, err := r.ReadBytes(r.Remaining())
		if err != nil {
			return nil, err
		}
		return &SourceDebugExtensionAttribute{AttrHeader: h, Data: data}, nil

	case AttrConstantValue:
		v, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return &ConstantValueAttribute{AttrHeader: h, ValueIndex: v}, nil

	case AttrInnerClasses:
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		a := &InnerClassesAttribute{AttrHeader: h, Classes: make([]InnerClass, n)}
		for i := range a.Classes {
			ic := &a.Classes[i]
			for _, p := range []*uint16{&ic.InnerClassInfoIndex, &ic.OuterClassInfoIndex, &ic.InnerNameIndex} {
				if *p, err = r.ReadUint16(); err != nil {
					return nil, err
				}
			}
			flags, err := r.ReadUint16()
			if err != nil {
				return nil, err
			}
			ic.AccessFlags = AccessFlags(flags)
		}
		return a, nil

	case AttrEnclosingMethod:
		a := &EnclosingMethodAttribute{AttrHeader: h}
		if a.ClassIndex, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		if a.MethodIndex, err = r.ReadUint16(); err != nil {
			return nil, err
		}
		return a, nil

	case AttrNestHost:
		v, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		return &NestHostAttribute{AttrHeader: h, HostClassIndex: v}, nil

	case AttrNestMembers, AttrPermittedSubclasses:
		list, err := r.readUint16s()
		if err != nil {
			return nil, err
		}
		if kind == AttrNestMembers {
			return &NestMembersAttribute{AttrHeader: h, Classes: list}, nil
		}
		return &PermittedSubclassesAttribute{AttrHeader: h, Classes: list}, nil

	case AttrRecord:
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		a := &RecordAttribute{AttrHeader: h, Components: make([]RecordComponent, n)}
		for i := range a.Components {
			rc := &a.Components[i]
			if rc.NameIndex, err = r.ReadUint16(); err != nil {
				return nil, err
			}
			if rc.DescriptorIndex, err = r.ReadUint16(); err != nil {
				return nil, err
			}
			if rc.Attributes, err = r.readAttributes(cf); err != nil {
				return nil, err
			}
		}
		return a, nil

	case AttrBootstrapMethods:
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		a := &BootstrapMethodsAttribute{AttrHeader: h, Methods: make([]BootstrapMethod, n)}
		for i := range a.Methods {
			if a.Methods[i].MethodRef, err = r.ReadUint16(); err != nil {
				return nil, err
			}
			if a.Methods[i].Arguments, err = r.readUint16s(); err != nil {
				return nil, err
			}
		}
		return a, nil

	case AttrMethodParameters:
		n, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		a := &MethodParametersAttribute{AttrHeader: h, Parameters: make([]MethodParameter, n)}
		for i := range a.Parameters {
			if a.Parameters[i].NameIndex, err = r.ReadUint16(); err != nil {
				return nil, err
			}
			flags, err := r.ReadUint16()
			if err != nil {
				return nil, err
			}
			a.Parameters[i].AccessFlags = AccessFlags(flags)
		}
		return a, nil

	case AttrAnnotationDefault:
		v, err := r.readElementValue()
		if err != nil {
			return nil, err
		}
		return &AnnotationDefaultAttribute{AttrHeader: h, Value: v}, nil

	case AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations:
		list, err := r.readAnnotations()
		if err != nil {
			return nil, err
		}
		return &AnnotationsAttribute{AttrHeader: h, Visible: kind == AttrRuntimeVisibleAnnotations, Annotations: list}, nil

	case AttrRuntimeVisibleParameterAnnotations, AttrRuntimeInvisibleParameterAnnotations:
		n, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		a := &ParameterAnnotationsAttribute{
			AttrHeader: h,
			Visible:    kind == AttrRuntimeVisibleParameterAnnotations,
			Parameters: make([][]Annotation, n),
		}
		for i := range a.Parameters {
			if a.Parameters[i], err = r.readAnnotations(); err != nil {
				return nil, err
			}
		}
		return a, nil

	case AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations:
		n, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		a := &TypeAnnotationsAttribute{
			AttrHeader:  h,
			Visible:     kind == AttrRuntimeVisibleTypeAnnotations,
			Annotations: make([]TypeAnnotation, n),
		}
		for i := range a.Annotations {
			if a.Annotations[i], err = r.readTypeAnnotation(); err != nil {
				return nil, err
			}
		}
		return a, nil

	case AttrSynthetic, AttrDeprecated:
		return &MarkerAttribute{AttrHeader: h, Marker: kind}, nil
	}

	data, err := r.ReadBytes(len(body))
	if err != nil {
		return nil, err
	}
	return &UnknownAttribute{AttrHeader: h, Data: data}, nil
}

func (r *Reader) readLocalVariables() ([]LocalVariable, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	entries := make([]LocalVariable, n)
	for i := range entries {
		lv := &entries[i]
		for _, p := range []*uint16{&lv.StartPC, &lv.Length, &lv.NameIndex, &lv.DescriptorIndex, &lv.Index} {
			if *p, err = r.ReadUint16(); err != nil {
				return nil, err
			}
		}
	}
	return entries, nil
}

func (r *Reader) readVerificationTypes(n int) ([]VerificationType, error) {
	out := make([]VerificationType, n)
	for i := range out {
		tag, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		out[i].Tag = tag
		switch tag {
		case ItemObject, ItemUninitialized:
			if out[i].Data, err = r.ReadUint16(); err != nil {
				return nil, err
			}
		case ItemTop, ItemInteger, ItemFloat, ItemDouble, ItemLong, ItemNull, ItemUninitializedThis:
		default:
			return nil, fmt.Errorf("%w: verification type tag %d", ErrInvalidFormat, tag)
		}
	}
	return out, nil
}

func (r *Reader) readFrame() (StackMapFrame, error) {
	var f StackMapFrame
	t, err := r.ReadUint8()
	if err != nil {
		return f, err
	}
	f.Type = t
	switch {
	case t <= FrameSameMax:
		f.OffsetDelta = uint16(t)
	case t <= FrameSameLocals1StackItemMax:
		f.OffsetDelta = uint16(t - FrameSameLocals1StackItemMin)
		f.Stack, err = r.readVerificationTypes(1)
	case t <= FrameReservedMax:
		return f, fmt.Errorf("%w: %d", ErrUnknownStackMapFrame, t)
	case t == FrameSameLocals1StackItemExtended:
		if f.OffsetDelta, err = r.ReadUint16(); err != nil {
			return f, err
		}
		f.Stack, err = r.readVerificationTypes(1)
	case t <= FrameSameExtended:
		f.OffsetDelta, err = r.ReadUint16()
	case t <= FrameAppendMax:
		if f.OffsetDelta, err = r.ReadUint16(); err != nil {
			return f, err
		}
		f.Locals, err = r.readVerificationTypes(int(t) - FrameSameExtended)
	default:
		if f.OffsetDelta, err = r.ReadUint16(); err != nil {
			return f, err
		}
		nl, err := r.ReadUint16()
		if err != nil {
			return f, err
		}
		if f.Locals, err = r.readVerificationTypes(int(nl)); err != nil {
			return f, err
		}
		ns, err := r.ReadUint16()
		if err != nil {
			return f, err
		}
		f.Stack, err = r.readVerificationTypes(int(ns))
		return f, err
	}
	return f, err
}

func (r *Reader) readAnnotations() ([]Annotation, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	out := make([]Annotation, n)
	for i := range out {
		if out[i], err = r.readAnnotation(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) readAnnotation() (Annotation, error) {
	var a Annotation
	var err error
	if a.TypeIndex, err = r.ReadUint16(); err != nil {
		return a, err
	}
	n, err := r.ReadUint16()
	if err != nil {
		return a, err
	}
	a.Elements = make([]ElementValuePair, n)
	for i := range a.Elements {
		if a.Elements[i].NameIndex, err = r.ReadUint16(); err != nil {
			return a, err
		}
		if a.Elements[i].Value, err = r.readElementValue(); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (r *Reader) readElementValue() (ElementValue, error) {
	var v ElementValue
	tag, err := r.ReadUint8()
	if err != nil {
		return v, err
	}
	v.Tag = tag
	switch tag {
	case ElemByte, ElemChar, ElemDouble, ElemFloat, ElemInt, ElemLong, ElemShort, ElemBoolean, ElemString, ElemClass:
		v.ConstIndex, err = r.ReadUint16()
	case ElemEnum:
		if v.EnumType, err = r.ReadUint16(); err != nil {
			return v, err
		}
		v.EnumConst, err = r.ReadUint16()
	case ElemAnnotation:
		nested, nerr := r.readAnnotation()
		if nerr != nil {
			return v, nerr
		}
		v.Nested = &nested
	case ElemArray:
		n, nerr := r.ReadUint16()
		if nerr != nil {
			return v, nerr
		}
		v.Values = make([]ElementValue, n)
		for i := range v.Values {
			if v.Values[i], err = r.readElementValue(); err != nil {
				return v, err
			}
		}
	default:
		return v, fmt.Errorf("%w: %q", ErrUnknownAnnotationTag, tag)
	}
	return v, err
}

func (r *Reader) readTypeAnnotation() (TypeAnnotation, error) {
	var ta TypeAnnotation
	var err error
	if ta.TargetType, err = r.ReadUint8(); err != nil {
		return ta, err
	}
	start := r.pos
	switch n := targetInfoLength(ta.TargetType); n {
	case -2:
		return ta, fmt.Errorf("%w: type annotation target %#x", ErrInvalidFormat, ta.TargetType)
	case -1:
		count, err := r.ReadUint16()
		if err != nil {
			return ta, err
		}
		if err := r.Skip(int(count) * 6); err != nil {
			return ta, err
		}
	default:
		if err := r.Skip(n); err != nil {
			return ta, err
		}
	}
	ta.TargetInfo = append([]byte(nil), r.buf[start:r.pos]...)

	pathStart := r.pos
	pathLen, err := r.ReadUint8()
	if err != nil {
		return ta, err
	}
	if err := r.Skip(int(pathLen) * 2); err != nil {
		return ta, err
	}
	ta.TypePath = append([]byte(nil), r.buf[pathStart:r.pos]...)
	ta.Annotation, err = r.readAnnotation()
	return ta, err
}
