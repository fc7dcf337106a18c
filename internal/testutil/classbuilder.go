package testutil

import (
	"math"
	"strconv"

	"github.com/romclass/internal/classfile"
)

// ClassBuilder assembles classfile.ClassFile trees for tests. Constant-pool entries are
// deduplicated so repeated lookups of the same constant return the same index.
type ClassBuilder struct {
	cf    *classfile.ClassFile
	index map[string]uint16
}

// NewClass starts a public class named name extending super ("" for none).
func NewClass(name, super string) *ClassBuilder {
	b := &ClassBuilder{
		cf: &classfile.ClassFile{
			Magic:        classfile.Magic,
			MajorVersion: 61,
			ConstantPool: []classfile.ConstantPoolEntry{{}},
			AccessFlags:  classfile.AccPublic | classfile.AccSuper,
		},
		index: make(map[string]uint16),
	}
	b.cf.ThisClass = b.Class(name)
	if super != "" {
		b.cf.SuperClass = b.Class(super)
	}
	return b
}

func (b *ClassBuilder) add(key string, e classfile.ConstantPoolEntry) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := uint16(len(b.cf.ConstantPool))
	b.cf.ConstantPool = append(b.cf.ConstantPool, e)
	if e.Tag.IsWide() {
		b.cf.ConstantPool = append(b.cf.ConstantPool, classfile.ConstantPoolEntry{})
	}
	b.index[key] = idx
	return idx
}

func (b *ClassBuilder) UTF8(s string) uint16 {
	return b.add("u:"+s, classfile.ConstantPoolEntry{Tag: classfile.TagUtf8, Bytes: []byte(s)})
}

func (b *ClassBuilder) Class(name string) uint16 {
	u := b.UTF8(name)
	return b.add("c:"+name, classfile.ConstantPoolEntry{Tag: classfile.TagClass, Slot1: uint32(u)})
}

func (b *ClassBuilder) String(s string) uint16 {
	u := b.UTF8(s)
	return b.add("s:"+s, classfile.ConstantPoolEntry{Tag: classfile.TagString, Slot1: uint32(u)})
}

func (b *ClassBuilder) Integer(v int32) uint16 {
	return b.add("i:"+itoa(int64(v)), classfile.ConstantPoolEntry{Tag: classfile.TagInteger, Slot1: uint32(v)})
}

func (b *ClassBuilder) Float(v float32) uint16 {
	bits := math.Float32bits(v)
	return b.add("f:"+itoa(int64(bits)), classfile.ConstantPoolEntry{Tag: classfile.TagFloat, Slot1: bits})
}

func (b *ClassBuilder) Long(v int64) uint16 {
	return b.add("j:"+itoa(v), classfile.ConstantPoolEntry{
		Tag: classfile.TagLong, Slot1: uint32(uint64(v) >> 32), Slot2: uint32(v),
	})
}

func (b *ClassBuilder) Double(v float64) uint16 {
	bits := math.Float64bits(v)
	return b.add("d:"+itoa(int64(bits)), classfile.ConstantPoolEntry{
		Tag: classfile.TagDouble, Slot1: uint32(bits >> 32), Slot2: uint32(bits),
	})
}

func (b *ClassBuilder) NameAndType(name, desc string) uint16 {
	n, d := b.UTF8(name), b.UTF8(desc)
	return b.add("nt:"+name+":"+desc, classfile.ConstantPoolEntry{
		Tag: classfile.TagNameAndType, Slot1: uint32(n), Slot2: uint32(d),
	})
}

func (b *ClassBuilder) ref(tag classfile.Tag, prefix, class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	return b.add(prefix+class+"."+name+":"+desc, classfile.ConstantPoolEntry{
		Tag: tag, Slot1: uint32(c), Slot2: uint32(nt),
	})
}

func (b *ClassBuilder) Fieldref(class, name, desc string) uint16 {
	return b.ref(classfile.TagFieldref, "fr:", class, name, desc)
}

func (b *ClassBuilder) Methodref(class, name, desc string) uint16 {
	return b.ref(classfile.TagMethodref, "mr:", class, name, desc)
}

func (b *ClassBuilder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.ref(classfile.TagInterfaceMethodref, "imr:", class, name, desc)
}

func (b *ClassBuilder) MethodHandle(kind uint8, ref uint16) uint16 {
	return b.add("mh:"+itoa(int64(kind))+":"+itoa(int64(ref)), classfile.ConstantPoolEntry{
		Tag: classfile.TagMethodHandle, Slot1: uint32(kind), Slot2: uint32(ref),
	})
}

func (b *ClassBuilder) MethodType(desc string) uint16 {
	u := b.UTF8(desc)
	return b.add("mt:"+desc, classfile.ConstantPoolEntry{Tag: classfile.TagMethodType, Slot1: uint32(u)})
}

func (b *ClassBuilder) InvokeDynamic(bsm uint16, name, desc string) uint16 {
	nt := b.NameAndType(name, desc)
	return b.add("indy:"+itoa(int64(bsm))+":"+name+":"+desc, classfile.ConstantPoolEntry{
		Tag: classfile.TagInvokeDynamic, Slot1: uint32(bsm), Slot2: uint32(nt),
	})
}

func (b *ClassBuilder) Dynamic(bsm uint16, name, desc string) uint16 {
	nt := b.NameAndType(name, desc)
	return b.add("condy:"+itoa(int64(bsm))+":"+name+":"+desc, classfile.ConstantPoolEntry{
		Tag: classfile.TagDynamic, Slot1: uint32(bsm), Slot2: uint32(nt),
	})
}

// Flags replaces the class access flags.
func (b *ClassBuilder) Flags(f classfile.AccessFlags) *ClassBuilder {
	b.cf.AccessFlags = f
	return b
}

func (b *ClassBuilder) Interface(name string) *ClassBuilder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.Class(name))
	return b
}

func (b *ClassBuilder) Field(flags classfile.AccessFlags, name, desc string, attrs ...classfile.Attribute) *ClassBuilder {
	b.cf.Fields = append(b.cf.Fields, classfile.Member{
		AccessFlags: flags, NameIndex: b.UTF8(name), DescriptorIndex: b.UTF8(desc), Attributes: attrs,
	})
	return b
}

func (b *ClassBuilder) Method(flags classfile.AccessFlags, name, desc string, attrs ...classfile.Attribute) *ClassBuilder {
	b.cf.Methods = append(b.cf.Methods, classfile.Member{
		AccessFlags: flags, NameIndex: b.UTF8(name), DescriptorIndex: b.UTF8(desc), Attributes: attrs,
	})
	return b
}

// Attribute appends a class-level attribute.
func (b *ClassBuilder) Attribute(a classfile.Attribute) *ClassBuilder {
	b.cf.Attributes = append(b.cf.Attributes, a)
	return b
}

// Header returns an attribute header naming name.
func (b *ClassBuilder) Header(name string) classfile.AttrHeader {
	return classfile.AttrHeader{NameIndex: b.UTF8(name)}
}

func (b *ClassBuilder) Code(maxStack, maxLocals uint16, code []byte, attrs ...classfile.Attribute) *classfile.CodeAttribute {
	return &classfile.CodeAttribute{
		AttrHeader: b.Header("Code"),
		MaxStack:   maxStack,
		MaxLocals:  maxLocals,
		Code:       code,
		Attributes: attrs,
	}
}

func (b *ClassBuilder) LineNumbers(pairs ...uint16) *classfile.LineNumberTableAttribute {
	a := &classfile.LineNumberTableAttribute{AttrHeader: b.Header("LineNumberTable")}
	for i := 0; i+1 < len(pairs); i += 2 {
		a.Entries = append(a.Entries, classfile.LineNumber{StartPC: pairs[i], LineNumber: pairs[i+1]})
	}
	return a
}

// LocalVar describes a local variable for LocalVariables and LocalVariableTypes.
type LocalVar struct {
	StartPC, Length, Index uint16
	Name, Descriptor       string
}

func (b *ClassBuilder) localVars(vars []LocalVar) []classfile.LocalVariable {
	out := make([]classfile.LocalVariable, len(vars))
	for i, v := range vars {
		out[i] = classfile.LocalVariable{
			StartPC: v.StartPC, Length: v.Length, Index: v.Index,
			NameIndex: b.UTF8(v.Name), DescriptorIndex: b.UTF8(v.Descriptor),
		}
	}
	return out
}

func (b *ClassBuilder) LocalVariables(vars ...LocalVar) *classfile.LocalVariableTableAttribute {
	return &classfile.LocalVariableTableAttribute{AttrHeader: b.Header("LocalVariableTable"), Entries: b.localVars(vars)}
}

func (b *ClassBuilder) LocalVariableTypes(vars ...LocalVar) *classfile.LocalVariableTypeTableAttribute {
	return &classfile.LocalVariableTypeTableAttribute{AttrHeader: b.Header("LocalVariableTypeTable"), Entries: b.localVars(vars)}
}

func (b *ClassBuilder) ConstantValue(index uint16) *classfile.ConstantValueAttribute {
	return &classfile.ConstantValueAttribute{AttrHeader: b.Header("ConstantValue"), ValueIndex: index}
}

func (b *ClassBuilder) Signature(sig string) *classfile.SignatureAttribute {
	return &classfile.SignatureAttribute{AttrHeader: b.Header("Signature"), SignatureIndex: b.UTF8(sig)}
}

func (b *ClassBuilder) SourceFile(name string) *classfile.SourceFileAttribute {
	return &classfile.SourceFileAttribute{AttrHeader: b.Header("SourceFile"), SourceFileIndex: b.UTF8(name)}
}

func (b *ClassBuilder) Exceptions(classes ...string) *classfile.ExceptionsAttribute {
	a := &classfile.ExceptionsAttribute{AttrHeader: b.Header("Exceptions")}
	for _, c := range classes {
		a.Exceptions = append(a.Exceptions, b.Class(c))
	}
	return a
}

func (b *ClassBuilder) StackMap(frames ...classfile.StackMapFrame) *classfile.StackMapTableAttribute {
	return &classfile.StackMapTableAttribute{AttrHeader: b.Header("StackMapTable"), Frames: frames}
}

func (b *ClassBuilder) BootstrapMethods(methods ...classfile.BootstrapMethod) *classfile.BootstrapMethodsAttribute {
	return &classfile.BootstrapMethodsAttribute{AttrHeader: b.Header("BootstrapMethods"), Methods: methods}
}

// Annotation builds a marker annotation of the given type descriptor.
func (b *ClassBuilder) Annotation(typeDesc string) classfile.Annotation {
	return classfile.Annotation{TypeIndex: b.UTF8(typeDesc)}
}

func (b *ClassBuilder) Annotations(visible bool, anns ...classfile.Annotation) *classfile.AnnotationsAttribute {
	name := "RuntimeInvisibleAnnotations"
	if visible {
		name = "RuntimeVisibleAnnotations"
	}
	return &classfile.AnnotationsAttribute{AttrHeader: b.Header(name), Visible: visible, Annotations: anns}
}

// TypeAnnotations builds a type annotation table. Each annotation targets an instanceof
// expression at bytecode offset pc with an empty type path.
func (b *ClassBuilder) TypeAnnotations(visible bool, pc uint16, anns ...classfile.Annotation) *classfile.TypeAnnotationsAttribute {
	name := "RuntimeInvisibleTypeAnnotations"
	if visible {
		name = "RuntimeVisibleTypeAnnotations"
	}
	list := make([]classfile.TypeAnnotation, 0, len(anns))
	for _, a := range anns {
		list = append(list, classfile.TypeAnnotation{
			TargetType: 0x43,
			TargetInfo: []byte{byte(pc >> 8), byte(pc)},
			TypePath:   []byte{0},
			Annotation: a,
		})
	}
	return &classfile.TypeAnnotationsAttribute{AttrHeader: b.Header(name), Visible: visible, Annotations: list}
}

func (b *ClassBuilder) Marker(name string) *classfile.MarkerAttribute {
	return &classfile.MarkerAttribute{AttrHeader: b.Header(name), Marker: classfile.KindOf(name)}
}

// Build returns the assembled class file.
func (b *ClassBuilder) Build() *classfile.ClassFile {
	return b.cf
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
