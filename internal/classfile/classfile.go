package classfile

import (
	"fmt"
	"math"
)

// ConstantPoolEntry is one constant-pool slot. Slot1 and Slot2 are untyped payloads whose
// meaning depends on Tag:
//
//	Class, String, MethodType, Module, Package: Slot1 = UTF8 index
//	Integer, Float:                             Slot1 = raw bits
//	Long, Double:                               Slot1 = high word, Slot2 = low word
//	Fieldref, Methodref, InterfaceMethodref:    Slot1 = class index, Slot2 = NameAndType index
//	NameAndType:                                Slot1 = name index, Slot2 = descriptor index
//	MethodHandle:                               Slot1 = reference kind, Slot2 = reference index
//	Dynamic, InvokeDynamic:                     Slot1 = bootstrap method index, Slot2 = NameAndType index
//
// The index following a Long or Double entry holds a TagInvalid placeholder.
type ConstantPoolEntry struct {
	Tag   Tag
	Slot1 uint32
	Slot2 uint32
	Bytes []byte // Utf8 payload (modified UTF-8)
}

// Member is a field or method declaration.
type Member struct {
	AccessFlags     AccessFlags
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []Attribute
}

// ClassFile is the parsed, structurally valid class-file tree.
type ClassFile struct {
	Magic        uint32
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool []ConstantPoolEntry
	AccessFlags  AccessFlags
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []Member
	Methods      []Member
	Attributes   []Attribute
}

// Entry returns the constant-pool entry at index, or an invalid entry when out of range.
func (cf *ClassFile) Entry(index uint16) ConstantPoolEntry {
	if int(index) >= len(cf.ConstantPool) {
		return ConstantPoolEntry{}
	}
	return cf.ConstantPool[index]
}

// Tag returns the tag of the entry at index.
func (cf *ClassFile) Tag(index uint16) Tag {
	return cf.Entry(index).Tag
}

// UTF8 returns the bytes of the Utf8 entry at index.
func (cf *ClassFile) UTF8(index uint16) []byte {
	e := cf.Entry(index)
	if e.Tag != TagUtf8 {
		return nil
	}
	return e.Bytes
}

// String returns the Utf8 entry at index as a string.
func (cf *ClassFile) String(index uint16) string {
	return string(cf.UTF8(index))
}

// ClassName returns the name of the Class entry at index.
func (cf *ClassFile) ClassName(index uint16) string {
	e := cf.Entry(index)
	if e.Tag != TagClass {
		return ""
	}
	return cf.String(uint16(e.Slot1))
}

// ThisClassName returns the binary name of the class being described.
func (cf *ClassFile) ThisClassName() string {
	return cf.ClassName(cf.ThisClass)
}

// SuperClassName returns the binary name of the superclass, or "" for java/lang/Object.
func (cf *ClassFile) SuperClassName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	return cf.ClassName(cf.SuperClass)
}

// NameAndType resolves a NameAndType entry into its name and descriptor strings.
func (cf *ClassFile) NameAndType(index uint16) (name, descriptor string) {
	e := cf.Entry(index)
	if e.Tag != TagNameAndType {
		return "", ""
	}
	return cf.String(uint16(e.Slot1)), cf.String(uint16(e.Slot2))
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref into class, name and descriptor.
func (cf *ClassFile) MemberRef(index uint16) (class, name, descriptor string) {
	e := cf.Entry(index)
	switch e.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return "", "", ""
	}
	name, descriptor = cf.NameAndType(uint16(e.Slot2))
	return cf.ClassName(uint16(e.Slot1)), name, descriptor
}

// MemberName returns the name of a field or method.
func (cf *ClassFile) MemberName(m *Member) string {
	return cf.String(m.NameIndex)
}

// MemberDescriptor returns the descriptor of a field or method.
func (cf *ClassFile) MemberDescriptor(m *Member) string {
	return cf.String(m.DescriptorIndex)
}

// Validate performs the cheap structural checks a parser is expected to have done already.
func (cf *ClassFile) Validate() error {
	if cf.Magic != Magic {
		return fmt.Errorf("%w: bad magic %#x", ErrInvalidFormat, cf.Magic)
	}
	if len(cf.ConstantPool) == 0 || len(cf.ConstantPool) > math.MaxUint16 {
		return fmt.Errorf("%w: constant pool count %d", ErrInvalidFormat, len(cf.ConstantPool))
	}
	if cf.Tag(cf.ThisClass) != TagClass {
		return fmt.Errorf("%w: this_class %d is not a Class entry", ErrInvalidFormat, cf.ThisClass)
	}
	if cf.SuperClass != 0 && cf.Tag(cf.SuperClass) != TagClass {
		return fmt.Errorf("%w: super_class %d is not a Class entry", ErrInvalidFormat, cf.SuperClass)
	}
	return nil
}

// FindAttribute returns the first attribute of kind k in attrs.
func FindAttribute(attrs []Attribute, k AttrKind) Attribute {
	for _, a := range attrs {
		if a.Kind() == k {
			return a
		}
	}
	return nil
}
