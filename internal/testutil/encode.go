package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/romclass/internal/classfile"
)

// Bytes serializes the built class into class-file format.
func (b *ClassBuilder) Bytes() []byte {
	return Encode(b.cf)
}

// Encode serializes cf into class-file format.
func Encode(cf *classfile.ClassFile) []byte {
	var e encoder
	e.u32(cf.Magic)
	e.u16(cf.MinorVersion)
	e.u16(cf.MajorVersion)
	e.u16(uint16(len(cf.ConstantPool)))
	for i := 1; i < len(cf.ConstantPool); i++ {
		c := cf.ConstantPool[i]
		e.u8(uint8(c.Tag))
		switch c.Tag {
		case classfile.TagUtf8:
			e.u16(uint16(len(c.Bytes)))
			e.buf.Write(c.Bytes)
		case classfile.TagInteger, classfile.TagFloat:
			e.u32(c.Slot1)
		case classfile.TagLong, classfile.TagDouble:
			e.u32(c.Slot1)
			e.u32(c.Slot2)
			i++
		case classfile.TagClass, classfile.TagString, classfile.TagMethodType, classfile.TagModule, classfile.TagPackage:
			e.u16(uint16(c.Slot1))
		case classfile.TagMethodHandle:
			e.u8(uint8(c.Slot1))
			e.u16(uint16(c.Slot2))
		default:
			e.u16(uint16(c.Slot1))
			e.u16(uint16(c.Slot2))
		}
	}
	e.u16(uint16(cf.AccessFlags))
	e.u16(cf.ThisClass)
	e.u16(cf.SuperClass)
	e.u16s(cf.Interfaces)
	for _, members := range [][]classfile.Member{cf.Fields, cf.Methods} {
		e.u16(uint16(len(members)))
		for _, m := range members {
			e.u16(uint16(m.AccessFlags))
			e.u16(m.NameIndex)
			e.u16(m.DescriptorIndex)
			e.attributes(m.Attributes)
		}
	}
	e.attributes(cf.Attributes)
	return e.buf.Bytes()
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u16s(list []uint16) {
	e.u16(uint16(len(list)))
	for _, v := range list {
		e.u16(v)
	}
}

func (e *encoder) attributes(attrs []classfile.Attribute) {
	e.u16(uint16(len(attrs)))
	for _, a := range attrs {
		var body encoder
		body.attributeBody(a)
		e.u16(a.Name())
		e.u32(uint32(body.buf.Len()))
		e.buf.Write(body.buf.Bytes())
	}
}

func (e *encoder) attributeBody(a classfile.Attribute) {
	switch a := a.(type) {
	case *classfile.CodeAttribute:
		e.u16(a.MaxStack)
		e.u16(a.MaxLocals)
		e.u32(uint32(len(a.Code)))
		e.buf.Write(a.Code)
		e.u16(uint16(len(a.ExceptionTable)))
		for _, h := range a.ExceptionTable {
			e.u16(h.StartPC)
			e.u16(h.EndPC)
			e.u16(h.HandlerPC)
			e.u16(h.CatchType)
		}
		e.attributes(a.Attributes)
	case *classfile.StackMapTableAttribute:
		e.u16(uint16(len(a.Frames)))
		for _, f := range a.Frames {
			e.frame(f)
		}
	case *classfile.LineNumberTableAttribute:
		e.u16(uint16(len(a.Entries)))
		for _, ln := range a.Entries {
			e.u16(ln.StartPC)
			e.u16(ln.LineNumber)
		}
	case *classfile.LocalVariableTableAttribute:
		e.localVars(a.Entries)
	case *classfile.LocalVariableTypeTableAttribute:
		e.localVars(a.Entries)
	case *classfile.ExceptionsAttribute:
		e.u16s(a.Exceptions)
	case *classfile.SignatureAttribute:
		e.u16(a.SignatureIndex)
	case *classfile.SourceFileAttribute:
		e.u16(a.SourceFileIndex)
	case *classfile.SourceDebugExtensionAttribute:
		e.buf.Write(a.Data)
	case *classfile.ConstantValueAttribute:
		e.u16(a.ValueIndex)
	case *classfile.InnerClassesAttribute:
		e.u16(uint16(len(a.Classes)))
		for _, ic := range a.Classes {
			e.u16(ic.InnerClassInfoIndex)
			e.u16(ic.OuterClassInfoIndex)
			e.u16(ic.InnerNameIndex)
			e.u16(uint16(ic.AccessFlags))
		}
	case *classfile.EnclosingMethodAttribute:
		e.u16(a.ClassIndex)
		e.u16(a.MethodIndex)
	case *classfile.NestHostAttribute:
		e.u16(a.HostClassIndex)
	case *classfile.NestMembersAttribute:
		e.u16s(a.Classes)
	case *classfile.PermittedSubclassesAttribute:
		e.u16s(a.Classes)
	case *classfile.RecordAttribute:
		e.u16(uint16(len(a.Components)))
		for _, rc := range a.Components {
			e.u16(rc.NameIndex)
			e.u16(rc.DescriptorIndex)
			e.attributes(rc.Attributes)
		}
	case *classfile.BootstrapMethodsAttribute:
		e.u16(uint16(len(a.Methods)))
		for _, m := range a.Methods {
			e.u16(m.MethodRef)
			e.u16s(m.Arguments)
		}
	case *classfile.MethodParametersAttribute:
		e.u8(uint8(len(a.Parameters)))
		for _, p := range a.Parameters {
			e.u16(p.NameIndex)
			e.u16(uint16(p.AccessFlags))
		}
	case *classfile.AnnotationDefaultAttribute:
		e.elementValue(a.Value)
	case *classfile.AnnotationsAttribute:
		e.annotations(a.Annotations)
	case *classfile.ParameterAnnotationsAttribute:
		e.u8(uint8(len(a.Parameters)))
		for _, p := range a.Parameters {
			e.annotations(p)
		}
	case *classfile.TypeAnnotationsAttribute:
		e.u16(uint16(len(a.Annotations)))
		for _, ta := range a.Annotations {
			e.u8(ta.TargetType)
			e.buf.Write(ta.TargetInfo)
			e.buf.Write(ta.TypePath)
			e.annotation(ta.Annotation)
		}
	case *classfile.MarkerAttribute:
	case *classfile.UnknownAttribute:
		e.buf.Write(a.Data)
	}
}

func (e *encoder) localVars(entries []classfile.LocalVariable) {
	e.u16(uint16(len(entries)))
	for _, lv := range entries {
		e.u16(lv.StartPC)
		e.u16(lv.Length)
		e.u16(lv.NameIndex)
		e.u16(lv.DescriptorIndex)
		e.u16(lv.Index)
	}
}

func (e *encoder) verificationTypes(list []classfile.VerificationType) {
	for _, v := range list {
		e.u8(v.Tag)
		if v.Tag == classfile.ItemObject || v.Tag == classfile.ItemUninitialized {
			e.u16(v.Data)
		}
	}
}

func (e *encoder) frame(f classfile.StackMapFrame) {
	e.u8(f.Type)
	switch {
	case f.Type <= classfile.FrameSameMax:
	case f.Type <= classfile.FrameSameLocals1StackItemMax:
		e.verificationTypes(f.Stack)
	case f.Type == classfile.FrameSameLocals1StackItemExtended:
		e.u16(f.OffsetDelta)
		e.verificationTypes(f.Stack)
	case f.Type <= classfile.FrameSameExtended:
		e.u16(f.OffsetDelta)
	case f.Type <= classfile.FrameAppendMax:
		e.u16(f.OffsetDelta)
		e.verificationTypes(f.Locals)
	default:
		e.u16(f.OffsetDelta)
		e.u16(uint16(len(f.Locals)))
		e.verificationTypes(f.Locals)
		e.u16(uint16(len(f.Stack)))
		e.verificationTypes(f.Stack)
	}
}

func (e *encoder) annotations(list []classfile.Annotation) {
	e.u16(uint16(len(list)))
	for _, a := range list {
		e.annotation(a)
	}
}

func (e *encoder) annotation(a classfile.Annotation) {
	e.u16(a.TypeIndex)
	e.u16(uint16(len(a.Elements)))
	for _, p := range a.Elements {
		e.u16(p.NameIndex)
		e.elementValue(p.Value)
	}
}

func (e *encoder) elementValue(v classfile.ElementValue) {
	e.u8(v.Tag)
	switch v.Tag {
	case classfile.ElemEnum:
		e.u16(v.EnumType)
		e.u16(v.EnumConst)
	case classfile.ElemAnnotation:
		e.annotation(*v.Nested)
	case classfile.ElemArray:
		e.u16(uint16(len(v.Values)))
		for _, item := range v.Values {
			e.elementValue(item)
		}
	default:
		e.u16(v.ConstIndex)
	}
}
