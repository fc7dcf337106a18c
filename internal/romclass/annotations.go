package romclass

import (
	"encoding/binary"

	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
)

// Annotation data keeps the class-file encoding, big-endian, with every constant-pool
// index rewritten to its output slot. Utf8 references resolve to annotation slots.

func be16(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

func (w *classWriter[C]) annotationUTF8(idx uint16) uint16 {
	return w.cp.ROMIndex(idx, cpmap.UseAnnotationUTF8)
}

func (w *classWriter[C]) encodeAnnotations(dst []byte, anns []classfile.Annotation) []byte {
	dst = be16(dst, uint16(len(anns)))
	for i := range anns {
		dst = w.encodeAnnotation(dst, &anns[i])
	}
	return dst
}

func (w *classWriter[C]) encodeParameterAnnotations(dst []byte, params [][]classfile.Annotation) []byte {
	dst = append(dst, byte(len(params)))
	for _, anns := range params {
		dst = w.encodeAnnotations(dst, anns)
	}
	return dst
}

func (w *classWriter[C]) encodeTypeAnnotations(dst []byte, anns []classfile.TypeAnnotation) []byte {
	dst = be16(dst, uint16(len(anns)))
	for i := range anns {
		ta := &anns[i]
		dst = append(dst, ta.TargetType)
		dst = append(dst, ta.TargetInfo...)
		dst = append(dst, ta.TypePath...)
		dst = w.encodeAnnotation(dst, &ta.Annotation)
	}
	return dst
}

func (w *classWriter[C]) encodeAnnotation(dst []byte, a *classfile.Annotation) []byte {
	dst = be16(dst, w.annotationUTF8(a.TypeIndex))
	dst = be16(dst, uint16(len(a.Elements)))
	for i := range a.Elements {
		p := &a.Elements[i]
		dst = be16(dst, w.annotationUTF8(p.NameIndex))
		dst = w.encodeElementValue(dst, &p.Value)
	}
	return dst
}

func (w *classWriter[C]) encodeElementValue(dst []byte, v *classfile.ElementValue) []byte {
	dst = append(dst, v.Tag)
	switch v.Tag {
	case classfile.ElemString, classfile.ElemClass:
		dst = be16(dst, w.annotationUTF8(v.ConstIndex))
	case classfile.ElemEnum:
		dst = be16(dst, w.annotationUTF8(v.EnumType))
		dst = be16(dst, w.annotationUTF8(v.EnumConst))
	case classfile.ElemAnnotation:
		dst = w.encodeAnnotation(dst, v.Nested)
	case classfile.ElemArray:
		dst = be16(dst, uint16(len(v.Values)))
		for i := range v.Values {
			dst = w.encodeElementValue(dst, &v.Values[i])
		}
	default:
		dst = be16(dst, w.cp.ROMIndex(v.ConstIndex, cpmap.UseReferenced))
	}
	return dst
}
