package classfile

// Element value tags.
const (
	ElemByte       = 'B'
	ElemChar       = 'C'
	ElemDouble     = 'D'
	ElemFloat      = 'F'
	ElemInt        = 'I'
	ElemLong       = 'J'
	ElemShort      = 'S'
	ElemBoolean    = 'Z'
	ElemString     = 's'
	ElemEnum       = 'e'
	ElemClass      = 'c'
	ElemAnnotation = '@'
	ElemArray      = '['
)

// Annotation is one decoded annotation structure.
type Annotation struct {
	TypeIndex uint16
	Elements  []ElementValuePair
}

type ElementValuePair struct {
	NameIndex uint16
	Value     ElementValue
}

// ElementValue is a decoded element_value. Which fields are meaningful depends on Tag:
// ConstIndex for primitives, strings and classes; EnumType/EnumConst for enums;
// Nested for annotations and Values for arrays.
type ElementValue struct {
	Tag        byte
	ConstIndex uint16
	EnumType   uint16
	EnumConst  uint16
	Nested     *Annotation
	Values     []ElementValue
}

// IsKnownElementTag reports whether tag is a valid element_value tag.
func IsKnownElementTag(tag byte) bool {
	switch tag {
	case ElemByte, ElemChar, ElemDouble, ElemFloat, ElemInt, ElemLong, ElemShort, ElemBoolean,
		ElemString, ElemEnum, ElemClass, ElemAnnotation, ElemArray:
		return true
	}
	return false
}

// TypeAnnotation is a type_annotation. TargetInfo and TypePath hold their raw encodings,
// neither of which references the constant pool.
type TypeAnnotation struct {
	TargetType uint8
	TargetInfo []byte
	TypePath   []byte
	Annotation Annotation
}

// targetInfoLength returns the fixed size of the target_info for targetType, -1 for the
// variable-length localvar targets and -2 for unknown target types.
func targetInfoLength(targetType uint8) int {
	switch targetType {
	case 0x00, 0x01: // type parameter
		return 1
	case 0x10: // supertype
		return 2
	case 0x11, 0x12: // type parameter bound
		return 2
	case 0x13, 0x14, 0x15: // empty
		return 0
	case 0x16: // formal parameter
		return 1
	case 0x17: // throws
		return 2
	case 0x40, 0x41: // localvar
		return -1
	case 0x42: // catch
		return 2
	case 0x43, 0x44, 0x45, 0x46: // offset
		return 2
	case 0x47, 0x48, 0x49, 0x4A, 0x4B: // type argument
		return 3
	}
	return -2
}

// Walk calls fn for every annotation reachable from a, depth first, including a itself.
func (a *Annotation) Walk(fn func(*Annotation)) {
	fn(a)
	for i := range a.Elements {
		a.Elements[i].Value.walk(fn)
	}
}

func (v *ElementValue) walk(fn func(*Annotation)) {
	switch v.Tag {
	case ElemAnnotation:
		if v.Nested != nil {
			v.Nested.Walk(fn)
		}
	case ElemArray:
		for i := range v.Values {
			v.Values[i].walk(fn)
		}
	}
}
