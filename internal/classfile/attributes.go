package classfile

// AttrKind identifies a decoded attribute.
type AttrKind uint8

const (
	AttrUnknown AttrKind = iota
	AttrCode
	AttrStackMapTable
	AttrLineNumberTable
	AttrLocalVariableTable
	AttrLocalVariableTypeTable
	AttrExceptions
	AttrSignature
	AttrSourceFile
	AttrSourceDebugExtension
	AttrConstantValue
	AttrInnerClasses
	AttrEnclosingMethod
	AttrNestHost
	AttrNestMembers
	AttrPermittedSubclasses
	AttrRecord
	AttrBootstrapMethods
	AttrMethodParameters
	AttrAnnotationDefault
	AttrRuntimeVisibleAnnotations
	AttrRuntimeInvisibleAnnotations
	AttrRuntimeVisibleParameterAnnotations
	AttrRuntimeInvisibleParameterAnnotations
	AttrRuntimeVisibleTypeAnnotations
	AttrRuntimeInvisibleTypeAnnotations
	AttrSynthetic
	AttrDeprecated
)

var attrNames = map[string]AttrKind{
	"Code":                                 AttrCode,
	"StackMapTable":                        AttrStackMapTable,
	"LineNumberTable":                      AttrLineNumberTable,
	"LocalVariableTable":                   AttrLocalVariableTable,
	"LocalVariableTypeTable":               AttrLocalVariableTypeTable,
	"Exceptions":                           AttrExceptions,
	"Signature":                            AttrSignature,
	"SourceFile":                           AttrSourceFile,
	"SourceDebugExtension":                 AttrSourceDebugExtension,
	"ConstantValue":                        AttrConstantValue,
	"InnerClasses":                         AttrInnerClasses,
	"EnclosingMethod":                      AttrEnclosingMethod,
	"NestHost":                             AttrNestHost,
	"NestMembers":                          AttrNestMembers,
	"PermittedSubclasses":                  AttrPermittedSubclasses,
	"Record":                               AttrRecord,
	"BootstrapMethods":                     AttrBootstrapMethods,
	"MethodParameters":                     AttrMethodParameters,
	"AnnotationDefault":                    AttrAnnotationDefault,
	"RuntimeVisibleAnnotations":            AttrRuntimeVisibleAnnotations,
	"RuntimeInvisibleAnnotations":          AttrRuntimeInvisibleAnnotations,
	"RuntimeVisibleParameterAnnotations":   AttrRuntimeVisibleParameterAnnotations,
	"RuntimeInvisibleParameterAnnotations": AttrRuntimeInvisibleParameterAnnotations,
	"RuntimeVisibleTypeAnnotations":        AttrRuntimeVisibleTypeAnnotations,
	"RuntimeInvisibleTypeAnnotations":      AttrRuntimeInvisibleTypeAnnotations,
	"Synthetic":                            AttrSynthetic,
	"Deprecated":                           AttrDeprecated,
}

// KindOf maps an attribute name to its kind.
func KindOf(name string) AttrKind {
	return attrNames[name]
}

// String returns the attribute name for k.
func (k AttrKind) String() string {
	for name, kind := range attrNames {
		if kind == k {
			return name
		}
	}
	return "Unknown"
}

// Attribute is implemented by every decoded attribute.
type Attribute interface {
	Kind() AttrKind
	// Name is the constant-pool index of the attribute's name.
	Name() uint16
}

// AttrHeader carries the fields shared by all attributes.
type AttrHeader struct {
	NameIndex uint16
}

func (h AttrHeader) Name() uint16 { return h.NameIndex }

// ExceptionHandler is one entry of a Code attribute's exception table.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

type CodeAttribute struct {
	AttrHeader
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
	ExceptionTable []ExceptionHandler
	Attributes     []Attribute
}

func (*CodeAttribute) Kind() AttrKind { return AttrCode }

// VerificationType is one verification_type_info. Data holds the constant-pool
// index for ItemObject and the instruction offset for ItemUninitialized.
type VerificationType struct {
	Tag  uint8
	Data uint16
}

// StackMapFrame is one decoded stack_map_frame.
type StackMapFrame struct {
	Type        uint8
	OffsetDelta uint16
	Locals      []VerificationType
	Stack       []VerificationType
}

type StackMapTableAttribute struct {
	AttrHeader
	Frames []StackMapFrame
}

func (*StackMapTableAttribute) Kind() AttrKind { return AttrStackMapTable }

type LineNumber struct {
	StartPC    uint16
	LineNumber uint16
}

type LineNumberTableAttribute struct {
	AttrHeader
	Entries []LineNumber
}

func (*LineNumberTableAttribute) Kind() AttrKind { return AttrLineNumberTable }

// LocalVariable is an entry of either LocalVariableTable or LocalVariableTypeTable.
// For the type table DescriptorIndex refers to the generic signature.
type LocalVariable struct {
	StartPC         uint16
	Length          uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Index           uint16
}

type LocalVariableTableAttribute struct {
	AttrHeader
	Entries []LocalVariable
}

func (*LocalVariableTableAttribute) Kind() AttrKind { return AttrLocalVariableTable }

type LocalVariableTypeTableAttribute struct {
	AttrHeader
	Entries []LocalVariable
}

func (*LocalVariableTypeTableAttribute) Kind() AttrKind { return AttrLocalVariableTypeTable }

type ExceptionsAttribute struct {
	AttrHeader
	Exceptions []uint16
}

func (*ExceptionsAttribute) Kind() AttrKind { return AttrExceptions }

type SignatureAttribute struct {
	AttrHeader
	SignatureIndex uint16
}

func (*SignatureAttribute) Kind() AttrKind { return AttrSignature }

type SourceFileAttribute struct {
	AttrHeader
	SourceFileIndex uint16
}

func (*SourceFileAttribute) Kind() AttrKind { return AttrSourceFile }

type SourceDebugExtensionAttribute struct {
	AttrHeader
	Data []byte
}

func (*SourceDebugExtensionAttribute) Kind() AttrKind { return AttrSourceDebugExtension }

type ConstantValueAttribute struct {
	AttrHeader
	ValueIndex uint16
}

func (*ConstantValueAttribute) Kind() AttrKind { return AttrConstantValue }

type InnerClass struct {
	InnerClassInfoIndex uint16
	OuterClassInfoIndex uint16
	InnerNameIndex      uint16
	AccessFlags         AccessFlags
}

type InnerClassesAttribute struct {
	AttrHeader
	Classes []InnerClass
}

func (*InnerClassesAttribute) Kind() AttrKind { return AttrInnerClasses }

type EnclosingMethodAttribute struct {
	AttrHeader
	ClassIndex  uint16
	MethodIndex uint16
}

func (*EnclosingMethodAttribute) Kind() AttrKind { return AttrEnclosingMethod }

type NestHostAttribute struct {
	AttrHeader
	HostClassIndex uint16
}

func (*NestHostAttribute) Kind() AttrKind { return AttrNestHost }

type NestMembersAttribute struct {
	AttrHeader
	Classes []uint16
}

func (*NestMembersAttribute) Kind() AttrKind { return AttrNestMembers }

type PermittedSubclassesAttribute struct {
	AttrHeader
	Classes []uint16
}

func (*PermittedSubclassesAttribute) Kind() AttrKind { return AttrPermittedSubclasses }

type RecordComponent struct {
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []Attribute
}

type RecordAttribute struct {
	AttrHeader
	Components []RecordComponent
}

func (*RecordAttribute) Kind() AttrKind { return AttrRecord }

type BootstrapMethod struct {
	MethodRef uint16
	Arguments []uint16
}

type BootstrapMethodsAttribute struct {
	AttrHeader
	Methods []BootstrapMethod
}

func (*BootstrapMethodsAttribute) Kind() AttrKind { return AttrBootstrapMethods }

type MethodParameter struct {
	NameIndex   uint16
	AccessFlags AccessFlags
}

type MethodParametersAttribute struct {
	AttrHeader
	Parameters []MethodParameter
}

func (*MethodParametersAttribute) Kind() AttrKind { return AttrMethodParameters }

type AnnotationDefaultAttribute struct {
	AttrHeader
	Value ElementValue
}

func (*AnnotationDefaultAttribute) Kind() AttrKind { return AttrAnnotationDefault }

// AnnotationsAttribute is RuntimeVisibleAnnotations or RuntimeInvisibleAnnotations.
type AnnotationsAttribute struct {
	AttrHeader
	Visible     bool
	Annotations []Annotation
}

func (a *AnnotationsAttribute) Kind() AttrKind {
	if a.Visible {
		return AttrRuntimeVisibleAnnotations
	}
	return AttrRuntimeInvisibleAnnotations
}

// ParameterAnnotationsAttribute is Runtime(In)VisibleParameterAnnotations.
type ParameterAnnotationsAttribute struct {
	AttrHeader
	Visible    bool
	Parameters [][]Annotation
}

func (a *ParameterAnnotationsAttribute) Kind() AttrKind {
	if a.Visible {
		return AttrRuntimeVisibleParameterAnnotations
	}
	return AttrRuntimeInvisibleParameterAnnotations
}

// TypeAnnotationsAttribute is Runtime(In)VisibleTypeAnnotations.
type TypeAnnotationsAttribute struct {
	AttrHeader
	Visible     bool
	Annotations []TypeAnnotation
}

func (a *TypeAnnotationsAttribute) Kind() AttrKind {
	if a.Visible {
		return AttrRuntimeVisibleTypeAnnotations
	}
	return AttrRuntimeInvisibleTypeAnnotations
}

// MarkerAttribute is a zero-length attribute such as Synthetic or Deprecated.
type MarkerAttribute struct {
	AttrHeader
	Marker AttrKind
}

func (a *MarkerAttribute) Kind() AttrKind { return a.Marker }

// UnknownAttribute preserves an attribute the reader does not decode.
type UnknownAttribute struct {
	AttrHeader
	Data []byte
}

func (*UnknownAttribute) Kind() AttrKind { return AttrUnknown }
