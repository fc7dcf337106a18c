package oracle

import (
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
)

// FieldCategory groups fields the way the ROM class counts its statics.
type FieldCategory uint8

const (
	FieldInstance FieldCategory = iota
	FieldStaticSingle
	FieldStaticObject
	FieldStaticDouble
)

func fieldCategory(flags classfile.AccessFlags, desc string) FieldCategory {
	if !flags.IsStatic() {
		return FieldInstance
	}
	switch {
	case classfile.IsReferenceType(desc):
		return FieldStaticObject
	case classfile.IsWideType(desc):
		return FieldStaticDouble
	}
	return FieldStaticSingle
}

// FieldInfo is everything the writer needs about one field.
type FieldInfo struct {
	Name             uint16
	Descriptor       uint16
	AccessFlags      classfile.AccessFlags
	Category         FieldCategory
	ConstantValue    uint16
	Signature        uint16
	Annotations      *classfile.AnnotationsAttribute
	TypeAnnotations  *classfile.TypeAnnotationsAttribute
	KnownAnnotations AnnotationSet
	Synthetic        bool
	Deprecated       bool
}

// MethodFlags are derived method properties.
type MethodFlags uint32

const (
	MethodEmpty MethodFlags = 1 << iota
	MethodGetter
	MethodVTable
	MethodObjectConstructor
	MethodClassInitializer
	MethodFinalizer
	MethodHasBackwardBranch
	MethodHasGenericSignature
	MethodHasAnnotations
	MethodHasParameterAnnotations
	MethodHasTypeAnnotations
	MethodHasDefaultAnnotation
	MethodHasMethodParameters
	MethodHasStackMap
	MethodHasExceptionInfo
	MethodHasDebugInfo
	MethodDeprecated
	MethodHasCodeTypeAnnotations
)

func (f MethodFlags) Has(flag MethodFlags) bool { return f&flag != 0 }

// LocalVariableInfo is a LocalVariableTable entry together with the generic signature
// contributed by a matching LocalVariableTypeTable entry, if any.
type LocalVariableInfo struct {
	classfile.LocalVariable
	Signature uint16
}

// Fixup patches a constant-pool operand once the output pool is known.
type Fixup struct {
	Offset   uint32
	CFRIndex uint16
	Use      cpmap.UseKind
	Width    uint8
}

// MethodInfo is everything the writer needs about one method.
type MethodInfo struct {
	Index            int
	Name             uint16
	Descriptor       uint16
	AccessFlags      classfile.AccessFlags
	Flags            MethodFlags
	KnownAnnotations AnnotationSet

	ArgTypes   []byte
	ReturnType byte
	SendSlots  int

	MaxStack  uint16
	MaxLocals uint16
	// Code is the rewritten bytecode, operands in the configured byte order.
	Code              []byte
	ExceptionHandlers []classfile.ExceptionHandler
	ThrownExceptions  []uint16
	BranchCount       int

	Signature            uint16
	Annotations          *classfile.AnnotationsAttribute
	ParameterAnnotations *classfile.ParameterAnnotationsAttribute
	TypeAnnotations      *classfile.TypeAnnotationsAttribute
	CodeTypeAnnotations  *classfile.TypeAnnotationsAttribute // from the Code attribute
	DefaultAnnotation    *classfile.AnnotationDefaultAttribute
	MethodParameters     []classfile.MethodParameter
	StackMap             []classfile.StackMapFrame

	// LineNumbers holds the compressed table of LineNumberCount entries.
	LineNumbers     []byte
	LineNumberCount int
	LocalVariables  []LocalVariableInfo

	fixups []Fixup
}

// IsNative reports whether the method has no bytecode because it is native.
func (m *MethodInfo) IsNative() bool { return m.AccessFlags.IsNative() }

// HasCode reports whether the method carries a bytecode body.
func (m *MethodInfo) HasCode() bool { return len(m.Code) > 0 }

// RecordComponentInfo describes one record component.
type RecordComponentInfo struct {
	Name            uint16
	Descriptor      uint16
	Signature       uint16
	Annotations     *classfile.AnnotationsAttribute
	TypeAnnotations *classfile.TypeAnnotationsAttribute
}

// ClassInfo holds the class-level facts gathered from the header and class attributes.
type ClassInfo struct {
	Name        uint16 // Utf8 index of this class's name
	SuperName   uint16 // Utf8 index, 0 for java/lang/Object
	AccessFlags classfile.AccessFlags
	Interfaces  []uint16

	SourceFile           uint16
	SourceDebugExtension []byte
	Signature            uint16

	OuterClass           uint16
	SimpleName           uint16
	MemberAccessFlags    classfile.AccessFlags
	InnerClasses         []uint16
	EnclosedInnerClasses []uint16
	EnclosingClass       uint16
	EnclosingMethod      uint16

	NestHost            uint16
	NestMembers         []uint16
	PermittedSubclasses []uint16

	IsRecord         bool
	RecordComponents []RecordComponentInfo

	BootstrapMethods []classfile.BootstrapMethod
	// CallSites lists the InvokeDynamic entry of every invokedynamic instruction in
	// encounter order.
	CallSites []uint16

	Annotations      *classfile.AnnotationsAttribute
	TypeAnnotations  *classfile.TypeAnnotationsAttribute
	KnownAnnotations AnnotationSet
	Synthetic        bool
	Deprecated       bool

	MaxBranchCount          int
	HasFinalizer            bool
	SingleScalarStaticCount int
	ObjectStaticCount       int
	DoubleScalarStaticCount int
	InstanceFieldCount      int
}
