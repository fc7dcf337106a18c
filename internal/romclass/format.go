package romclass

// Magic opens every ROM class image. It is written in the image byte order, which lets a
// reader detect that order from the first four bytes.
const Magic uint32 = 0x524F4D43

// Header field offsets. Every SRP field holds a signed 32-bit displacement from the
// field's own address; zero means absent.
const (
	offMagic                   = 0
	offROMSize                 = 4
	offMajorVersion            = 8
	offMinorVersion            = 10
	offClassName               = 12
	offSuperclassName          = 16
	offModifiers               = 20
	offExtraModifiers          = 24
	offKnownAnnotations        = 28
	offInterfaceCount          = 32
	offInterfaces              = 36
	offMethodCount             = 40
	offMethods                 = 44
	offFieldCount              = 48
	offFields                  = 52
	offInstanceFieldCount      = 56
	offSingleScalarStaticCount = 60
	offObjectStaticCount       = 64
	offDoubleScalarStaticCount = 68
	offROMConstantPoolCount    = 72
	offRAMConstantPoolCount    = 76
	offCPShape                 = 80
	offMaxBranchCount          = 84
	offOuterClassName          = 88
	offMemberAccessFlags       = 92
	offInnerClassCount         = 96
	offInnerClasses            = 100
	offEnclosedInnerCount      = 104
	offEnclosedInnerClasses    = 108
	offNestHost                = 112
	offNestMemberCount         = 116
	offNestMembers             = 120
	offCallSiteCount           = 124
	offCallSites               = 128
	offBootstrapMethodCount    = 132
	offBootstrapMethods        = 136
	offStaticSplitCount        = 140
	offStaticSplitTable        = 144
	offSpecialSplitCount       = 148
	offSpecialSplitTable       = 152
	offInvokeCacheCount        = 156
	offMethodTypeCount         = 160
	offOptionalFlags           = 164
	offOptionalInfo            = 168

	// HeaderSize is the fixed header length; the constant pool starts right after it.
	HeaderSize = 176

	// SlotSize is the width of one constant-pool slot.
	SlotSize = 8
)

// Class extra modifier bits.
const (
	ClassSynthetic uint32 = 1 << iota
	ClassDeprecated
	ClassRecord
	ClassHasFinalizer
	ClassInnerClass
	ClassSealed
	ClassHasVerifyData
	ClassHasCallSites
)

// Optional info flags. The optional info block holds one SRP per set flag, in bit order.
const (
	OptSourceFile uint32 = 1 << iota
	OptSourceDebugExtension
	OptGenericSignature
	OptEnclosingMethod
	OptSimpleName
	OptAnnotations
	OptTypeAnnotations
	OptRecord
	OptPermittedSubclasses
	optionalFlagLimit
)

// Field flag bits stored after a field's modifiers.
const (
	FieldHasConstant uint32 = 1 << iota
	FieldWideConstant
	FieldHasSignature
	FieldHasAnnotations
	FieldHasTypeAnnotations
	FieldDeprecated
)

// Record component flag bits.
const (
	ComponentHasSignature uint32 = 1 << iota
	ComponentHasAnnotations
	ComponentHasTypeAnnotations
)

// Native argument and return type codes.
const (
	NativeVoid byte = iota
	NativeBoolean
	NativeByte
	NativeChar
	NativeShort
	NativeFloat
	NativeInt
	NativeDouble
	NativeLong
	NativeObject
)

// Fixed sizes of the per-member headers.
const (
	fieldHeaderSize  = 20
	methodHeaderSize = 32
	debugHeaderSize  = 32
)

// nativeType maps a descriptor type character to its native code.
func nativeType(c byte) byte {
	switch c {
	case 'V':
		return NativeVoid
	case 'Z':
		return NativeBoolean
	case 'B':
		return NativeByte
	case 'C':
		return NativeChar
	case 'S':
		return NativeShort
	case 'F':
		return NativeFloat
	case 'I':
		return NativeInt
	case 'D':
		return NativeDouble
	case 'J':
		return NativeLong
	}
	return NativeObject
}

func alignUp(v uint64, n uint64) uint64 {
	return (v + n - 1) &^ (n - 1)
}
