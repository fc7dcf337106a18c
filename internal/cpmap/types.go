package cpmap

import "fmt"

// UseKind names one way an instruction or attribute references a constant-pool entry.
type UseKind uint8

const (
	UseReferenced UseKind = iota
	UseLDC
	UseLDCWide
	UseGetField
	UsePutField
	UseGetStatic
	UsePutStatic
	UseInvokeVirtual
	UseInvokeSpecial
	UseInvokeStatic
	UseInvokeInterface
	UseInvokeHandleExact
	UseInvokeHandleGeneric
	UseInvokeDynamic
	UseNew
	UseAnewarray
	UseMultianewarray
	UseCheckcast
	UseInstanceof
	UseAnnotationUTF8
	useKindCount
)

var useKindNames = [...]string{
	"referenced", "ldc", "ldc_w", "getfield", "putfield", "getstatic", "putstatic",
	"invokevirtual", "invokespecial", "invokestatic", "invokeinterface",
	"invokehandle", "invokehandlegeneric", "invokedynamic",
	"new", "anewarray", "multianewarray", "checkcast", "instanceof", "annotation-utf8",
}

func (u UseKind) String() string {
	if int(u) < len(useKindNames) {
		return useKindNames[u]
	}
	return fmt.Sprintf("UseKind(%d)", uint8(u))
}

// SplitKind is a mutually exclusive method-reference use that earns its own slot when it
// co-occurs with another split kind on the same entry.
type SplitKind uint8

const (
	SplitVirtual SplitKind = iota
	SplitSpecial
	SplitStatic
	SplitInterface
	SplitHandleExact
	SplitHandleGeneric
	splitKindCount
)

// SplitKindOf maps an invoke use to its split kind.
func SplitKindOf(u UseKind) (SplitKind, bool) {
	switch u {
	case UseInvokeVirtual:
		return SplitVirtual, true
	case UseInvokeSpecial:
		return SplitSpecial, true
	case UseInvokeStatic:
		return SplitStatic, true
	case UseInvokeInterface:
		return SplitInterface, true
	case UseInvokeHandleExact:
		return SplitHandleExact, true
	case UseInvokeHandleGeneric:
		return SplitHandleGeneric, true
	}
	return 0, false
}

// SlotType is the type of one ROM constant-pool slot.
type SlotType uint8

const (
	SlotUnused SlotType = iota
	SlotClass
	SlotString
	SlotInt
	SlotFloat
	SlotLong
	SlotDouble
	SlotFieldRef
	SlotInstanceMethod
	SlotStaticMethod
	SlotHandleMethod
	SlotInterfaceMethod
	SlotInterfaceStaticMethod
	SlotInterfaceInstanceMethod
	SlotMethodType
	SlotMethodHandle
	SlotConstantDynamic
	SlotAnnotationUTF8
)

var slotTypeNames = [...]string{
	"unused", "class", "string", "int", "float", "long", "double", "fieldref",
	"instance-method", "static-method", "handle-method", "interface-method",
	"interface-static-method", "interface-instance-method", "method-type",
	"method-handle", "constant-dynamic", "annotation-utf8",
}

func (s SlotType) String() string {
	if int(s) < len(slotTypeNames) {
		return slotTypeNames[s]
	}
	return fmt.Sprintf("SlotType(%d)", uint8(s))
}

// IsMethod reports whether the slot holds a method reference of any flavor.
func (s SlotType) IsMethod() bool {
	return s >= SlotInstanceMethod && s <= SlotInterfaceInstanceMethod
}

// Slot is one entry of the output constant pool.
type Slot struct {
	Type     SlotType
	CFRIndex uint16
}

// Entry is the per-input-index descriptor.
type Entry struct {
	uses       uint32
	referenced bool
	romIndex   uint16
	split      [splitKindCount]uint16
	callSites  uint32
}

// Has reports whether use u was marked.
func (e *Entry) Has(u UseKind) bool {
	return e.uses&(1<<u) != 0
}

// Referenced reports whether the entry will occupy output slots.
func (e *Entry) Referenced() bool {
	return e.referenced || e.uses != 0
}

func (e *Entry) splitKinds() []SplitKind {
	var kinds []SplitKind
	for u := UseInvokeVirtual; u <= UseInvokeHandleGeneric; u++ {
		if e.Has(u) {
			k, _ := SplitKindOf(u)
			kinds = append(kinds, k)
		}
	}
	return kinds
}
