package cpmap

import (
	"github.com/romclass/internal/classfile"
)

// Visitor receives one callback per output slot from ConstantPoolDo. Index arguments named
// cfrIndex are input indices; utf8 and nas arguments are input indices of the Utf8 or
// NameAndType entry the slot points at.
type Visitor interface {
	VisitClass(cfrIndex, utf8 uint16)
	VisitString(cfrIndex, utf8 uint16)
	VisitMethodType(cfrIndex, utf8 uint16)
	VisitMethodHandle(cfrIndex uint16, kind uint8, memberROMIndex uint16)
	VisitConstantDynamic(cfrIndex, nas, bsmIndex uint16, returnType byte)
	VisitSingleSlot(cfrIndex uint16, value uint32)
	VisitDoubleSlot(cfrIndex uint16, high, low uint32)
	VisitFieldOrMethod(cfrIndex, classROMIndex, nas uint16, slot SlotType)
	VisitAnnotationUTF8(cfrIndex, utf8 uint16)
}

// ConstantPoolDo walks output slots 1..ROMCount()-1 in order.
func (m *Map) ConstantPoolDo(v Visitor) error {
	if !m.computed {
		return ErrNotComputed
	}
	for _, slot := range m.slots[1:] {
		e := m.cf.ConstantPool[slot.CFRIndex]
		switch slot.Type {
		case SlotClass:
			v.VisitClass(slot.CFRIndex, uint16(e.Slot1))
		case SlotString:
			v.VisitString(slot.CFRIndex, uint16(e.Slot1))
		case SlotMethodType:
			v.VisitMethodType(slot.CFRIndex, uint16(e.Slot1))
		case SlotMethodHandle:
			kind := uint8(e.Slot1)
			v.VisitMethodHandle(slot.CFRIndex, kind, m.ROMIndex(uint16(e.Slot2), handleUse(kind)))
		case SlotConstantDynamic:
			_, desc := m.cf.NameAndType(uint16(e.Slot2))
			v.VisitConstantDynamic(slot.CFRIndex, uint16(e.Slot2), uint16(e.Slot1), classfile.ReturnChar(desc))
		case SlotInt, SlotFloat:
			v.VisitSingleSlot(slot.CFRIndex, e.Slot1)
		case SlotLong, SlotDouble:
			v.VisitDoubleSlot(slot.CFRIndex, e.Slot1, e.Slot2)
		case SlotAnnotationUTF8:
			v.VisitAnnotationUTF8(slot.CFRIndex, slot.CFRIndex)
		default:
			v.VisitFieldOrMethod(slot.CFRIndex, m.ROMIndex(uint16(e.Slot1), UseReferenced), uint16(e.Slot2), slot.Type)
		}
	}
	return nil
}

// handleUse maps a method handle kind to the invoke use whose split slot it resolves to.
func handleUse(kind uint8) UseKind {
	switch kind {
	case classfile.RefInvokeVirtual:
		return UseInvokeVirtual
	case classfile.RefInvokeStatic:
		return UseInvokeStatic
	case classfile.RefInvokeSpecial, classfile.RefNewInvokeSpecial:
		return UseInvokeSpecial
	case classfile.RefInvokeInterface:
		return UseInvokeInterface
	}
	return UseReferenced
}

// Shape returns the slot type of every output slot, slot 0 included.
func (m *Map) Shape() []SlotType {
	shape := make([]SlotType, len(m.slots))
	for i, s := range m.slots {
		shape[i] = s.Type
	}
	return shape
}
