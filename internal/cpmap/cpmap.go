// Package cpmap computes the output constant pool of a ROM class.
//
// The class-file oracle marks every constant-pool entry it sees referenced, together with
// how it is used. ComputeMapAndSizes then lays out the output pool: reserved slot 0, the
// entries loaded by a one-byte ldc, every other referenced entry in input order (with
// method references split per mutually exclusive invoke kind), and the two-word Long and
// Double constants at the tail.
package cpmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
)

const (
	// MaxLDCSlots is the number of output slots addressable by a one-byte ldc operand,
	// including reserved slot 0.
	MaxLDCSlots = 256

	// MaxCallSites is the largest number of invokedynamic call sites a class may have.
	MaxCallSites = 65536
)

var (
	ErrTooManyLDCEntries = errors.New("too many constants loaded by ldc")
	ErrTooManyCallSites  = errors.New("too many invokedynamic call sites")
	ErrTooManyEntries    = errors.New("output constant pool too large")
	ErrNotComputed       = errors.New("constant pool map not computed")
	ErrInvalidReference  = errors.New("invalid constant pool reference")
)

// Map holds the use marks for a class file and, once computed, its output layout.
type Map struct {
	cf      *classfile.ClassFile
	arena   *arena.Arena
	entries []Entry

	slots         []Slot
	ramCount      int
	longCount     int
	ldcCount      int
	callSiteCount int
	staticSplit   []uint16
	specialSplit  []uint16
	staticIndex   map[uint16]uint16
	specialIndex  map[uint16]uint16
	computed      bool
}

// New allocates the per-entry descriptors for cf from a.
func New(a *arena.Arena, cf *classfile.ClassFile) (*Map, error) {
	entries, _, err := arena.AllocSlice[Entry](a, len(cf.ConstantPool))
	if err != nil {
		return nil, err
	}
	return &Map{cf: cf, arena: a, entries: entries}, nil
}

// Count returns the number of input constant-pool indices.
func (m *Map) Count() int {
	return len(m.entries)
}

// Entry returns the descriptor for input index idx.
func (m *Map) Entry(idx uint16) *Entry {
	return &m.entries[idx]
}

func (m *Map) valid(idx uint16) bool {
	return idx != 0 && int(idx) < len(m.entries)
}

// Mark records that idx is referenced. Index 0 is ignored.
func (m *Map) Mark(idx uint16) {
	m.MarkUse(idx, UseReferenced)
}

// MarkUse records that idx is referenced with use u. Member references also mark their
// class, and method handles mark the member they name.
func (m *Map) MarkUse(idx uint16, u UseKind) {
	if !m.valid(idx) {
		return
	}
	e := &m.entries[idx]
	e.referenced = true
	if u != UseReferenced {
		e.uses |= 1 << u
	}

	entry := m.cf.ConstantPool[idx]
	switch entry.Tag {
	case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
		m.Mark(uint16(entry.Slot1))
	case classfile.TagMethodHandle:
		m.Mark(uint16(entry.Slot2))
	}
}

// MarkCallSite records one invokedynamic instruction referencing idx.
func (m *Map) MarkCallSite(idx uint16) {
	if !m.valid(idx) {
		return
	}
	m.entries[idx].callSites++
	m.callSiteCount++
	m.MarkUse(idx, UseInvokeDynamic)
}

// IsReferenced reports whether idx was marked.
func (m *Map) IsReferenced(idx uint16) bool {
	return m.valid(idx) && m.entries[idx].Referenced()
}

func slotTypeFor(tag classfile.Tag) (SlotType, bool) {
	switch tag {
	case classfile.TagClass:
		return SlotClass, true
	case classfile.TagString:
		return SlotString, true
	case classfile.TagInteger:
		return SlotInt, true
	case classfile.TagFloat:
		return SlotFloat, true
	case classfile.TagLong:
		return SlotLong, true
	case classfile.TagDouble:
		return SlotDouble, true
	case classfile.TagFieldref:
		return SlotFieldRef, true
	case classfile.TagMethodType:
		return SlotMethodType, true
	case classfile.TagMethodHandle:
		return SlotMethodHandle, true
	case classfile.TagDynamic:
		return SlotConstantDynamic, true
	}
	return SlotUnused, false
}

func methodSlotType(tag classfile.Tag, k SplitKind) SlotType {
	if tag == classfile.TagInterfaceMethodref {
		switch k {
		case SplitStatic:
			return SlotInterfaceStaticMethod
		case SplitVirtual, SplitSpecial:
			return SlotInterfaceInstanceMethod
		case SplitHandleExact, SplitHandleGeneric:
			return SlotHandleMethod
		}
		return SlotInterfaceMethod
	}
	switch k {
	case SplitStatic:
		return SlotStaticMethod
	case SplitInterface:
		return SlotInterfaceMethod
	case SplitHandleExact, SplitHandleGeneric:
		return SlotHandleMethod
	}
	return SlotInstanceMethod
}

func (m *Map) appendSlot(slot Slot) error {
	if len(m.slots) == cap(m.slots) || len(m.slots) > math.MaxUint16 {
		return fmt.Errorf("%w: %d slots", ErrTooManyEntries, len(m.slots))
	}
	m.slots = append(m.slots, slot)
	return nil
}

// ComputeMapAndSizes assigns output indices to every referenced entry. It must be called
// once, after all marks have been recorded.
func (m *Map) ComputeMapAndSizes() error {
	if m.callSiteCount > MaxCallSites {
		return fmt.Errorf("%w: %d", ErrTooManyCallSites, m.callSiteCount)
	}

	worst := 1
	for i := 1; i < len(m.entries); i++ {
		e := &m.entries[i]
		if !e.Referenced() {
			continue
		}
		worst++
		if n := len(e.splitKinds()); n > 1 {
			worst += n - 1
		}
	}
	table, tok, err := arena.AllocSlice[Slot](m.arena, worst)
	if err != nil {
		return err
	}
	m.slots = table[:0]
	m.slots = append(m.slots, Slot{Type: SlotUnused})

	// One-byte ldc targets come first.
	for i := 1; i < len(m.entries); i++ {
		e := &m.entries[i]
		if !e.Has(UseLDC) {
			continue
		}
		tag := m.cf.ConstantPool[i].Tag
		st, ok := slotTypeFor(tag)
		if !ok || tag.IsWide() {
			return fmt.Errorf("%w: ldc of %s entry %d", ErrInvalidReference, tag, i)
		}
		e.romIndex = uint16(len(m.slots))
		if err := m.appendSlot(Slot{Type: st, CFRIndex: uint16(i)}); err != nil {
			return err
		}
	}
	m.ldcCount = len(m.slots) - 1
	if len(m.slots) > MaxLDCSlots {
		return fmt.Errorf("%w: %d entries", ErrTooManyLDCEntries, m.ldcCount)
	}

	for i := 1; i < len(m.entries); i++ {
		e := &m.entries[i]
		if !e.Referenced() || e.romIndex != 0 {
			continue
		}
		tag := m.cf.ConstantPool[i].Tag
		switch tag {
		case classfile.TagLong, classfile.TagDouble:
			m.longCount++
		case classfile.TagMethodref, classfile.TagInterfaceMethodref:
			if err := m.placeMethodRef(uint16(i), e, tag); err != nil {
				return err
			}
		case classfile.TagUtf8:
			if e.Has(UseAnnotationUTF8) {
				e.romIndex = uint16(len(m.slots))
				if err := m.appendSlot(Slot{Type: SlotAnnotationUTF8, CFRIndex: uint16(i)}); err != nil {
					return err
				}
			}
		default:
			st, ok := slotTypeFor(tag)
			if !ok {
				// NameAndType, InvokeDynamic, Module and Package live outside the pool.
				continue
			}
			e.romIndex = uint16(len(m.slots))
			if err := m.appendSlot(Slot{Type: st, CFRIndex: uint16(i)}); err != nil {
				return err
			}
		}
	}
	m.ramCount = len(m.slots)

	for i := 1; i < len(m.entries); i++ {
		e := &m.entries[i]
		if !e.Referenced() || e.romIndex != 0 {
			continue
		}
		tag := m.cf.ConstantPool[i].Tag
		if !tag.IsWide() {
			continue
		}
		st, _ := slotTypeFor(tag)
		e.romIndex = uint16(len(m.slots))
		if err := m.appendSlot(Slot{Type: st, CFRIndex: uint16(i)}); err != nil {
			return err
		}
	}

	m.slots = arena.ReclaimSlice(m.arena, tok, table, len(m.slots))
	m.computed = true
	return nil
}

func (m *Map) placeMethodRef(idx uint16, e *Entry, tag classfile.Tag) error {
	kinds := e.splitKinds()
	if len(kinds) <= 1 {
		k := SplitVirtual
		if tag == classfile.TagInterfaceMethodref {
			k = SplitInterface
		}
		if len(kinds) == 1 {
			k = kinds[0]
		}
		e.romIndex = uint16(len(m.slots))
		return m.appendSlot(Slot{Type: methodSlotType(tag, k), CFRIndex: idx})
	}

	for n, k := range kinds {
		romIndex := uint16(len(m.slots))
		if n == 0 {
			e.romIndex = romIndex
		}
		e.split[k] = romIndex
		if err := m.appendSlot(Slot{Type: methodSlotType(tag, k), CFRIndex: idx}); err != nil {
			return err
		}
		switch k {
		case SplitStatic:
			if m.staticIndex == nil {
				m.staticIndex = make(map[uint16]uint16)
			}
			m.staticIndex[idx] = uint16(len(m.staticSplit))
			m.staticSplit = append(m.staticSplit, romIndex)
		case SplitSpecial:
			if m.specialIndex == nil {
				m.specialIndex = make(map[uint16]uint16)
			}
			m.specialIndex[idx] = uint16(len(m.specialSplit))
			m.specialSplit = append(m.specialSplit, romIndex)
		}
	}
	return nil
}

// ROMIndex returns the output index for input index idx as used by u. Split method
// references resolve to the slot of u's split kind; any other use resolves to the primary
// slot. Unreferenced entries map to 0.
func (m *Map) ROMIndex(idx uint16, u UseKind) uint16 {
	if !m.valid(idx) {
		return 0
	}
	e := &m.entries[idx]
	if k, ok := SplitKindOf(u); ok && e.split[k] != 0 {
		return e.split[k]
	}
	return e.romIndex
}

// StaticSplitIndex returns the position of idx in the static split table.
func (m *Map) StaticSplitIndex(idx uint16) (uint16, bool) {
	v, ok := m.staticIndex[idx]
	return v, ok
}

// SpecialSplitIndex returns the position of idx in the special split table.
func (m *Map) SpecialSplitIndex(idx uint16) (uint16, bool) {
	v, ok := m.specialIndex[idx]
	return v, ok
}

// StaticSplitTable lists the output indices reached through invokestaticsplit.
func (m *Map) StaticSplitTable() []uint16 {
	return m.staticSplit
}

// SpecialSplitTable lists the output indices reached through invokespecialsplit.
func (m *Map) SpecialSplitTable() []uint16 {
	return m.specialSplit
}

// Slots returns the computed output pool, slot 0 included.
func (m *Map) Slots() []Slot {
	return m.slots
}

// ROMCount returns the number of output slots including slot 0.
func (m *Map) ROMCount() int {
	return len(m.slots)
}

// RAMCount returns the number of slots preceding the Long/Double tail.
func (m *Map) RAMCount() int {
	return m.ramCount
}

// LDCCount returns how many entries were placed in the one-byte ldc range.
func (m *Map) LDCCount() int {
	return m.ldcCount
}

// CallSiteCount returns the number of invokedynamic call sites marked.
func (m *Map) CallSiteCount() int {
	return m.callSiteCount
}

// Computed reports whether ComputeMapAndSizes succeeded.
func (m *Map) Computed() bool {
	return m.computed
}
