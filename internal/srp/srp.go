// Package srp resolves self-relative pointers for the ROM class writer.
//
// Every structure that something points at is named by a symbolic Key. During the
// measuring pass the writer records, per key, the offset at which the structure landed
// inside its segment. Once that pass is complete the table is resolved against the
// segment base addresses, and only the Resolved form can compute displacements.
package srp

import (
	"fmt"
)

// Key names one pointer target.
type Key uint32

// Segment identifies the output buffer a key's offset is relative to.
type Segment uint8

const (
	SegmentMain Segment = iota
	SegmentUTF8
	SegmentLineNumbers
	SegmentVariableInfo
	segmentCount
)

func (s Segment) String() string {
	switch s {
	case SegmentMain:
		return "main"
	case SegmentUTF8:
		return "utf8"
	case SegmentLineNumbers:
		return "line-numbers"
	case SegmentVariableInfo:
		return "variable-info"
	}
	return fmt.Sprintf("Segment(%d)", uint8(s))
}

// Bases holds the absolute base address of every segment.
type Bases [segmentCount]uint64

type state uint8

const (
	statePending state = iota
	stateMarked
	stateInterned
)

type entry struct {
	offset  uint64
	segment Segment
	state   state
}

// ConsistencyError is the panic value raised when the table is misused.
type ConsistencyError struct {
	Key    Key
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("srp: key %d: %s", e.Key, e.Reason)
}

// OffsetTable records where each key's structure was placed.
type OffsetTable struct {
	entries []entry
}

// NewOffsetTable creates a table sized for keys below hint; it grows on demand.
func NewOffsetTable(hint int) *OffsetTable {
	return &OffsetTable{entries: make([]entry, hint)}
}

func (t *OffsetTable) slot(k Key) *entry {
	if int(k) >= len(t.entries) {
		n := len(t.entries) * 2
		if n <= int(k) {
			n = int(k) + 1
		}
		grown := make([]entry, n)
		copy(grown, t.entries)
		t.entries = grown
	}
	return &t.entries[k]
}

// Insert records that key k lives at offset within segment. Inserting a key twice without
// an intervening Clear panics with *ConsistencyError.
func (t *OffsetTable) Insert(k Key, offset uint64, segment Segment) {
	e := t.slot(k)
	if e.state != statePending {
		panic(&ConsistencyError{Key: k, Reason: "inserted twice"})
	}
	*e = entry{offset: offset, segment: segment, state: stateMarked}
}

// SetInternedAt resolves k to an absolute address outside every segment.
func (t *OffsetTable) SetInternedAt(k Key, addr uint64) {
	e := t.slot(k)
	if e.state == stateMarked {
		panic(&ConsistencyError{Key: k, Reason: "interned after being marked"})
	}
	*e = entry{offset: addr, state: stateInterned}
}

// IsMarked reports whether k was placed in a segment.
func (t *OffsetTable) IsMarked(k Key) bool {
	return int(k) < len(t.entries) && t.entries[k].state == stateMarked
}

// IsInterned reports whether k resolves to an interned address.
func (t *OffsetTable) IsInterned(k Key) bool {
	return int(k) < len(t.entries) && t.entries[k].state == stateInterned
}

// Offset returns the recorded segment offset of k.
func (t *OffsetTable) Offset(k Key) (uint64, Segment, bool) {
	if !t.IsMarked(k) {
		return 0, 0, false
	}
	e := t.entries[k]
	return e.offset, e.segment, true
}

// Clear forgets every marked key. Interned keys survive.
func (t *OffsetTable) Clear() {
	for i := range t.entries {
		if t.entries[i].state == stateMarked {
			t.entries[i] = entry{}
		}
	}
}

// Resolve freezes the table against the given segment bases.
func (t *OffsetTable) Resolve(bases Bases) *Resolved {
	return &Resolved{table: t, bases: bases}
}

// Resolved is an OffsetTable whose keys can be turned into displacements.
type Resolved struct {
	table *OffsetTable
	bases Bases
}

// Address returns the absolute address of k.
func (r *Resolved) Address(k Key) (uint64, bool) {
	if int(k) >= len(r.table.entries) {
		return 0, false
	}
	e := r.table.entries[k]
	switch e.state {
	case stateMarked:
		return r.bases[e.segment] + e.offset, true
	case stateInterned:
		return e.offset, true
	}
	return 0, false
}

// ComputeSRP returns the 32-bit displacement from the address from to k. Unresolved keys
// yield 0.
func (r *Resolved) ComputeSRP(k Key, from uint64) int32 {
	addr, ok := r.Address(k)
	if !ok {
		return 0
	}
	return int32(int64(addr) - int64(from))
}

// ComputeWSRP returns the 64-bit displacement from the address from to k. Unresolved keys
// yield 0.
func (r *Resolved) ComputeWSRP(k Key, from uint64) int64 {
	addr, ok := r.Address(k)
	if !ok {
		return 0
	}
	return int64(addr) - int64(from)
}

// Bases returns the segment bases the table was resolved against.
func (r *Resolved) Bases() Bases {
	return r.bases
}
