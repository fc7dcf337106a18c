package oracle

import (
	"encoding/binary"
	"fmt"

	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/pkg/collections"
)

// ROM-only opcodes. They occupy values the class-file format leaves undefined, apart
// from JBldc2lw which keeps the ldc2_w encoding.
const (
	JBldc2lw                = classfile.OpLdc2W
	JBldc2dw                = 0xCA
	JBcondyldc              = 0xCB
	JBcondyldcw             = 0xCC
	JBaload0getfield        = 0xCD
	JBreturn0               = 0xCE
	JBreturn1               = 0xCF
	JBreturn2               = 0xD0
	JBsyncReturn0           = 0xD1
	JBsyncReturn1           = 0xD2
	JBsyncReturn2           = 0xD3
	JBreturnFromConstructor = 0xD4
	JBinvokehandle          = 0xD5
	JBinvokehandlegeneric   = 0xD6
	JBinvokestaticsplit     = 0xD7
	JBinvokespecialsplit    = 0xD8
	JBreturnB               = 0xD9
	JBreturnC               = 0xDA
	JBreturnS               = 0xDB
	JBreturnZ               = 0xDC
)

// codeWalker rewrites one method body in place.
type codeWalker struct {
	o       *Oracle
	info    *MethodInfo
	code    []byte
	order   binary.ByteOrder
	fixups  []Fixup
	ret     byte
	starts  *collections.Bitset
	targets *collections.Bitset
}

// rewriteCode copies code into the arena, translates it to ROM bytecode and records the
// fixups for its constant-pool operands.
func (o *Oracle) rewriteCode(info *MethodInfo, code []byte) {
	buf, _, err := o.arena.Allocate(len(code))
	if err != nil {
		o.failErr(err)
		return
	}
	copy(buf, code)

	// An operand of two bytes or more follows every fixup's opcode.
	fixups, tok, err := arena.AllocSlice[Fixup](o.arena, len(code)/2+1)
	if err != nil {
		o.failErr(err)
		return
	}
	w := &codeWalker{
		o:       o,
		info:    info,
		code:    buf,
		order:   o.opts.ByteOrder,
		fixups:  fixups[:0],
		ret:     returnOpcode(info),
		starts:  collections.NewBitset(len(code)),
		targets: collections.NewBitset(len(code)),
	}
	w.walk()
	w.checkTargets()
	info.Code = buf
	info.fixups = arena.ReclaimSlice(o.arena, tok, fixups, len(w.fixups))
}

func returnOpcode(info *MethodInfo) byte {
	sync := info.AccessFlags.IsSynchronized()
	switch info.ReturnType {
	case 'V':
		switch {
		case info.Flags.Has(MethodObjectConstructor):
			return JBreturnFromConstructor
		case sync:
			return JBsyncReturn0
		}
		return JBreturn0
	case 'J', 'D':
		if sync {
			return JBsyncReturn2
		}
		return JBreturn2
	}
	if sync {
		return JBsyncReturn1
	}
	switch info.ReturnType {
	case 'B':
		return JBreturnB
	case 'C':
		return JBreturnC
	case 'S':
		return JBreturnS
	case 'Z':
		return JBreturnZ
	}
	return JBreturn1
}

func (w *codeWalker) invalid(pc int, format string, args ...interface{}) {
	w.o.fail(InvalidBytecode, "method %s pc %d: %s", w.o.cf.String(w.info.Name), pc, fmt.Sprintf(format, args...))
}

// swap16 converts the big-endian u16 at pc to the output order and returns its value.
func (w *codeWalker) swap16(pc int) uint16 {
	v := binary.BigEndian.Uint16(w.code[pc:])
	w.order.PutUint16(w.code[pc:], v)
	return v
}

func (w *codeWalker) swap32(pc int) int32 {
	v := binary.BigEndian.Uint32(w.code[pc:])
	w.order.PutUint32(w.code[pc:], v)
	return int32(v)
}

func (w *codeWalker) branch(pc int, offset int32) {
	w.info.BranchCount++
	if offset <= 0 {
		w.info.Flags |= MethodHasBackwardBranch
	}
	target := int64(pc) + int64(offset)
	if target < 0 || target >= int64(len(w.code)) {
		w.invalid(pc, "branch target %d outside code", target)
		return
	}
	w.targets.Set(int(target))
}

// checkTargets fails when a branch lands inside an instruction.
func (w *codeWalker) checkTargets() {
	if w.o.result != OK {
		return
	}
	w.targets.Difference(w.starts)
	if bad := w.targets.Next(0); bad >= 0 {
		w.invalid(bad, "branch into the middle of an instruction")
	}
}

func (w *codeWalker) addFixup(offset int, idx uint16, use cpmap.UseKind, width uint8) {
	w.fixups = append(w.fixups, Fixup{Offset: uint32(offset), CFRIndex: idx, Use: use, Width: width})
}

// cpOperand reads the u16 constant-pool operand at pc+1 and checks its tag.
func (w *codeWalker) cpOperand(pc int, tags ...classfile.Tag) (uint16, bool) {
	idx := binary.BigEndian.Uint16(w.code[pc+1:])
	tag := w.o.cf.Tag(idx)
	for _, t := range tags {
		if tag == t {
			return idx, true
		}
	}
	w.invalid(pc, "opcode 0x%02x references %s entry %d", w.code[pc], tag, idx)
	return 0, false
}

func (w *codeWalker) walk() {
	code := w.code
	pc := 0
	for pc < len(code) && w.o.result == OK {
		op := code[pc]
		length, ok := classfile.OpcodeLength(op)
		if !ok {
			w.invalid(pc, "undefined opcode 0x%02x", op)
			return
		}
		switch op {
		case classfile.OpTableswitch:
			length = w.tableswitch(pc)
		case classfile.OpLookupswitch:
			length = w.lookupswitch(pc)
		case classfile.OpWide:
			length = w.wide(pc)
		}
		if length <= 0 {
			return
		}
		if pc+length > len(code) {
			w.invalid(pc, "instruction extends past end of code")
			return
		}
		w.starts.Set(pc)
		w.instruction(pc, op)
		pc += length
	}
}

func (w *codeWalker) instruction(pc int, op byte) {
	code := w.code
	cp := w.o.cp
	switch {
	case classfile.IsBranch(op):
		w.branch(pc, int32(int16(w.swap16(pc + 1))))
		return
	case op >= classfile.OpIreturn && op <= classfile.OpReturn:
		code[pc] = w.ret
		return
	}

	switch op {
	case classfile.OpSipush:
		w.swap16(pc + 1)

	case classfile.OpGotoW, classfile.OpJsrW:
		w.branch(pc, w.swap32(pc + 1))

	case classfile.OpAload0:
		if !w.info.AccessFlags.IsStatic() && pc+1 < len(code) && code[pc+1] == classfile.OpGetfield {
			code[pc] = JBaload0getfield
		}

	case classfile.OpLdc:
		idx := uint16(code[pc+1])
		if !w.loadable(pc, idx, false) {
			return
		}
		if w.o.cf.Tag(idx) == classfile.TagDynamic {
			code[pc] = JBcondyldc
		}
		cp.MarkUse(idx, cpmap.UseLDC)
		w.addFixup(pc+1, idx, cpmap.UseLDC, 1)

	case classfile.OpLdcW:
		idx := binary.BigEndian.Uint16(code[pc+1:])
		if !w.loadable(pc, idx, false) {
			return
		}
		if w.o.cf.Tag(idx) == classfile.TagDynamic {
			code[pc] = JBcondyldcw
		}
		cp.MarkUse(idx, cpmap.UseLDCWide)
		w.addFixup(pc+1, idx, cpmap.UseLDCWide, 2)

	case classfile.OpLdc2W:
		idx := binary.BigEndian.Uint16(code[pc+1:])
		if !w.loadable(pc, idx, true) {
			return
		}
		if w.o.constantType(idx) == 'D' {
			code[pc] = JBldc2dw
		}
		cp.MarkUse(idx, cpmap.UseLDCWide)
		w.addFixup(pc+1, idx, cpmap.UseLDCWide, 2)

	case classfile.OpGetfield, classfile.OpPutfield, classfile.OpGetstatic, classfile.OpPutstatic:
		idx, ok := w.cpOperand(pc, classfile.TagFieldref)
		if !ok {
			return
		}
		use := fieldUse(op)
		cp.MarkUse(idx, use)
		w.addFixup(pc+1, idx, use, 2)

	case classfile.OpInvokevirtual:
		idx, ok := w.cpOperand(pc, classfile.TagMethodref)
		if !ok {
			return
		}
		use := w.o.virtualUse(idx)
		switch use {
		case cpmap.UseInvokeSpecial:
			code[pc] = classfile.OpInvokespecial
		case cpmap.UseInvokeHandleExact:
			code[pc] = JBinvokehandle
		case cpmap.UseInvokeHandleGeneric:
			code[pc] = JBinvokehandlegeneric
		}
		cp.MarkUse(idx, use)
		w.addFixup(pc+1, idx, use, 2)

	case classfile.OpInvokespecial, classfile.OpInvokestatic:
		idx, ok := w.cpOperand(pc, classfile.TagMethodref, classfile.TagInterfaceMethodref)
		if !ok {
			return
		}
		use := cpmap.UseInvokeSpecial
		if op == classfile.OpInvokestatic {
			use = cpmap.UseInvokeStatic
		}
		cp.MarkUse(idx, use)
		w.addFixup(pc+1, idx, use, 2)

	case classfile.OpInvokeinterface:
		idx, ok := w.cpOperand(pc, classfile.TagInterfaceMethodref)
		if !ok {
			return
		}
		if code[pc+3] == 0 || code[pc+4] != 0 {
			w.invalid(pc, "malformed invokeinterface operands")
			return
		}
		cp.MarkUse(idx, cpmap.UseInvokeInterface)
		w.addFixup(pc+1, idx, cpmap.UseInvokeInterface, 2)

	case classfile.OpInvokedynamic:
		idx, ok := w.cpOperand(pc, classfile.TagInvokeDynamic)
		if !ok {
			return
		}
		if code[pc+3] != 0 || code[pc+4] != 0 {
			w.invalid(pc, "malformed invokedynamic operands")
			return
		}
		if !w.o.checkBootstrapIndex(idx) {
			return
		}
		c := &w.o.class
		if len(c.CallSites) >= cpmap.MaxCallSites {
			w.o.fail(GenericError, "too many invokedynamic call sites")
			return
		}
		w.order.PutUint16(code[pc+1:], uint16(len(c.CallSites)))
		c.CallSites = append(c.CallSites, idx)
		cp.MarkCallSite(idx)

	case classfile.OpNew, classfile.OpAnewarray, classfile.OpCheckcast, classfile.OpInstanceof:
		idx, ok := w.cpOperand(pc, classfile.TagClass)
		if !ok {
			return
		}
		use := classUse(op)
		cp.MarkUse(idx, use)
		w.addFixup(pc+1, idx, use, 2)

	case classfile.OpMultianewarray:
		idx, ok := w.cpOperand(pc, classfile.TagClass)
		if !ok {
			return
		}
		if code[pc+3] == 0 {
			w.invalid(pc, "multianewarray with zero dimensions")
			return
		}
		cp.MarkUse(idx, cpmap.UseMultianewarray)
		w.addFixup(pc+1, idx, cpmap.UseMultianewarray, 2)
	}
}

func fieldUse(op byte) cpmap.UseKind {
	switch op {
	case classfile.OpGetfield:
		return cpmap.UseGetField
	case classfile.OpPutfield:
		return cpmap.UsePutField
	case classfile.OpGetstatic:
		return cpmap.UseGetStatic
	}
	return cpmap.UsePutStatic
}

func classUse(op byte) cpmap.UseKind {
	switch op {
	case classfile.OpNew:
		return cpmap.UseNew
	case classfile.OpAnewarray:
		return cpmap.UseAnewarray
	case classfile.OpCheckcast:
		return cpmap.UseCheckcast
	}
	return cpmap.UseInstanceof
}

// constantType returns the JVM type character of a loadable constant, using the
// NameAndType descriptor for dynamic constants.
func (o *Oracle) constantType(idx uint16) byte {
	e := o.cf.Entry(idx)
	switch e.Tag {
	case classfile.TagLong:
		return 'J'
	case classfile.TagDouble:
		return 'D'
	case classfile.TagDynamic:
		_, desc := o.cf.NameAndType(uint16(e.Slot2))
		return classfile.ReturnChar(desc)
	}
	return 0
}

// loadable checks that idx may be the operand of an ldc variant.
func (w *codeWalker) loadable(pc int, idx uint16, wide bool) bool {
	tag := w.o.cf.Tag(idx)
	switch tag {
	case classfile.TagLong, classfile.TagDouble:
		if wide {
			return true
		}
	case classfile.TagInteger, classfile.TagFloat, classfile.TagString, classfile.TagClass,
		classfile.TagMethodType, classfile.TagMethodHandle:
		if !wide {
			return true
		}
	case classfile.TagDynamic:
		t := w.o.constantType(idx)
		if (t == 'J' || t == 'D') == wide {
			return w.o.checkBootstrapIndex(idx)
		}
	}
	w.invalid(pc, "cannot load %s entry %d", tag, idx)
	return false
}

func (o *Oracle) checkBootstrapIndex(idx uint16) bool {
	bsm := o.cf.Entry(idx).Slot1
	if int(bsm) >= len(o.class.BootstrapMethods) {
		o.fail(GenericError, "constant %d names bootstrap method %d of %d", idx, bsm, len(o.class.BootstrapMethods))
		return false
	}
	return true
}

func (w *codeWalker) switchBase(pc int) (int, bool) {
	base := pc + 1 + (4-(pc+1)%4)%4
	for i := pc + 1; i < base && i < len(w.code); i++ {
		if w.code[i] != 0 {
			w.invalid(pc, "non-zero switch padding")
			return 0, false
		}
	}
	return base, true
}

func (w *codeWalker) tableswitch(pc int) int {
	base, ok := w.switchBase(pc)
	if !ok {
		return 0
	}
	if base+12 > len(w.code) {
		w.invalid(pc, "truncated tableswitch")
		return 0
	}
	low := int32(binary.BigEndian.Uint32(w.code[base+4:]))
	high := int32(binary.BigEndian.Uint32(w.code[base+8:]))
	if low > high {
		w.invalid(pc, "tableswitch low %d > high %d", low, high)
		return 0
	}
	n := int(int64(high) - int64(low) + 1)
	end := base + 12 + 4*n
	if end > len(w.code) {
		w.invalid(pc, "truncated tableswitch")
		return 0
	}
	w.branch(pc, w.swap32(base))
	w.swap32(base + 4)
	w.swap32(base + 8)
	for i := 0; i < n; i++ {
		w.branch(pc, w.swap32(base + 12 + 4*i))
	}
	return end - pc
}

func (w *codeWalker) lookupswitch(pc int) int {
	base, ok := w.switchBase(pc)
	if !ok {
		return 0
	}
	if base+8 > len(w.code) {
		w.invalid(pc, "truncated lookupswitch")
		return 0
	}
	npairs := int32(binary.BigEndian.Uint32(w.code[base+4:]))
	if npairs < 0 {
		w.invalid(pc, "lookupswitch with %d pairs", npairs)
		return 0
	}
	end := base + 8 + 8*int(npairs)
	if end > len(w.code) {
		w.invalid(pc, "truncated lookupswitch")
		return 0
	}
	w.branch(pc, w.swap32(base))
	w.swap32(base + 4)
	for i := 0; i < int(npairs); i++ {
		w.swap32(base + 8 + 8*i)
		w.branch(pc, w.swap32(base + 12 + 8*i))
	}
	return end - pc
}

func (w *codeWalker) wide(pc int) int {
	if pc+1 >= len(w.code) {
		w.invalid(pc, "truncated wide")
		return 0
	}
	op := w.code[pc+1]
	switch {
	case op == classfile.OpIinc:
		if pc+6 > len(w.code) {
			w.invalid(pc, "truncated wide iinc")
			return 0
		}
		w.swap16(pc + 2)
		w.swap16(pc + 4)
		return 6
	case op >= classfile.OpIload && op <= classfile.OpAload,
		op >= classfile.OpIstore && op <= classfile.OpAstore,
		op == classfile.OpRet:
		if pc+4 > len(w.code) {
			w.invalid(pc, "truncated wide")
			return 0
		}
		w.swap16(pc + 2)
		return 4
	}
	w.invalid(pc, "wide cannot modify opcode 0x%02x", op)
	return 0
}

// ApplyFixups patches every recorded constant-pool operand with its output index. It runs
// at most once; later calls are no-ops.
func (o *Oracle) ApplyFixups() error {
	if o.fixupsApplied {
		return nil
	}
	if !o.cp.Computed() {
		return cpmap.ErrNotComputed
	}
	order := o.opts.ByteOrder
	for i := range o.methods {
		m := &o.methods[i]
		for _, f := range m.fixups {
			operand := m.Code[f.Offset:]
			switch f.Use {
			case cpmap.UseInvokeStatic:
				if si, ok := o.cp.StaticSplitIndex(f.CFRIndex); ok {
					m.Code[f.Offset-1] = JBinvokestaticsplit
					order.PutUint16(operand, si)
					continue
				}
			case cpmap.UseInvokeSpecial:
				if si, ok := o.cp.SpecialSplitIndex(f.CFRIndex); ok {
					m.Code[f.Offset-1] = JBinvokespecialsplit
					order.PutUint16(operand, si)
					continue
				}
			}
			rom := o.cp.ROMIndex(f.CFRIndex, f.Use)
			if f.Width == 1 {
				if rom > 0xFF {
					return fmt.Errorf("ldc operand %d does not fit in one byte", rom)
				}
				operand[0] = byte(rom)
				continue
			}
			order.PutUint16(operand, rom)
		}
	}
	o.fixupsApplied = true
	return nil
}
