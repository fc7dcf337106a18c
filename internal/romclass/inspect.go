package romclass

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/internal/oracle"
	"github.com/romclass/internal/srp"
)

// ErrMalformedImage reports a ROM class image that cannot be walked.
var ErrMalformedImage = errors.New("malformed ROM class image")

// Image is the decoded view of a ROM class produced by Inspect.
type Image struct {
	ByteOrder      binary.ByteOrder `json:"-"`
	BigEndian      bool             `json:"big_endian"`
	ROMSize        uint32           `json:"rom_size"`
	MajorVersion   uint16           `json:"major_version"`
	MinorVersion   uint16           `json:"minor_version"`
	ClassName      string           `json:"class_name"`
	SuperclassName string           `json:"superclass_name,omitempty"`
	Modifiers      uint32           `json:"modifiers"`
	ExtraModifiers uint32           `json:"extra_modifiers"`
	OptionalFlags  uint32           `json:"optional_flags"`
	SourceFile     string           `json:"source_file,omitempty"`
	Interfaces     []string         `json:"interfaces,omitempty"`

	ROMConstantPoolCount int        `json:"rom_constant_pool_count"`
	RAMConstantPoolCount int        `json:"ram_constant_pool_count"`
	Constants            []Constant `json:"constants"`

	InstanceFieldCount      int `json:"instance_field_count"`
	SingleScalarStaticCount int `json:"single_scalar_static_count"`
	ObjectStaticCount       int `json:"object_static_count"`
	DoubleScalarStaticCount int `json:"double_scalar_static_count"`
	MaxBranchCount          int `json:"max_branch_count"`
	CallSiteCount           int `json:"call_site_count"`
	BootstrapMethodCount    int `json:"bootstrap_method_count"`

	StaticSplitTable  []uint16 `json:"static_split_table,omitempty"`
	SpecialSplitTable []uint16 `json:"special_split_table,omitempty"`

	Fields  []FieldView  `json:"fields"`
	Methods []MethodView `json:"methods"`
}

// Constant is one decoded constant-pool slot.
type Constant struct {
	Index int            `json:"index"`
	Type  cpmap.SlotType `json:"-"`
	Kind  string         `json:"kind"`
	Text  string         `json:"text"`
}

// FieldView is one decoded field.
type FieldView struct {
	Name          string `json:"name"`
	Descriptor    string `json:"descriptor"`
	Modifiers     uint32 `json:"modifiers"`
	Flags         uint32 `json:"flags"`
	ConstantValue uint64 `json:"constant_value,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

// MethodView is one decoded method.
type MethodView struct {
	Name        string                 `json:"name"`
	Descriptor  string                 `json:"descriptor"`
	Modifiers   uint32                 `json:"modifiers"`
	Flags       oracle.MethodFlags     `json:"flags"`
	MaxStack    uint16                 `json:"max_stack"`
	MaxLocals   uint16                 `json:"max_locals"`
	SendSlots   uint16                 `json:"send_slots"`
	Bytecode    []byte                 `json:"bytecode"`
	Signature   string                 `json:"signature,omitempty"`
	LineNumbers []classfile.LineNumber `json:"line_numbers,omitempty"`
	Variables   []VariableView         `json:"variables,omitempty"`
}

// VariableView is one decoded variable table entry.
type VariableView struct {
	VariableEntry
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Signature  string `json:"signature,omitempty"`
}

type imageSegment struct {
	base uint64
	data []byte
}

type image struct {
	order    binary.ByteOrder
	segments []imageSegment
}

// Inspect decodes a self-contained image whose sections are all inline.
func Inspect(buf []byte) (*Image, error) {
	return inspect([]imageSegment{{base: 0, data: buf}})
}

// InspectResult decodes a build result, following SRPs into its out-of-line buffers.
func InspectResult(r *Result) (*Image, error) {
	segs := []imageSegment{{base: r.Bases[srp.SegmentMain], data: r.ROM}}
	if r.UTF8 != nil {
		segs = append(segs, imageSegment{base: r.Bases[srp.SegmentUTF8], data: r.UTF8})
	}
	if r.LineNumbers != nil {
		segs = append(segs, imageSegment{base: r.Bases[srp.SegmentLineNumbers], data: r.LineNumbers})
	}
	if r.VariableInfo != nil {
		segs = append(segs, imageSegment{base: r.Bases[srp.SegmentVariableInfo], data: r.VariableInfo})
	}
	return inspect(segs)
}

// malformed is the panic value used while walking; inspect turns it into an error.
type malformed struct{ err error }

func fail(format string, args ...interface{}) {
	panic(malformed{fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedImage}, args...)...)})
}

func inspect(segs []imageSegment) (img *Image, err error) {
	main := segs[0].data
	if len(main) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedImage, len(main))
	}
	m := &image{segments: segs}
	switch {
	case binary.LittleEndian.Uint32(main) == Magic:
		m.order = binary.LittleEndian
	case binary.BigEndian.Uint32(main) == Magic:
		m.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedImage)
	}

	defer func() {
		if r := recover(); r != nil {
			mf, ok := r.(malformed)
			if !ok {
				panic(r)
			}
			img, err = nil, mf.err
		}
	}()
	return m.decode(), nil
}

func (m *image) slice(addr uint64, n uint64) []byte {
	for _, s := range m.segments {
		if addr >= s.base && addr+n <= s.base+uint64(len(s.data)) {
			return s.data[addr-s.base : addr-s.base+n]
		}
	}
	fail("%d bytes at 0x%x outside the image", n, addr)
	return nil
}

func (m *image) contains(addr uint64) bool {
	for _, s := range m.segments {
		if addr >= s.base && addr < s.base+uint64(len(s.data)) {
			return true
		}
	}
	return false
}

func (m *image) u16(addr uint64) uint16 { return m.order.Uint16(m.slice(addr, 2)) }
func (m *image) u32(addr uint64) uint32 { return m.order.Uint32(m.slice(addr, 4)) }
func (m *image) u64(addr uint64) uint64 { return m.order.Uint64(m.slice(addr, 8)) }

func (m *image) srp(addr uint64) (uint64, bool) {
	d := int32(m.u32(addr))
	if d == 0 {
		return 0, false
	}
	return uint64(int64(addr) + int64(d)), true
}

func (m *image) wsrp(addr uint64) (uint64, bool) {
	d := int64(m.u64(addr))
	if d == 0 {
		return 0, false
	}
	return uint64(int64(addr) + d), true
}

func (m *image) utf8At(addr uint64) string {
	if !m.contains(addr) {
		return fmt.Sprintf("<external 0x%x>", addr)
	}
	n := m.u16(addr)
	return string(m.slice(addr+2, uint64(n)))
}

func (m *image) utf8SRP(addr uint64) string {
	target, ok := m.srp(addr)
	if !ok {
		return ""
	}
	return m.utf8At(target)
}

// nas decodes the name and signature pointed at by the SRP at addr.
func (m *image) nas(addr uint64) string {
	target, ok := m.srp(addr)
	if !ok {
		return ""
	}
	return m.utf8SRP(target) + ":" + m.utf8SRP(target+4)
}

func skipBlock(m *image, p uint64) uint64 {
	return alignUp(p+4+uint64(m.u32(p)), 4)
}

func (m *image) decode() *Image {
	base := m.segments[0].base
	h := func(off uint64) uint64 { return base + off }
	img := &Image{
		ByteOrder:               m.order,
		BigEndian:               m.order == binary.BigEndian,
		ROMSize:                 m.u32(h(offROMSize)),
		MajorVersion:            m.u16(h(offMajorVersion)),
		MinorVersion:            m.u16(h(offMinorVersion)),
		ClassName:               m.utf8SRP(h(offClassName)),
		SuperclassName:          m.utf8SRP(h(offSuperclassName)),
		Modifiers:               m.u32(h(offModifiers)),
		ExtraModifiers:          m.u32(h(offExtraModifiers)),
		OptionalFlags:           m.u32(h(offOptionalFlags)),
		ROMConstantPoolCount:    int(m.u32(h(offROMConstantPoolCount))),
		RAMConstantPoolCount:    int(m.u32(h(offRAMConstantPoolCount))),
		InstanceFieldCount:      int(m.u32(h(offInstanceFieldCount))),
		SingleScalarStaticCount: int(m.u32(h(offSingleScalarStaticCount))),
		ObjectStaticCount:       int(m.u32(h(offObjectStaticCount))),
		DoubleScalarStaticCount: int(m.u32(h(offDoubleScalarStaticCount))),
		MaxBranchCount:          int(m.u32(h(offMaxBranchCount))),
		CallSiteCount:           int(m.u32(h(offCallSiteCount))),
		BootstrapMethodCount:    int(m.u32(h(offBootstrapMethodCount))),
	}
	if uint64(img.ROMSize) != uint64(len(m.segments[0].data)) {
		fail("header size %d does not match buffer size %d", img.ROMSize, len(m.segments[0].data))
	}

	if n := m.u32(h(offInterfaceCount)); n > 0 {
		p, _ := m.srp(h(offInterfaces))
		for i := uint64(0); i < uint64(n); i++ {
			img.Interfaces = append(img.Interfaces, m.utf8SRP(p+4*i))
		}
	}
	img.StaticSplitTable = m.u16Table(h(offStaticSplitCount), h(offStaticSplitTable))
	img.SpecialSplitTable = m.u16Table(h(offSpecialSplitCount), h(offSpecialSplitTable))

	if img.OptionalFlags&OptSourceFile != 0 {
		p, ok := m.srp(h(offOptionalInfo))
		if !ok {
			fail("optional flags set without optional info")
		}
		img.SourceFile = m.utf8SRP(p)
	}

	m.decodeConstantPool(img, h(HeaderSize), h(offCPShape))
	m.decodeFields(img, h(offFieldCount), h(offFields))
	m.decodeMethods(img, h(offMethodCount), h(offMethods))
	return img
}

func (m *image) u16Table(countAddr, srpAddr uint64) []uint16 {
	n := m.u32(countAddr)
	if n == 0 {
		return nil
	}
	p, _ := m.srp(srpAddr)
	out := make([]uint16, n)
	for i := range out {
		out[i] = m.u16(p + 2*uint64(i))
	}
	return out
}

func (m *image) decodeConstantPool(img *Image, cpStart, shapeSRP uint64) {
	shapeAddr, ok := m.srp(shapeSRP)
	if !ok {
		fail("missing constant pool shape")
	}
	shape := m.slice(shapeAddr, uint64(img.ROMConstantPoolCount))
	for i := 1; i < img.ROMConstantPoolCount; i++ {
		t := cpmap.SlotType(shape[i])
		slot := cpStart + uint64(i)*SlotSize
		c := Constant{Index: i, Type: t, Kind: t.String()}
		switch t {
		case cpmap.SlotClass, cpmap.SlotString, cpmap.SlotMethodType, cpmap.SlotAnnotationUTF8:
			c.Text = m.utf8SRP(slot)
		case cpmap.SlotInt:
			c.Text = fmt.Sprint(int32(m.u32(slot)))
		case cpmap.SlotFloat:
			c.Text = fmt.Sprint(math.Float32frombits(m.u32(slot)))
		case cpmap.SlotLong:
			c.Text = fmt.Sprint(int64(m.u64(slot)))
		case cpmap.SlotDouble:
			c.Text = fmt.Sprint(math.Float64frombits(m.u64(slot)))
		case cpmap.SlotMethodHandle:
			c.Text = fmt.Sprintf("kind %d #%d", m.u32(slot+4)>>8, m.u32(slot))
		case cpmap.SlotConstantDynamic:
			c.Text = fmt.Sprintf("bsm %d %s", m.u32(slot+4)>>16, m.nas(slot))
		case cpmap.SlotUnused:
		default:
			c.Text = fmt.Sprintf("#%d %s", m.u32(slot), m.nas(slot+4))
		}
		img.Constants = append(img.Constants, c)
	}
}

func (m *image) decodeFields(img *Image, countAddr, srpAddr uint64) {
	n := m.u32(countAddr)
	if n == 0 {
		return
	}
	p, _ := m.srp(srpAddr)
	for i := uint32(0); i < n; i++ {
		f := FieldView{
			Name:       m.utf8SRP(p),
			Descriptor: m.utf8SRP(p + 4),
			Modifiers:  m.u32(p + 8),
			Flags:      m.u32(p + 12),
		}
		p += fieldHeaderSize
		if f.Flags&FieldHasConstant != 0 {
			if f.Flags&FieldWideConstant != 0 {
				f.ConstantValue = m.u64(p)
				p += 8
			} else {
				f.ConstantValue = uint64(m.u32(p))
				p += 4
			}
		}
		if f.Flags&FieldHasSignature != 0 {
			f.Signature = m.utf8SRP(p)
			p += 4
		}
		if f.Flags&FieldHasAnnotations != 0 {
			p = skipBlock(m, p)
		}
		if f.Flags&FieldHasTypeAnnotations != 0 {
			p = skipBlock(m, p)
		}
		img.Fields = append(img.Fields, f)
	}
}

func (m *image) decodeMethods(img *Image, countAddr, srpAddr uint64) {
	n := m.u32(countAddr)
	if n == 0 {
		return
	}
	p, _ := m.srp(srpAddr)
	for i := uint32(0); i < n; i++ {
		var mv MethodView
		mv, p = m.decodeMethod(p)
		img.Methods = append(img.Methods, mv)
	}
}

func (m *image) decodeMethod(p uint64) (MethodView, uint64) {
	mv := MethodView{
		Name:       m.utf8SRP(p),
		Descriptor: m.utf8SRP(p + 4),
		Modifiers:  m.u32(p + 8),
		Flags:      oracle.MethodFlags(m.u32(p + 12)),
		MaxStack:   m.u16(p + 20),
		MaxLocals:  m.u16(p + 22),
		SendSlots:  m.u16(p + 24),
	}
	size := uint64(m.u32(p + 28))
	mv.Bytecode = append([]byte(nil), m.slice(p+methodHeaderSize, size)...)
	p = alignUp(p+methodHeaderSize+size, 4)

	flags := mv.Flags
	if flags.Has(oracle.MethodHasExceptionInfo) {
		catches, throws := uint64(m.u16(p)), uint64(m.u16(p+2))
		p += 4 + 16*catches + 4*throws
	}
	if flags.Has(oracle.MethodHasGenericSignature) {
		mv.Signature = m.utf8SRP(p)
		p += 4
	}
	for _, f := range []oracle.MethodFlags{
		oracle.MethodHasAnnotations,
		oracle.MethodHasParameterAnnotations,
		oracle.MethodHasDefaultAnnotation,
		oracle.MethodHasTypeAnnotations,
		oracle.MethodHasCodeTypeAnnotations,
	} {
		if flags.Has(f) {
			p = skipBlock(m, p)
		}
	}
	if flags.Has(oracle.MethodHasMethodParameters) {
		p += 4 + 8*uint64(m.u32(p))
	}
	if flags.Has(oracle.MethodHasStackMap) {
		p = skipBlock(m, p)
	}
	if flags.Has(oracle.MethodHasDebugInfo) {
		p = m.decodeDebugInfo(&mv, p)
	}
	return mv, p
}

func (m *image) decodeDebugInfo(mv *MethodView, p uint64) uint64 {
	lineCount := int(m.u32(p))
	lineSize := uint64(m.u32(p + 4))
	varCount := int(m.u32(p + 8))
	varSize := uint64(m.u32(p + 12))
	lnAddr, hasLines := m.wsrp(p + 16)
	viAddr, hasVars := m.wsrp(p + 24)
	p += debugHeaderSize

	if hasLines {
		lines, err := oracle.DecodeLineNumbers(m.slice(lnAddr, lineSize), lineCount)
		if err != nil {
			fail("method %s: %v", mv.Name, err)
		}
		mv.LineNumbers = lines
		if lnAddr == p {
			p = alignUp(p+lineSize, 4)
		}
	}
	if hasVars {
		deltaLen := uint64(m.u32(viAddr))
		entries, err := DecodeVariables(m.slice(viAddr+4, deltaLen), varCount)
		if err != nil {
			fail("method %s: %v", mv.Name, err)
		}
		q := alignUp(viAddr+4+deltaLen, 4)
		for _, e := range entries {
			v := VariableView{VariableEntry: e, Name: m.utf8SRP(q), Descriptor: m.utf8SRP(q + 4)}
			q += 8
			if e.HasGeneric {
				v.Signature = m.utf8SRP(q)
				q += 4
			}
			mv.Variables = append(mv.Variables, v)
		}
		if viAddr == p {
			p += varSize
		}
	}
	return p
}
