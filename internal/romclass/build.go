// Package romclass compiles a parsed class file into a relocatable ROM class image.
//
// Build analyses the class with the oracle, then runs the class writer twice over the
// same traversal: a measuring pass over counting cursors that places every keyed
// structure, and an emitting pass over byte cursors sized by the first. Both passes
// must agree byte for byte on every size-checked region.
package romclass

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/internal/oracle"
	"github.com/romclass/internal/srp"
	"github.com/romclass/pkg/utils"
)

// Default segment bases used when Options.Bases is left zero and a segment is written
// out of line. They keep every cross-segment SRP within 32-bit range.
const (
	DefaultUTF8Base         uint64 = 1 << 28
	DefaultLineNumberBase   uint64 = 2 << 28
	DefaultVariableInfoBase uint64 = 3 << 28
)

// InternFunc looks a string up in an external intern table. It returns the absolute
// address of the shared copy when the string is interned.
type InternFunc func(s []byte) (addr uint64, ok bool)

// Options configures one compilation.
type Options struct {
	PreserveLineNumbers          bool
	PreserveLocalVariables       bool
	PreserveSourceFileName       bool
	PreserveSourceDebugExtension bool

	BootstrapLoader bool
	// Redefining disables reuse of interned strings.
	Redefining     bool
	Retransforming bool

	ExpectedClassName       string
	VerifyExcludeAttributes string

	// OutOfLineDebugInfo moves line-number and variable tables into their own buffers.
	OutOfLineDebugInfo bool
	// OutOfLineUTF8 moves the string section into its own buffer.
	OutOfLineUTF8 bool

	ByteOrder binary.ByteOrder

	// ArenaCapacity caps scratch memory. Zero selects a growable arena with default
	// limits.
	ArenaCapacity int

	Interned InternFunc
	Bases    srp.Bases

	// DiagnosticSink, when set, receives every failed compilation.
	DiagnosticSink func(code oracle.Result, message string)
	Logger         utils.Logger
}

// DefaultOptions keeps all debug information inline and emits little-endian output.
func DefaultOptions() Options {
	return Options{
		PreserveLineNumbers:          true,
		PreserveLocalVariables:       true,
		PreserveSourceFileName:       true,
		PreserveSourceDebugExtension: true,
		ByteOrder:                    binary.LittleEndian,
	}
}

// withDefaults returns a copy of o with unset fields filled in. o itself is never modified.
func (o *Options) withDefaults() *Options {
	var c Options
	if o == nil {
		c = DefaultOptions()
	} else {
		c = *o
	}
	if c.ByteOrder == nil {
		c.ByteOrder = binary.LittleEndian
	}
	return &c
}

func (o *Options) oracleOptions() oracle.Options {
	return oracle.Options{
		PreserveLineNumbers:          o.PreserveLineNumbers,
		PreserveLocalVariables:       o.PreserveLocalVariables,
		PreserveSourceFileName:       o.PreserveSourceFileName,
		PreserveSourceDebugExtension: o.PreserveSourceDebugExtension,
		BootstrapLoader:              o.BootstrapLoader,
		Redefining:                   o.Redefining,
		Retransforming:               o.Retransforming,
		ExpectedClassName:            o.ExpectedClassName,
		VerifyExcludeAttributes:      o.VerifyExcludeAttributes,
		ByteOrder:                    o.ByteOrder,
	}
}

func (o *Options) logger() utils.Logger {
	if o.Logger == nil {
		return &utils.NullLogger{}
	}
	return o.Logger
}

func (o *Options) newArena() *arena.Arena {
	if o.ArenaCapacity > 0 {
		return arena.New(o.ArenaCapacity)
	}
	return arena.NewGrowable(0, 0)
}

func (o *Options) bases() srp.Bases {
	b := o.Bases
	if b == (srp.Bases{}) {
		b[srp.SegmentUTF8] = DefaultUTF8Base
		b[srp.SegmentLineNumbers] = DefaultLineNumberBase
		b[srp.SegmentVariableInfo] = DefaultVariableInfoBase
	}
	return b
}

// BuildError is the error returned by a failed compilation.
type BuildError struct {
	Code    oracle.Result
	Message string
}

func (e *BuildError) Error() string {
	if e.Message == "" {
		return "romclass: " + e.Code.String()
	}
	return fmt.Sprintf("romclass: %s: %s", e.Code, e.Message)
}

// Is matches another *BuildError with the same code.
func (e *BuildError) Is(target error) bool {
	t, ok := target.(*BuildError)
	return ok && t.Code == e.Code
}

// Unwrap exposes the code as an *oracle.Error so errors.Is works against the oracle's
// sentinels.
func (e *BuildError) Unwrap() error {
	return &oracle.Error{Result: e.Code, Message: e.Message}
}

func toBuildError(err error) *BuildError {
	var be *BuildError
	if errors.As(err, &be) {
		return be
	}
	var oe *oracle.Error
	if errors.As(err, &oe) {
		return &BuildError{Code: oe.Result, Message: oe.Message}
	}
	if errors.Is(err, arena.ErrOutOfMemory) {
		return &BuildError{Code: oracle.OutOfMemory, Message: err.Error()}
	}
	return &BuildError{Code: oracle.GenericError, Message: err.Error()}
}

// Summary describes a compiled class.
type Summary struct {
	ClassName            string
	ROMSize              int
	ROMConstantPoolCount int
	RAMConstantPoolCount int
	FieldCount           int
	MethodCount          int
	CallSiteCount        int
	UTF8Count            int
	ArenaPeak            int
}

// Result is a compiled ROM class. The side buffers are nil unless the corresponding
// section was written out of line.
type Result struct {
	ROM          []byte
	UTF8         []byte
	LineNumbers  []byte
	VariableInfo []byte
	Bases        srp.Bases
	ByteOrder    binary.ByteOrder
	Regions      []Region
	Summary      Summary
}

// Build compiles cf. A nil opts selects DefaultOptions. Failures are returned as
// *BuildError.
func Build(cf *classfile.ClassFile, opts *Options) (res *Result, err error) {
	opts = opts.withDefaults()
	log := opts.logger().WithField("class", classNameOf(cf))
	timer := utils.NewTimer("romclass", utils.WithLogger(log), utils.WithEnabled(opts.Logger != nil))

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = opts.report(log, &BuildError{Code: oracle.GenericError, Message: fmt.Sprint(r)})
		}
	}()

	a := opts.newArena()
	analyse := timer.Start("analyse")
	cp, err := cpmap.New(a, cf)
	if err != nil {
		return nil, opts.report(log, toBuildError(err))
	}
	o, err := oracle.New(cf, cp, a, opts.oracleOptions())
	analyse.Stop()
	if err != nil {
		return nil, opts.report(log, toBuildError(err))
	}
	defer o.Close()

	keys := srp.NewKeyProducer(cf)
	table := srp.NewOffsetTable(keys.MaxKey() + 32)
	if opts.Interned != nil && !opts.Redefining {
		internStrings(cf, keys, table, opts.Interned)
	}

	measure := timer.Start("measure")
	var regions []Region
	cm := newCountingCursor(srp.SegmentMain, table)
	cu, cln, cvi := cm, cm, cm
	if opts.OutOfLineUTF8 {
		cu = newCountingCursor(srp.SegmentUTF8, table)
	}
	if opts.OutOfLineDebugInfo {
		cln = newCountingCursor(srp.SegmentLineNumbers, table)
		cvi = newCountingCursor(srp.SegmentVariableInfo, table)
	}
	cw := newClassWriter(o, keys, table, cm, cu, cln, cvi)
	cw.regions = &regions
	cw.write()
	measure.Stop()

	if cm.Offset() > 0xFFFFFFFF {
		return nil, opts.report(log, &BuildError{Code: oracle.GenericError, Message: "ROM class exceeds 4 GiB"})
	}

	emit := timer.Start("emit")
	bases := opts.bases()
	resolved := table.Resolve(bases)
	keys.Reset()
	bm := newByteCursor(srp.SegmentMain, cm.Offset(), opts.ByteOrder, table, resolved)
	bu, bln, bvi := bm, bm, bm
	if opts.OutOfLineUTF8 {
		bu = newByteCursor(srp.SegmentUTF8, cu.Offset(), opts.ByteOrder, table, resolved)
	}
	if opts.OutOfLineDebugInfo {
		bln = newByteCursor(srp.SegmentLineNumbers, cln.Offset(), opts.ByteOrder, table, resolved)
		bvi = newByteCursor(srp.SegmentVariableInfo, cvi.Offset(), opts.ByteOrder, table, resolved)
	}
	bw := newClassWriter(o, keys, table, bm, bu, bln, bvi)
	bw.regions = &regions
	bw.verify = true
	bw.romSize = uint32(cm.Offset())
	bw.write()
	emit.Stop()

	if bw.next != len(regions) {
		panic(&LayoutError{Region: "class", Reason: fmt.Sprintf("%d regions measured, %d written", len(regions), bw.next)})
	}
	for _, c := range []*byteCursor{bm, bu, bln, bvi} {
		if c.Offset() != uint64(len(c.Buffer())) {
			panic(&LayoutError{Region: c.Segment().String(), Measured: uint64(len(c.Buffer())), Written: c.Offset()})
		}
	}

	res = &Result{
		ROM:       bm.Buffer(),
		Bases:     bases,
		ByteOrder: opts.ByteOrder,
		Regions:   regions,
		Summary: Summary{
			ClassName:            cf.ThisClassName(),
			ROMSize:              len(bm.Buffer()),
			ROMConstantPoolCount: cp.ROMCount(),
			RAMConstantPoolCount: cp.RAMCount(),
			FieldCount:           len(o.Fields()),
			MethodCount:          len(o.Methods()),
			CallSiteCount:        len(o.Class().CallSites),
			UTF8Count:            len(bw.utf8s),
			ArenaPeak:            a.Peak(),
		},
	}
	if opts.OutOfLineUTF8 {
		res.UTF8 = bu.Buffer()
	}
	if opts.OutOfLineDebugInfo {
		res.LineNumbers = bln.Buffer()
		res.VariableInfo = bvi.Buffer()
	}

	log.Debug("compiled %d bytes, %d constant pool slots, %d strings", res.Summary.ROMSize, res.Summary.ROMConstantPoolCount, res.Summary.UTF8Count)
	if opts.Logger != nil {
		log.Debug("%s", timer.Summary())
	}
	return res, nil
}

func (o *Options) report(log utils.Logger, be *BuildError) error {
	log.Warn("compilation failed: %s", be.Error())
	if o.DiagnosticSink != nil {
		o.DiagnosticSink(be.Code, be.Message)
	}
	return be
}

// internStrings resolves every canonical Utf8 found in the external table before the
// measuring pass, so neither pass emits a local copy of it.
func internStrings(cf *classfile.ClassFile, keys *srp.KeyProducer, table *srp.OffsetTable, lookup InternFunc) {
	for i, e := range cf.ConstantPool {
		if e.Tag != classfile.TagUtf8 || keys.CanonicalUTF8(uint16(i)) != uint16(i) {
			continue
		}
		if addr, ok := lookup(e.Bytes); ok {
			table.SetInternedAt(keys.UTF8Key(uint16(i)), addr)
		}
	}
}

func classNameOf(cf *classfile.ClassFile) string {
	if cf.Tag(cf.ThisClass) != classfile.TagClass {
		return ""
	}
	return cf.ThisClassName()
}
