package romclass

import (
	"fmt"

	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/internal/oracle"
)

// FieldReport describes one field as the oracle sees it.
type FieldReport struct {
	Name        string `json:"name"`
	Descriptor  string `json:"descriptor"`
	AccessFlags uint16 `json:"accessFlags"`
	Category    string `json:"category"`
	Constant    bool   `json:"hasConstantValue,omitempty"`
}

// MethodReport describes one method as the oracle sees it.
type MethodReport struct {
	Name             string   `json:"name"`
	Descriptor       string   `json:"descriptor"`
	AccessFlags      uint16   `json:"accessFlags"`
	Properties       []string `json:"properties,omitempty"`
	SendSlots        int      `json:"sendSlots"`
	MaxStack         uint16   `json:"maxStack"`
	MaxLocals        uint16   `json:"maxLocals"`
	CodeLength       int      `json:"codeLength"`
	BranchCount      int      `json:"branchCount"`
	HandlerCount     int      `json:"exceptionHandlers"`
	LineNumberCount  int      `json:"lineNumbers"`
	LocalVarCount    int      `json:"localVariables"`
	StackMapFrames   int      `json:"stackMapFrames"`
	ThrownExceptions int      `json:"thrownExceptions"`
}

// Analysis is the pre-layout view of a class: what the oracle extracted, before any
// bytes are written.
type Analysis struct {
	ClassName            string         `json:"className"`
	SuperclassName       string         `json:"superclassName,omitempty"`
	MajorVersion         uint16         `json:"majorVersion"`
	MinorVersion         uint16         `json:"minorVersion"`
	AccessFlags          uint16         `json:"accessFlags"`
	Interfaces           []string       `json:"interfaces,omitempty"`
	SourceFile           string         `json:"sourceFile,omitempty"`
	IsRecord             bool           `json:"isRecord,omitempty"`
	HasFinalizer         bool           `json:"hasFinalizer,omitempty"`
	ROMConstantPoolCount int            `json:"romConstantPoolCount"`
	RAMConstantPoolCount int            `json:"ramConstantPoolCount"`
	CallSiteCount        int            `json:"callSiteCount"`
	BootstrapMethods     int            `json:"bootstrapMethods"`
	MaxBranchCount       int            `json:"maxBranchCount"`
	InstanceFields       int            `json:"instanceFields"`
	SingleScalarStatics  int            `json:"singleScalarStatics"`
	ObjectStatics        int            `json:"objectStatics"`
	DoubleScalarStatics  int            `json:"doubleScalarStatics"`
	Fields               []FieldReport  `json:"fields"`
	Methods              []MethodReport `json:"methods"`
	ArenaPeak            int            `json:"arenaPeak"`
}

var fieldCategoryNames = [...]string{
	oracle.FieldInstance:     "instance",
	oracle.FieldStaticSingle: "static-single",
	oracle.FieldStaticObject: "static-object",
	oracle.FieldStaticDouble: "static-double",
}

var methodFlagNames = []struct {
	flag oracle.MethodFlags
	name string
}{
	{oracle.MethodEmpty, "empty"},
	{oracle.MethodGetter, "getter"},
	{oracle.MethodVTable, "vtable"},
	{oracle.MethodObjectConstructor, "object-constructor"},
	{oracle.MethodClassInitializer, "clinit"},
	{oracle.MethodFinalizer, "finalizer"},
	{oracle.MethodHasBackwardBranch, "backward-branch"},
	{oracle.MethodHasGenericSignature, "generic-signature"},
	{oracle.MethodHasAnnotations, "annotations"},
	{oracle.MethodHasParameterAnnotations, "parameter-annotations"},
	{oracle.MethodHasTypeAnnotations, "type-annotations"},
	{oracle.MethodHasDefaultAnnotation, "default-annotation"},
	{oracle.MethodHasMethodParameters, "method-parameters"},
	{oracle.MethodHasStackMap, "stack-map"},
	{oracle.MethodHasExceptionInfo, "exception-info"},
	{oracle.MethodHasDebugInfo, "debug-info"},
	{oracle.MethodDeprecated, "deprecated"},
	{oracle.MethodHasCodeTypeAnnotations, "code-type-annotations"},
}

// MethodProperties names every flag set in f, in declaration order.
func MethodProperties(f oracle.MethodFlags) []string {
	var out []string
	for _, n := range methodFlagNames {
		if f.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return out
}

// Analyze runs the constant-pool mapping and the oracle over cf without writing a ROM
// image. It fails exactly where Build would fail before layout.
func Analyze(cf *classfile.ClassFile, opts *Options) (an *Analysis, err error) {
	opts = opts.withDefaults()
	log := opts.logger().WithField("class", classNameOf(cf))

	defer func() {
		if r := recover(); r != nil {
			an = nil
			err = opts.report(log, &BuildError{Code: oracle.GenericError, Message: fmt.Sprint(r)})
		}
	}()

	a := opts.newArena()
	cp, err := cpmap.New(a, cf)
	if err != nil {
		return nil, opts.report(log, toBuildError(err))
	}
	o, err := oracle.New(cf, cp, a, opts.oracleOptions())
	if err != nil {
		return nil, opts.report(log, toBuildError(err))
	}
	defer o.Close()

	ci := o.Class()
	an = &Analysis{
		ClassName:            cf.ThisClassName(),
		SuperclassName:       cf.SuperClassName(),
		MajorVersion:         cf.MajorVersion,
		MinorVersion:         cf.MinorVersion,
		AccessFlags:          uint16(ci.AccessFlags),
		IsRecord:             ci.IsRecord,
		HasFinalizer:         ci.HasFinalizer,
		ROMConstantPoolCount: cp.ROMCount(),
		RAMConstantPoolCount: cp.RAMCount(),
		CallSiteCount:        len(ci.CallSites),
		BootstrapMethods:     len(ci.BootstrapMethods),
		MaxBranchCount:       ci.MaxBranchCount,
		InstanceFields:       ci.InstanceFieldCount,
		SingleScalarStatics:  ci.SingleScalarStaticCount,
		ObjectStatics:        ci.ObjectStaticCount,
		DoubleScalarStatics:  ci.DoubleScalarStaticCount,
		Fields:               make([]FieldReport, 0, len(o.Fields())),
		Methods:              make([]MethodReport, 0, len(o.Methods())),
	}
	for _, idx := range ci.Interfaces {
		an.Interfaces = append(an.Interfaces, cf.ClassName(idx))
	}
	if ci.SourceFile != 0 {
		an.SourceFile = cf.String(ci.SourceFile)
	}

	for i := range o.Fields() {
		f := &o.Fields()[i]
		an.Fields = append(an.Fields, FieldReport{
			Name:        cf.String(f.Name),
			Descriptor:  cf.String(f.Descriptor),
			AccessFlags: uint16(f.AccessFlags),
			Category:    fieldCategoryNames[f.Category],
			Constant:    f.ConstantValue != 0,
		})
	}
	for i := range o.Methods() {
		m := &o.Methods()[i]
		an.Methods = append(an.Methods, MethodReport{
			Name:             cf.String(m.Name),
			Descriptor:       cf.String(m.Descriptor),
			AccessFlags:      uint16(m.AccessFlags),
			Properties:       MethodProperties(m.Flags),
			SendSlots:        m.SendSlots,
			MaxStack:         m.MaxStack,
			MaxLocals:        m.MaxLocals,
			CodeLength:       len(m.Code),
			BranchCount:      m.BranchCount,
			HandlerCount:     len(m.ExceptionHandlers),
			LineNumberCount:  m.LineNumberCount,
			LocalVarCount:    len(m.LocalVariables),
			StackMapFrames:   len(m.StackMap),
			ThrownExceptions: len(m.ThrownExceptions),
		})
	}
	an.ArenaPeak = a.Peak()
	return an, nil
}
