package oracle_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romclass/internal/arena"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/cpmap"
	"github.com/romclass/internal/oracle"
	"github.com/romclass/internal/testutil"
)

func analyse(t *testing.T, b *testutil.ClassBuilder, opts oracle.Options) (*oracle.Oracle, error) {
	t.Helper()
	cf := b.Build()
	a := arena.New(1 << 20)
	cp, err := cpmap.New(a, cf)
	require.NoError(t, err)
	return oracle.New(cf, cp, a, opts)
}

func mustAnalyse(t *testing.T, b *testutil.ClassBuilder) *oracle.Oracle {
	t.Helper()
	o, err := analyse(t, b, oracle.DefaultOptions())
	require.NoError(t, err)
	return o
}

func u16(v uint16) (byte, byte) { return byte(v >> 8), byte(v) }

func ref(op byte, idx uint16) []byte {
	hi, lo := u16(idx)
	return []byte{op, hi, lo}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var ret = []byte{classfile.OpReturn}

func TestResultCodes(t *testing.T) {
	tests := []struct {
		name  string
		build func() *testutil.ClassBuilder
		opts  func(*oracle.Options)
		want  oracle.Result
	}{
		{
			name: "interface must be abstract",
			build: func() *testutil.ClassBuilder {
				return testutil.NewClass("p/I", "java/lang/Object").Flags(classfile.AccPublic | classfile.AccInterface)
			},
			want: oracle.InvalidClassType,
		},
		{
			name: "annotation must be interface",
			build: func() *testutil.ClassBuilder {
				return testutil.NewClass("p/A", "java/lang/Object").Flags(classfile.AccPublic | classfile.AccAnnotation)
			},
			want: oracle.InvalidClassType,
		},
		{
			name: "final abstract class",
			build: func() *testutil.ClassBuilder {
				return testutil.NewClass("p/A", "java/lang/Object").Flags(classfile.AccFinal | classfile.AccAbstract)
			},
			want: oracle.InvalidClassType,
		},
		{
			name: "java package outside bootstrap loader",
			build: func() *testutil.ClassBuilder {
				return testutil.NewClass("java/lang/Evil", "java/lang/Object")
			},
			want: oracle.IllegalPackageName,
		},
		{
			name: "unexpected class name",
			build: func() *testutil.ClassBuilder {
				return testutil.NewClass("p/A", "java/lang/Object")
			},
			opts: func(o *oracle.Options) { o.ExpectedClassName = "p/B" },
			want: oracle.ClassNameMismatch,
		},
		{
			name: "duplicate method",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				b.Method(classfile.AccPublic|classfile.AccAbstract, "m", "()V")
				return b.Method(classfile.AccPublic|classfile.AccAbstract, "m", "()V")
			},
			want: oracle.DuplicateName,
		},
		{
			name: "duplicate field",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				b.Field(classfile.AccPrivate, "f", "I")
				return b.Field(classfile.AccPrivate, "f", "I")
			},
			want: oracle.DuplicateName,
		},
		{
			name: "empty code",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				return b.Method(classfile.AccPublic, "m", "()V", b.Code(0, 1, nil))
			},
			want: oracle.InvalidBytecodeSize,
		},
		{
			name: "undefined opcode",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				return b.Method(classfile.AccPublic, "m", "()V", b.Code(0, 1, []byte{0xcb}))
			},
			want: oracle.InvalidBytecode,
		},
		{
			name: "getfield on a method reference",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				mref := b.Methodref("p/A", "m", "()V")
				code := concat([]byte{classfile.OpAload0}, ref(classfile.OpGetfield, mref), ret)
				return b.Method(classfile.AccPublic, "m", "()V", b.Code(1, 1, code))
			},
			want: oracle.InvalidBytecode,
		},
		{
			name: "truncated instruction",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				return b.Method(classfile.AccPublic, "m", "()V", b.Code(1, 1, []byte{classfile.OpSipush, 0x01}))
			},
			want: oracle.InvalidBytecode,
		},
		{
			name: "branch into an operand",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				// sipush 1; goto -2 lands on the sipush operand
				code := []byte{classfile.OpSipush, 0, 1, classfile.OpGoto, 0xff, 0xfe, classfile.OpReturn}
				return b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(1, 0, code))
			},
			want: oracle.InvalidBytecode,
		},
		{
			name: "branch past the end",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				code := []byte{classfile.OpGoto, 0, 4, classfile.OpReturn}
				return b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(0, 0, code))
			},
			want: oracle.InvalidBytecode,
		},
		{
			name: "annotation element of the wrong constant type",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				ann := b.Annotation("Lp/Ann;")
				ann.Elements = []classfile.ElementValuePair{{
					NameIndex: b.UTF8("value"),
					Value:     classfile.ElementValue{Tag: classfile.ElemInt, ConstIndex: b.String("x")},
				}}
				return b.Attribute(b.Annotations(true, ann))
			},
			want: oracle.InvalidAnnotation,
		},
		{
			name: "unmatched local variable type entry",
			build: func() *testutil.ClassBuilder {
				b := testutil.NewClass("p/A", "java/lang/Object")
				lvtt := b.LocalVariableTypes(testutil.LocalVar{StartPC: 0, Length: 1, Index: 0, Name: "this", Descriptor: "Lp/A<TT;>;"})
				return b.Method(classfile.AccPublic, "m", "()V", b.Code(0, 1, ret, lvtt))
			},
			want: oracle.GenericErrorCustomMsg,
		},
		{
			name: "missing superclass",
			build: func() *testutil.ClassBuilder {
				return testutil.NewClass("p/A", "")
			},
			want: oracle.GenericError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := oracle.DefaultOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			o, err := analyse(t, tt.build(), opts)
			require.Error(t, err)
			assert.Nil(t, o)

			var oe *oracle.Error
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, tt.want, oe.Result, oe.Message)
			assert.ErrorIs(t, err, &oracle.Error{Result: tt.want})
		})
	}
}

func TestBootstrapLoaderMayDefineJavaClasses(t *testing.T) {
	opts := oracle.DefaultOptions()
	opts.BootstrapLoader = true
	_, err := analyse(t, testutil.NewClass("java/lang/Thing", "java/lang/Object"), opts)
	assert.NoError(t, err)
}

func TestMethodClassification(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	field := b.Fieldref("p/A", "x", "I")
	superInit := b.Methodref("java/lang/Object", "<init>", "()V")
	fh, fl := u16(field)

	b.Field(classfile.AccPrivate, "x", "I")
	b.Method(classfile.AccPublic, "<init>", "()V",
		b.Code(1, 1, concat([]byte{classfile.OpAload0}, ref(classfile.OpInvokespecial, superInit), ret)))
	b.Method(classfile.AccStatic, "<clinit>", "()V", b.Code(0, 0, ret))
	b.Method(classfile.AccProtected, "finalize", "()V", b.Code(0, 1, ret))
	b.Method(classfile.AccPublic, "getX", "()I",
		b.Code(1, 1, []byte{classfile.OpAload0, classfile.OpGetfield, fh, fl, classfile.OpIreturn}))
	b.Method(classfile.AccPrivate, "helper", "(JLjava/lang/String;D)V", b.Code(0, 6, ret))
	b.Method(classfile.AccPublic|classfile.AccStatic, "util", "(I[J)V", b.Code(0, 2, ret))

	o := mustAnalyse(t, b)
	methods := o.Methods()
	require.Len(t, methods, 6)

	tests := []struct {
		name      string
		index     int
		set       []oracle.MethodFlags
		unset     []oracle.MethodFlags
		sendSlots int
	}{
		{"constructor", 0, []oracle.MethodFlags{oracle.MethodObjectConstructor}, []oracle.MethodFlags{oracle.MethodVTable, oracle.MethodEmpty}, 1},
		{"class initializer", 1, []oracle.MethodFlags{oracle.MethodClassInitializer, oracle.MethodEmpty}, []oracle.MethodFlags{oracle.MethodVTable}, 0},
		{"finalizer", 2, []oracle.MethodFlags{oracle.MethodFinalizer, oracle.MethodVTable, oracle.MethodEmpty}, nil, 1},
		{"getter", 3, []oracle.MethodFlags{oracle.MethodGetter, oracle.MethodVTable}, []oracle.MethodFlags{oracle.MethodEmpty}, 1},
		{"private", 4, []oracle.MethodFlags{oracle.MethodEmpty}, []oracle.MethodFlags{oracle.MethodVTable}, 6},
		{"static", 5, nil, []oracle.MethodFlags{oracle.MethodVTable}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := methods[tt.index]
			for _, f := range tt.set {
				assert.True(t, m.Flags.Has(f), "flag %b", f)
			}
			for _, f := range tt.unset {
				assert.False(t, m.Flags.Has(f), "flag %b", f)
			}
			assert.Equal(t, tt.sendSlots, m.SendSlots)
		})
	}
	assert.True(t, o.Class().HasFinalizer)
	assert.Equal(t, []byte{'J', 'L', 'D'}, methods[4].ArgTypes)
	assert.Equal(t, byte('V'), methods[4].ReturnType)
}

func TestReturnSpecialization(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	superInit := b.Methodref("java/lang/Object", "<init>", "()V")
	b.Method(classfile.AccPublic, "<init>", "()V",
		b.Code(1, 1, concat([]byte{classfile.OpAload0}, ref(classfile.OpInvokespecial, superInit), ret)))
	b.Method(classfile.AccPublic, "v", "()V", b.Code(0, 1, []byte{classfile.OpNop, classfile.OpReturn}))
	b.Method(classfile.AccPublic|classfile.AccSynchronized, "sv", "()V", b.Code(0, 1, []byte{classfile.OpNop, classfile.OpReturn}))
	b.Method(classfile.AccPublic, "i", "()I", b.Code(1, 1, []byte{0x03, classfile.OpIreturn}))
	b.Method(classfile.AccPublic|classfile.AccSynchronized, "si", "()B", b.Code(1, 1, []byte{0x03, classfile.OpIreturn}))
	b.Method(classfile.AccPublic, "l", "()J", b.Code(2, 1, []byte{0x09, classfile.OpLreturn}))
	b.Method(classfile.AccPublic|classfile.AccSynchronized, "sd", "()D", b.Code(2, 1, []byte{0x0e, classfile.OpDreturn}))
	b.Method(classfile.AccPublic, "z", "()Z", b.Code(1, 1, []byte{0x03, classfile.OpIreturn}))
	b.Method(classfile.AccPublic, "c", "()C", b.Code(1, 1, []byte{0x03, classfile.OpIreturn}))
	b.Method(classfile.AccPublic, "s", "()S", b.Code(1, 1, []byte{0x03, classfile.OpIreturn}))
	b.Method(classfile.AccPublic, "o", "()Ljava/lang/Object;", b.Code(1, 1, []byte{classfile.OpAconstNull, classfile.OpAreturn}))

	o := mustAnalyse(t, b)
	want := []byte{
		oracle.JBreturnFromConstructor,
		oracle.JBreturn0,
		oracle.JBsyncReturn0,
		oracle.JBreturn1,
		oracle.JBsyncReturn1,
		oracle.JBreturn2,
		oracle.JBsyncReturn2,
		oracle.JBreturnZ,
		oracle.JBreturnC,
		oracle.JBreturnS,
		oracle.JBreturn1,
	}
	for i, m := range o.Methods() {
		code := m.Code
		assert.Equal(t, want[i], code[len(code)-1], "method %d", i)
	}
}

func TestInvokeRewriting(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	getClass := b.Methodref("java/lang/Object", "getClass", "()Ljava/lang/Class;")
	exact := b.Methodref("java/lang/invoke/MethodHandle", "invokeExact", "()V")
	generic := b.Methodref("java/lang/invoke/MethodHandle", "invoke", "()V")
	vhGet := b.Methodref("java/lang/invoke/VarHandle", "get", "()Ljava/lang/Object;")
	privateSelf := b.Methodref("p/A", "secret", "()V")
	plain := b.Methodref("p/B", "run", "()V")

	code := concat(
		ref(classfile.OpInvokevirtual, getClass),
		ref(classfile.OpInvokevirtual, exact),
		ref(classfile.OpInvokevirtual, generic),
		ref(classfile.OpInvokevirtual, vhGet),
		ref(classfile.OpInvokevirtual, privateSelf),
		ref(classfile.OpInvokevirtual, plain),
		ret,
	)
	b.Method(classfile.AccPublic, "m", "()V", b.Code(4, 1, code))
	b.Method(classfile.AccPrivate, "secret", "()V", b.Code(0, 1, ret))

	o := mustAnalyse(t, b)
	got := o.Methods()[0].Code
	assert.Equal(t, byte(classfile.OpInvokespecial), got[0])
	assert.Equal(t, byte(oracle.JBinvokehandle), got[3])
	assert.Equal(t, byte(oracle.JBinvokehandlegeneric), got[6])
	assert.Equal(t, byte(oracle.JBinvokehandlegeneric), got[9])
	assert.Equal(t, byte(classfile.OpInvokespecial), got[12])
	assert.Equal(t, byte(classfile.OpInvokevirtual), got[15])

	cp := o.ConstantPool()
	assert.Equal(t, cp.ROMIndex(plain, cpmap.UseInvokeVirtual), uint16(got[16])|uint16(got[17])<<8,
		"operands are little endian by default")
}

func TestStaticSplitRewriting(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	target := b.Methodref("p/A", "m", "()V")
	b.Method(classfile.AccPublic, "virt", "()V",
		b.Code(1, 1, concat([]byte{classfile.OpAload0}, ref(classfile.OpInvokevirtual, target), ret)))
	b.Method(classfile.AccPublic|classfile.AccStatic, "stat", "()V",
		b.Code(0, 0, concat(ref(classfile.OpInvokestatic, target), ret)))

	o := mustAnalyse(t, b)
	cp := o.ConstantPool()
	require.Len(t, cp.StaticSplitTable(), 1)

	virt := o.Methods()[0].Code
	stat := o.Methods()[1].Code
	assert.Equal(t, byte(classfile.OpInvokevirtual), virt[1])
	assert.Equal(t, []byte{oracle.JBinvokestaticsplit, 0, 0}, stat[:3])
	assert.Equal(t, cp.StaticSplitTable()[0], cp.ROMIndex(target, cpmap.UseInvokeStatic))
}

func TestConstantLoads(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	bsmRef := b.Methodref("p/Boot", "bsm", "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/Class;)Ljava/lang/Object;")
	handle := b.MethodHandle(classfile.RefInvokeStatic, bsmRef)
	condy := b.Dynamic(0, "c", "Ljava/lang/Object;")
	dbl := b.Double(1.5)
	lng := b.Long(7)
	str := b.String("s")
	b.Attribute(b.BootstrapMethods(classfile.BootstrapMethod{MethodRef: handle}))

	code := concat(
		[]byte{classfile.OpLdc, byte(condy)},
		ref(classfile.OpLdc2W, dbl),
		ref(classfile.OpLdc2W, lng),
		[]byte{classfile.OpLdc, byte(str)},
		ref(classfile.OpLdcW, condy),
		ret,
	)
	b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(6, 0, code))

	o := mustAnalyse(t, b)
	got := o.Methods()[0].Code
	assert.Equal(t, byte(oracle.JBcondyldc), got[0])
	assert.Equal(t, byte(oracle.JBldc2dw), got[2])
	assert.Equal(t, byte(oracle.JBldc2lw), got[5])
	assert.Equal(t, byte(classfile.OpLdc), got[8])
	assert.Equal(t, byte(oracle.JBcondyldcw), got[10])

	cp := o.ConstantPool()
	assert.Equal(t, 2, cp.LDCCount())
	assert.Equal(t, byte(cp.ROMIndex(str, cpmap.UseLDC)), got[9])
	assert.Less(t, int(got[9]), cpmap.MaxLDCSlots)
}

func TestOperandByteOrder(t *testing.T) {
	build := func() *testutil.ClassBuilder {
		b := testutil.NewClass("p/A", "java/lang/Object")
		code := []byte{
			classfile.OpSipush, 0x01, 0x02,
			0x57, // pop
			classfile.OpNop,
			classfile.OpGoto, 0xff, 0xff,
			classfile.OpReturn,
		}
		return b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(1, 0, code))
	}

	o := mustAnalyse(t, build())
	m := o.Methods()[0]
	assert.Equal(t, []byte{0x02, 0x01}, m.Code[1:3])
	assert.Equal(t, 1, m.BranchCount)
	assert.True(t, m.Flags.Has(oracle.MethodHasBackwardBranch))
	assert.Equal(t, 1, o.Class().MaxBranchCount)

	opts := oracle.DefaultOptions()
	opts.ByteOrder = binary.BigEndian
	o, err := analyse(t, build(), opts)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, o.Methods()[0].Code[1:3])
}

func TestSwitchRewriting(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	// iconst_0; tableswitch at pc 1 padded to pc 4; default +27, low 0, high 1, offsets +27, +27
	code := []byte{
		0x03,
		classfile.OpTableswitch, 0, 0,
		0, 0, 0, 27,
		0, 0, 0, 0,
		0, 0, 0, 1,
		0, 0, 0, 27,
		0, 0, 0, 27,
		classfile.OpNop, classfile.OpNop, classfile.OpNop, classfile.OpNop,
		classfile.OpReturn,
	}
	b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(1, 0, code))

	o := mustAnalyse(t, b)
	m := o.Methods()[0]
	assert.Equal(t, 3, m.BranchCount)
	assert.False(t, m.Flags.Has(oracle.MethodHasBackwardBranch))
	assert.Equal(t, []byte{27, 0, 0, 0}, m.Code[4:8])
	assert.Equal(t, []byte{1, 0, 0, 0}, m.Code[12:16])
	assert.Equal(t, byte(oracle.JBreturn0), m.Code[len(m.Code)-1])
}

func TestInvokeDynamicCallSites(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	bsmRef := b.Methodref("p/Boot", "bsm", "()Ljava/lang/invoke/CallSite;")
	handle := b.MethodHandle(classfile.RefInvokeStatic, bsmRef)
	first := b.InvokeDynamic(0, "run", "()Ljava/lang/Runnable;")
	second := b.InvokeDynamic(0, "call", "()Ljava/util/concurrent/Callable;")
	b.Attribute(b.BootstrapMethods(classfile.BootstrapMethod{MethodRef: handle}))

	indy := func(idx uint16) []byte { return append(ref(classfile.OpInvokedynamic, idx), 0, 0) }
	code := concat(indy(first), []byte{0x57}, indy(second), []byte{0x57}, indy(first), []byte{0x57}, ret)
	b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(1, 0, code))

	o := mustAnalyse(t, b)
	got := o.Methods()[0].Code
	assert.Equal(t, []uint16{first, second, first}, o.Class().CallSites)
	assert.Equal(t, []byte{0, 0}, got[1:3])
	assert.Equal(t, []byte{1, 0}, got[7:9])
	assert.Equal(t, []byte{2, 0}, got[13:15])
	assert.Equal(t, 3, o.ConstantPool().CallSiteCount())
}

func TestInvokeDynamicRequiresBootstrapMethod(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	site := b.InvokeDynamic(0, "run", "()Ljava/lang/Runnable;")
	code := concat(append(ref(classfile.OpInvokedynamic, site), 0, 0), []byte{0x57}, ret)
	b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(1, 0, code))

	_, err := analyse(t, b, oracle.DefaultOptions())
	assert.ErrorIs(t, err, oracle.ErrGeneric)
}

func TestApplyFixupsIsIdempotent(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	field := b.Fieldref("p/A", "x", "I")
	b.Field(classfile.AccPrivate, "x", "I")
	b.Method(classfile.AccPublic, "getX", "()I",
		b.Code(1, 1, concat([]byte{classfile.OpAload0}, ref(classfile.OpGetfield, field), []byte{classfile.OpIreturn})))

	o := mustAnalyse(t, b)
	before := append([]byte(nil), o.Methods()[0].Code...)
	require.NoError(t, o.ApplyFixups())
	assert.Equal(t, before, o.Methods()[0].Code)

	romIndex := o.ConstantPool().ROMIndex(field, cpmap.UseGetField)
	assert.Equal(t, []byte{oracle.JBaload0getfield, classfile.OpGetfield, byte(romIndex), byte(romIndex >> 8), oracle.JBreturn1}, before)
}

func TestLocalVariableTypeTableOrder(t *testing.T) {
	tests := []struct {
		name     string
		reversed bool
	}{
		{"table first", false},
		{"type table first", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewClass("p/A", "java/lang/Object")
			lvt := b.LocalVariables(
				testutil.LocalVar{StartPC: 0, Length: 1, Index: 0, Name: "this", Descriptor: "Lp/A;"},
				testutil.LocalVar{StartPC: 0, Length: 1, Index: 1, Name: "list", Descriptor: "Ljava/util/List;"},
			)
			lvtt := b.LocalVariableTypes(
				testutil.LocalVar{StartPC: 0, Length: 1, Index: 1, Name: "list", Descriptor: "Ljava/util/List<TT;>;"},
			)
			attrs := []classfile.Attribute{lvt, lvtt}
			if tt.reversed {
				attrs = []classfile.Attribute{lvtt, lvt}
			}
			b.Method(classfile.AccPublic, "m", "(Ljava/util/List;)V", b.Code(0, 2, ret, attrs...))

			o := mustAnalyse(t, b)
			locals := o.Methods()[0].LocalVariables
			require.Len(t, locals, 2)
			assert.Zero(t, locals[0].Signature)
			assert.Equal(t, "Ljava/util/List<TT;>;", o.ClassFile().String(locals[1].Signature))
			assert.True(t, o.Methods()[0].Flags.Has(oracle.MethodHasDebugInfo))
		})
	}
}

func TestLocalVariableTypeTableMatching(t *testing.T) {
	tests := []struct {
		name    string
		typed   testutil.LocalVar
		matches bool
	}{
		{"same position", testutil.LocalVar{StartPC: 0, Length: 1, Index: 1, Name: "list", Descriptor: "Ljava/util/List<TT;>;"}, true},
		{"different name", testutil.LocalVar{StartPC: 0, Length: 1, Index: 1, Name: "items", Descriptor: "Ljava/util/List<TT;>;"}, true},
		{"different slot", testutil.LocalVar{StartPC: 0, Length: 1, Index: 2, Name: "list", Descriptor: "Ljava/util/List<TT;>;"}, false},
		{"different length", testutil.LocalVar{StartPC: 0, Length: 2, Index: 1, Name: "list", Descriptor: "Ljava/util/List<TT;>;"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewClass("p/A", "java/lang/Object")
			lvt := b.LocalVariables(
				testutil.LocalVar{StartPC: 0, Length: 1, Index: 0, Name: "this", Descriptor: "Lp/A;"},
				testutil.LocalVar{StartPC: 0, Length: 1, Index: 1, Name: "list", Descriptor: "Ljava/util/List;"},
			)
			b.Method(classfile.AccPublic, "m", "(Ljava/util/List;)V",
				b.Code(0, 3, ret, lvt, b.LocalVariableTypes(tt.typed)))

			o, err := analyse(t, b, oracle.DefaultOptions())
			if !tt.matches {
				assert.Nil(t, o)
				var oe *oracle.Error
				require.True(t, errors.As(err, &oe))
				assert.Equal(t, oracle.GenericErrorCustomMsg, oe.Result)
				return
			}
			require.NoError(t, err)
			locals := o.Methods()[0].LocalVariables
			require.Len(t, locals, 2)
			assert.Equal(t, "Ljava/util/List<TT;>;", o.ClassFile().String(locals[1].Signature))
		})
	}
}

func TestLocalVariablesDropped(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	lvt := b.LocalVariables(testutil.LocalVar{StartPC: 0, Length: 1, Index: 0, Name: "this", Descriptor: "Lp/A;"})
	b.Method(classfile.AccPublic, "m", "()V", b.Code(0, 1, ret, lvt, b.LineNumbers(0, 3)))

	opts := oracle.DefaultOptions()
	opts.PreserveLocalVariables = false
	opts.PreserveLineNumbers = false
	o, err := analyse(t, b, opts)
	require.NoError(t, err)
	m := o.Methods()[0]
	assert.Empty(t, m.LocalVariables)
	assert.Zero(t, m.LineNumberCount)
	assert.False(t, m.Flags.Has(oracle.MethodHasDebugInfo))

	opts.Retransforming = true
	b2 := testutil.NewClass("p/A", "java/lang/Object")
	b2.Method(classfile.AccPublic, "m", "()V", b2.Code(0, 1, ret, b2.LineNumbers(0, 3)))
	o, err = analyse(t, b2, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Methods()[0].LineNumberCount, "retransforming keeps debug info")
}

func TestVerifyExcludeAttributes(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	b.Attribute(b.SourceFile("A.java"))
	b.Attribute(b.Signature("Ljava/lang/Object;"))

	opts := oracle.DefaultOptions()
	opts.VerifyExcludeAttributes = "SourceFile; Other"
	o, err := analyse(t, b, opts)
	require.NoError(t, err)
	assert.Zero(t, o.Class().SourceFile)
	assert.NotZero(t, o.Class().Signature)
}

func TestKnownAnnotations(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	b.Attribute(b.Annotations(true, b.Annotation("Ljdk/internal/ValueBased;")))
	b.Field(classfile.AccPrivate, "f", "J", b.Annotations(false, b.Annotation("Ljdk/internal/vm/annotation/Contended;")))
	b.Method(classfile.AccPublic|classfile.AccAbstract, "m", "()V",
		b.Annotations(true, b.Annotation("Ljdk/internal/reflect/CallerSensitive;"), b.Annotation("Ljdk/internal/vm/annotation/ForceInline;")))

	o := mustAnalyse(t, b)
	assert.True(t, o.Class().KnownAnnotations.Has(oracle.AnnValueBased))
	assert.True(t, o.Fields()[0].KnownAnnotations.Has(oracle.AnnContended))
	assert.Nil(t, o.Fields()[0].Annotations, "invisible annotations are not kept")

	m := o.Methods()[0]
	assert.True(t, m.KnownAnnotations.Has(oracle.AnnCallerSensitive))
	assert.True(t, m.KnownAnnotations.Has(oracle.AnnForceInline))
	assert.False(t, m.KnownAnnotations.Has(oracle.AnnHidden))
	assert.True(t, m.Flags.Has(oracle.MethodHasAnnotations))

	cp := o.ConstantPool()
	typeIdx := b.UTF8("Ljdk/internal/reflect/CallerSensitive;")
	assert.NotZero(t, cp.ROMIndex(typeIdx, cpmap.UseAnnotationUTF8))
}

func TestStackMapClasses(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	intArray := b.Class("[I")
	other := b.Class("p/B")
	frame := classfile.StackMapFrame{
		Type: classfile.FrameFull,
		Locals: []classfile.VerificationType{
			{Tag: classfile.ItemObject, Data: intArray},
			{Tag: classfile.ItemObject, Data: other},
		},
	}
	b.Method(classfile.AccPublic|classfile.AccStatic, "m", "([ILp/B;)V", b.Code(0, 2, ret, b.StackMap(frame)))

	o := mustAnalyse(t, b)
	cp := o.ConstantPool()
	assert.False(t, cp.IsReferenced(intArray))
	assert.True(t, cp.IsReferenced(other))
	assert.True(t, o.Methods()[0].Flags.Has(oracle.MethodHasStackMap))

	tag, ok := oracle.PrimitiveArrayTag("[D")
	assert.True(t, ok)
	assert.Equal(t, uint8(16), tag)
	_, ok = oracle.PrimitiveArrayTag("[[I")
	assert.False(t, ok)
}

func TestFieldCategories(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	seven := b.Integer(7)
	b.Field(classfile.AccStatic|classfile.AccFinal, "I", "I", b.ConstantValue(seven))
	b.Field(classfile.AccStatic, "O", "Ljava/lang/String;")
	b.Field(classfile.AccStatic, "D", "D")
	b.Field(classfile.AccPrivate, "x", "J", b.ConstantValue(seven))

	o := mustAnalyse(t, b)
	c := o.Class()
	assert.Equal(t, 1, c.SingleScalarStaticCount)
	assert.Equal(t, 1, c.ObjectStaticCount)
	assert.Equal(t, 1, c.DoubleScalarStaticCount)
	assert.Equal(t, 1, c.InstanceFieldCount)
	assert.Equal(t, seven, o.Fields()[0].ConstantValue)
	assert.Zero(t, o.Fields()[3].ConstantValue, "instance fields ignore ConstantValue")
	assert.True(t, o.ConstantPool().IsReferenced(seven))
}

func TestConstantValueTypeMismatch(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	b.Field(classfile.AccStatic, "x", "J", b.ConstantValue(b.Integer(1)))
	_, err := analyse(t, b, oracle.DefaultOptions())
	assert.ErrorIs(t, err, oracle.ErrGeneric)
}

func TestOutOfMemory(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(0, 0, make([]byte, 4096)))
	cf := b.Build()

	a := arena.New(2048)
	cp, err := cpmap.New(a, cf)
	require.NoError(t, err)
	_, err = oracle.New(cf, cp, a, oracle.DefaultOptions())
	assert.ErrorIs(t, err, oracle.ErrOutOfMemory)
	assert.True(t, a.ShouldFree())
}
