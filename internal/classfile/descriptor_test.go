package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc     string
		wantArgs string
		wantRet  byte
		slots    int
	}{
		{"()V", "", 'V', 0},
		{"(I)I", "I", 'I', 1},
		{"(JD)V", "JD", 'V', 4},
		{"(Ljava/lang/String;[I[[J)Ljava/lang/Object;", "LLL", 'L', 3},
		{"(BCSZF)[B", "BCSZF", 'L', 5},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			args, ret, err := ParseMethodDescriptor(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, string(args))
			assert.Equal(t, tt.wantRet, ret)

			slots, err := ArgumentSlots(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.slots, slots)
		})
	}
}

func TestParseMethodDescriptorInvalid(t *testing.T) {
	for _, desc := range []string{"", "V", "(I", "(Q)V", "(Ljava/lang/String)V", "()", "()VV", "()["} {
		t.Run(desc, func(t *testing.T) {
			_, _, err := ParseMethodDescriptor(desc)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestReturnChar(t *testing.T) {
	assert.Equal(t, byte('V'), ReturnChar("()V"))
	assert.Equal(t, byte('['), ReturnChar("(I)[I"))
	assert.Equal(t, byte('J'), ReturnChar("J"))
	assert.Equal(t, byte(0), ReturnChar(""))
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "java/lang", PackageName("java/lang/String"))
	assert.Equal(t, "", PackageName("Main"))
}

func TestOpcodeLength(t *testing.T) {
	tests := []struct {
		op   byte
		want int
	}{
		{OpNop, 1},
		{OpBipush, 2},
		{OpLdcW, 3},
		{OpIinc, 3},
		{OpInvokeinterface, 5},
		{OpMultianewarray, 4},
		{OpTableswitch, 0},
		{OpGotoW, 5},
	}
	for _, tt := range tests {
		n, ok := OpcodeLength(tt.op)
		assert.True(t, ok)
		assert.Equal(t, tt.want, n, "opcode %#x", tt.op)
	}
	_, ok := OpcodeLength(0xca)
	assert.False(t, ok)

	assert.True(t, IsBranch(OpGoto))
	assert.True(t, IsBranch(OpIfnonnull))
	assert.False(t, IsBranch(OpGotoW))
}
