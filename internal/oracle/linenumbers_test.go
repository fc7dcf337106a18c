package oracle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/oracle"
	"github.com/romclass/internal/testutil"
)

func lines(pairs ...uint16) []classfile.LineNumber {
	var out []classfile.LineNumber
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, classfile.LineNumber{StartPC: pairs[i], LineNumber: pairs[i+1]})
	}
	return out
}

func TestEncodeLineNumbers(t *testing.T) {
	tests := []struct {
		name    string
		entries []classfile.LineNumber
		size    int
	}{
		{"one byte", lines(3, 1), 1},
		{"one byte negative line", lines(0, 1, 31, 0), 2},
		{"two bytes", lines(100, 50), 2},
		{"two bytes negative", lines(0, 2, 1, 0, 127, 0), 1 + 2 + 2},
		{"three bytes", lines(1000, 100), 3},
		{"three bytes negative", lines(0, 100, 8191, 0), 3 + 3},
		{"five bytes pc", lines(9000, 1), 5},
		{"five bytes line", lines(0, 40000, 1, 2), 5 + 5},
		{"mixed", lines(0, 10, 4, 11, 9, 12, 200, 300, 60000, 65535), 2 + 1 + 1 + 5 + 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := oracle.EncodeLineNumbers(nil, tt.entries)
			assert.Len(t, buf, tt.size)
			assert.LessOrEqual(t, len(buf), oracle.LineNumberBufferSize(len(tt.entries)))

			decoded, err := oracle.DecodeLineNumbers(buf, len(tt.entries))
			require.NoError(t, err)
			assert.Equal(t, tt.entries, decoded)
		})
	}
}

func TestDecodeLineNumbersErrors(t *testing.T) {
	tests := []struct {
		name  string
		buf   []byte
		count int
	}{
		{"bad prefix", []byte{0xF0}, 1},
		{"truncated two byte form", []byte{0x80}, 1},
		{"truncated five byte form", []byte{0xE0, 0, 1}, 1},
		{"missing entries", []byte{0x06}, 2},
		{"trailing bytes", []byte{0x06, 0x06}, 1},
		{"negative line", []byte{0x00}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := oracle.DecodeLineNumbers(tt.buf, tt.count)
			assert.ErrorIs(t, err, oracle.ErrLineNumberEncoding)
		})
	}
}

func TestLineNumbersSortedBeforeCompression(t *testing.T) {
	compile := func(table *classfile.LineNumberTableAttribute, b *testutil.ClassBuilder) *oracle.MethodInfo {
		code := append(make([]byte, 11), classfile.OpReturn)
		b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V", b.Code(0, 0, code, table))
		o := mustAnalyse(t, b)
		return &o.Methods()[0]
	}

	b1 := testutil.NewClass("p/A", "java/lang/Object")
	unsorted := b1.LineNumbers(10, 5, 4, 6)
	m1 := compile(unsorted, b1)

	b2 := testutil.NewClass("p/A", "java/lang/Object")
	m2 := compile(b2.LineNumbers(4, 6, 10, 5), b2)

	assert.Equal(t, m2.LineNumbers, m1.LineNumbers)
	assert.Equal(t, 2, m1.LineNumberCount)
	assert.Equal(t, lines(10, 5, 4, 6), unsorted.Entries, "the attribute itself is left untouched")

	decoded, err := oracle.DecodeLineNumbers(m1.LineNumbers, m1.LineNumberCount)
	require.NoError(t, err)
	assert.Equal(t, lines(4, 6, 10, 5), decoded)
}

func TestLineNumbersAcrossTables(t *testing.T) {
	b := testutil.NewClass("p/A", "java/lang/Object")
	code := []byte{classfile.OpNop, classfile.OpNop, classfile.OpReturn}
	b.Method(classfile.AccPublic|classfile.AccStatic, "m", "()V",
		b.Code(0, 0, code, b.LineNumbers(0, 7), b.LineNumbers(2, 9)))

	o := mustAnalyse(t, b)
	m := o.Methods()[0]
	require.Equal(t, 2, m.LineNumberCount)
	decoded, err := oracle.DecodeLineNumbers(m.LineNumbers, m.LineNumberCount)
	require.NoError(t, err)
	assert.Equal(t, lines(0, 7, 2, 9), decoded)
}
