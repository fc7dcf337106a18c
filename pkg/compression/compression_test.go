package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// romLike looks like a compiled image: a magic, a header and repetitive slot data.
func romLike() []byte {
	data := []byte("CMOR")
	data = append(data, bytes.Repeat([]byte{0, 0, 0, 0, 7, 0, 0, 0}, 512)...)
	return data
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		typ   Type
		level Level
	}{
		{TypeNone, LevelDefault},
		{TypeGzip, LevelFastest},
		{TypeGzip, LevelBest},
		{TypeGzip, 5},
		{TypeZstd, LevelDefault},
		{TypeZstd, LevelFastest},
		{TypeZstd, LevelBest},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			c, err := New(tt.typ, tt.level)
			require.NoError(t, err)
			defer Close(c)
			assert.Equal(t, tt.typ, c.Type())

			data := romLike()
			packed, err := c.Compress(data)
			require.NoError(t, err)
			if tt.typ != TypeNone {
				assert.Less(t, len(packed), len(data))
			}
			assert.Equal(t, tt.typ, DetectType(packed))

			unpacked, err := AutoDecompress(packed)
			require.NoError(t, err)
			assert.Equal(t, data, unpacked)
		})
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{"GZIP", TypeGzip, false},
		{"zst", TypeZstd, false},
		{"lz4", TypeNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtensionAndString(t *testing.T) {
	assert.Equal(t, "", TypeNone.Extension())
	assert.Equal(t, ".gz", TypeGzip.Extension())
	assert.Equal(t, ".zst", TypeZstd.Extension())
	assert.Equal(t, "zstd", TypeZstd.String())
	assert.Equal(t, "Type(9)", Type(9).String())
}

func TestNewUnknown(t *testing.T) {
	_, err := New(Type(9), LevelDefault)
	assert.Error(t, err)
}

func TestDecompressGarbage(t *testing.T) {
	_, err := NewGzipCompressor(LevelDefault).Decompress([]byte("not gzip"))
	assert.Error(t, err)

	z, err := NewZstdCompressor(LevelDefault)
	require.NoError(t, err)
	defer z.Close()
	_, err = z.Decompress([]byte{0x28, 0xb5, 0x2f, 0xfd, 0xff})
	assert.Error(t, err)
}
