package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romclass/pkg/compression"
	"github.com/romclass/pkg/config"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "artifacts")

		storage, err := NewLocalStorage(path)
		require.NoError(t, err)
		assert.Equal(t, path, storage.GetBasePath())

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("DefaultPath", func(t *testing.T) {
		t.Chdir(t.TempDir())

		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, "./artifacts", storage.GetBasePath())
	})
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := "rom/com/example/Foo/abc.rom"

	require.NoError(t, storage.Upload(ctx, key, bytes.NewReader([]byte("first"))))
	require.NoError(t, storage.Upload(ctx, key, bytes.NewReader([]byte("second"))))

	rc, err := storage.Download(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(storage.GetURL(key)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary upload files are cleaned up")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestLocalStorage_UploadFailureLeavesNoFile(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	err = storage.Upload(context.Background(), "rom/A/h.rom", failingReader{})
	require.Error(t, err)

	ok, err := storage.Exists(context.Background(), "rom/A/h.rom")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_Missing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.Download(ctx, "rom/none.rom")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Get(ctx, storage, "rom/none.rom")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := storage.Exists(ctx, "rom/none.rom")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, storage.Delete(ctx, "rom/none.rom"))
}

func TestLocalStorage_Delete(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Put(ctx, storage, "a/b.rom", []byte{1}))
	ok, err := storage.Exists(ctx, "a/b.rom")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, storage.Delete(ctx, "a/b.rom"))
	ok, err = storage.Exists(ctx, "a/b.rom")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_InvalidKeys(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "../escape.rom", "a/../../escape.rom", "/abs/path.rom"} {
		t.Run(key, func(t *testing.T) {
			assert.Error(t, storage.Upload(ctx, key, bytes.NewReader(nil)))
			_, err := storage.Download(ctx, key)
			assert.Error(t, err)
		})
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, storage.Upload(ctx, "k", bytes.NewReader(nil)), context.Canceled)
	_, err = storage.Download(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = storage.Exists(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, storage.Delete(ctx, "k"), context.Canceled)
}

func TestLocalStorage_GetURL(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage.GetBasePath(), "rom", "A", "h.rom"), storage.GetURL("rom/A/h.rom"))
}

func TestArtifactKey(t *testing.T) {
	tests := []struct {
		class, kind string
		ct          compression.Type
		want        string
	}{
		{"com/example/Foo", "rom", compression.TypeNone, "rom/com/example/Foo/abc.rom"},
		{"com/example/Foo", "ln", compression.TypeZstd, "rom/com/example/Foo/abc.ln.zst"},
		{"Main", "utf8", compression.TypeGzip, "rom/Main/abc.utf8.gz"},
		{"", "rom", compression.TypeNone, "rom/_/abc.rom"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactKey(tt.class, "abc", tt.kind, tt.ct))
		})
	}
}

func TestNewStorage(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		s, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, s)
	})

	t.Run("EmptyTypeIsLocal", func(t *testing.T) {
		s, err := NewStorage(&config.StorageConfig{LocalPath: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, s)
	})

	invalid := []struct {
		name string
		cfg  *config.StorageConfig
		want string
	}{
		{"Nil", nil, "storage config is nil"},
		{"Unsupported", &config.StorageConfig{Type: "s3"}, "unsupported storage type"},
		{"LocalWithoutPath", &config.StorageConfig{Type: "local"}, "local storage path is required"},
		{"COSWithoutBucket", &config.StorageConfig{Type: "cos", Region: "r"}, "COS bucket is required"},
		{"COSWithoutRegion", &config.StorageConfig{Type: "cos", Bucket: "b"}, "COS region is required"},
		{"COSWithoutSecrets", &config.StorageConfig{Type: "cos", Bucket: "b", Region: "r"}, "COS credentials are required"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStorage(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
