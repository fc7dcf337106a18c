package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romclass/pkg/config"
)

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(&config.CatalogConfig{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NotNil(t, c)
	t.Cleanup(func() { c.Close() })
	return c
}

func record(class, hash, code string) *CompiledClass {
	c := &CompiledClass{
		ClassName:   class,
		SourceHash:  hash,
		OptionsHash: "opts",
		ResultCode:  code,
		ROMSize:     128,
	}
	if code == "" {
		c.ArtifactKey = fmt.Sprintf("rom/%s/%s.rom", class, hash)
	} else {
		c.Message = "failed"
	}
	return c
}

func TestGormRepository_Save(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	rec := record("com/example/Foo", "h1", "")
	require.NoError(t, c.Save(ctx, rec))
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, rec.Succeeded())

	second := record("com/example/Foo", "h2", "")
	require.NoError(t, c.Save(ctx, second))
	assert.Greater(t, second.ID, rec.ID)
}

func TestGormRepository_SideArtifacts(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	rec := record("com/example/Foo", "h1", "")
	rec.ArtifactSize = 96
	rec.SideArtifacts = []SideArtifact{
		{Kind: "utf8", Key: "rom/com/example/Foo/h1.utf8", Size: 40},
		{Kind: "ln", Key: "rom/com/example/Foo/h1.ln", Size: 8},
	}
	require.NoError(t, c.Save(ctx, rec))
	plain := record("com/example/Bar", "h2", "")
	require.NoError(t, c.Save(ctx, plain))

	got, err := c.FindBySourceHash(ctx, "h1", "opts")
	require.NoError(t, err)
	assert.Equal(t, int64(96), got.ArtifactSize)
	assert.Equal(t, rec.SideArtifacts, got.SideArtifacts)

	got, err = c.FindBySourceHash(ctx, "h2", "opts")
	require.NoError(t, err)
	assert.Empty(t, got.SideArtifacts)
}

func TestGormRepository_FindBySourceHash(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	older := record("com/example/Foo", "h1", "")
	newer := record("com/example/Foo", "h1", "")
	failed := record("com/example/Foo", "h1", "INVALID_BYTECODE")
	for _, r := range []*CompiledClass{older, newer, failed} {
		require.NoError(t, c.Save(ctx, r))
	}

	t.Run("NewestSuccess", func(t *testing.T) {
		got, err := c.FindBySourceHash(ctx, "h1", "opts")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
	})

	t.Run("OptionsMismatch", func(t *testing.T) {
		_, err := c.FindBySourceHash(ctx, "h1", "other")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("OnlyFailures", func(t *testing.T) {
		require.NoError(t, c.Save(ctx, record("com/example/Bar", "h9", "CLASS_NAME_MISMATCH")))
		_, err := c.FindBySourceHash(ctx, "h9", "opts")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGormRepository_FindByClassName(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Save(ctx, record("com/example/Foo", fmt.Sprintf("h%d", i), "")))
	}
	require.NoError(t, c.Save(ctx, record("com/example/Other", "x", "")))

	all, err := c.FindByClassName(ctx, "com/example/Foo", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "h2", all[0].SourceHash)
	assert.Equal(t, "h0", all[2].SourceHash)

	limited, err := c.FindByClassName(ctx, "com/example/Foo", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "h2", limited[0].SourceHash)

	none, err := c.FindByClassName(ctx, "com/example/Missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormRepository_List(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, record("com/example/A", "1", "")))
	require.NoError(t, c.Save(ctx, record("com/example/B", "2", "INVALID_BYTECODE")))
	require.NoError(t, c.Save(ctx, record("org/other/C", "3", "")))
	require.NoError(t, c.Save(ctx, record("com/example_x/D", "4", "")))

	tests := []struct {
		name   string
		opts   ListOptions
		hashes []string
	}{
		{"All", ListOptions{}, []string{"4", "3", "2", "1"}},
		{"Prefix", ListOptions{ClassPrefix: "com/example/"}, []string{"2", "1"}},
		{"Successes", ListOptions{ResultCode: ResultOK}, []string{"4", "3", "1"}},
		{"Code", ListOptions{ResultCode: "INVALID_BYTECODE"}, []string{"2"}},
		{"Page", ListOptions{Limit: 2, Offset: 1}, []string{"3", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.List(ctx, tt.opts)
			require.NoError(t, err)
			hashes := make([]string, len(got))
			for i, r := range got {
				hashes[i] = r.SourceHash
			}
			assert.Equal(t, tt.hashes, hashes)
		})
	}
}

func TestGormRepository_CountByResult(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	counts, err := c.CountByResult(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	require.NoError(t, c.Save(ctx, record("A", "1", "")))
	require.NoError(t, c.Save(ctx, record("B", "2", "")))
	require.NoError(t, c.Save(ctx, record("C", "3", "INVALID_BYTECODE")))

	counts, err = c.CountByResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{ResultOK: 2, "INVALID_BYTECODE": 1}, counts)
}

func TestCatalog_Lifecycle(t *testing.T) {
	c, err := Open(&config.CatalogConfig{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)

	assert.NoError(t, c.HealthCheck(context.Background()))
	assert.NotNil(t, c.GormDB())
	require.NoError(t, c.Close())
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestOpen_Disabled(t *testing.T) {
	c, err := Open(&config.CatalogConfig{})
	assert.NoError(t, err)
	assert.Nil(t, c)

	c, err = Open(nil)
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDialector(t *testing.T) {
	tests := []struct {
		cfg     config.CatalogConfig
		name    string
		wantErr bool
	}{
		{config.CatalogConfig{Type: "sqlite"}, "sqlite", false},
		{config.CatalogConfig{Type: "mysql", Host: "db", User: "u", Database: "romc"}, "mysql", false},
		{config.CatalogConfig{Type: "postgres", Host: "db", User: "u", Database: "romc"}, "postgres", false},
		{config.CatalogConfig{Type: "postgresql", Host: "db"}, "postgres", false},
		{config.CatalogConfig{Type: "oracle"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			d, err := Dialector(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}
