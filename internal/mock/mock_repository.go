package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/romclass/internal/catalog"
)

// MockCatalog is a mock implementation of catalog.Repository.
type MockCatalog struct {
	mock.Mock
}

// Save mocks the Save method. The record ID is set from the second return value
// when one is given.
func (m *MockCatalog) Save(ctx context.Context, c *catalog.CompiledClass) error {
	args := m.Called(ctx, c)
	if len(args) > 1 {
		if id, ok := args.Get(1).(int64); ok {
			c.ID = id
		}
	}
	return args.Error(0)
}

// FindBySourceHash mocks the FindBySourceHash method.
func (m *MockCatalog) FindBySourceHash(ctx context.Context, sourceHash, optionsHash string) (*catalog.CompiledClass, error) {
	args := m.Called(ctx, sourceHash, optionsHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.CompiledClass), args.Error(1)
}

// FindByClassName mocks the FindByClassName method.
func (m *MockCatalog) FindByClassName(ctx context.Context, className string, limit int) ([]*catalog.CompiledClass, error) {
	args := m.Called(ctx, className, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*catalog.CompiledClass), args.Error(1)
}

// List mocks the List method.
func (m *MockCatalog) List(ctx context.Context, opts catalog.ListOptions) ([]*catalog.CompiledClass, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*catalog.CompiledClass), args.Error(1)
}

// CountByResult mocks the CountByResult method.
func (m *MockCatalog) CountByResult(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

// ExpectCacheMiss makes every FindBySourceHash call miss.
func (m *MockCatalog) ExpectCacheMiss() *mock.Call {
	return m.On("FindBySourceHash", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, catalog.ErrNotFound)
}

// ExpectCacheHit returns rec for the given source hash.
func (m *MockCatalog) ExpectCacheHit(sourceHash string, rec *catalog.CompiledClass) *mock.Call {
	return m.On("FindBySourceHash", mock.Anything, sourceHash, mock.Anything).Return(rec, nil)
}

// ExpectAnySave accepts every Save call.
func (m *MockCatalog) ExpectAnySave(err error) *mock.Call {
	return m.On("Save", mock.Anything, mock.Anything).Return(err)
}
