package service

import (
	"context"
	"os"

	"github.com/romclass/internal/catalog"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/romclass"
	apperrors "github.com/romclass/pkg/errors"
)

var errCatalogDisabled = apperrors.New(apperrors.CodeConfigError, "catalog is not configured")

// History returns the recorded compilations of one class, newest first.
func (s *Service) History(ctx context.Context, className string, limit int) ([]*catalog.CompiledClass, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}
	recs, err := s.catalog.FindByClassName(ctx, className, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCatalogError, "cannot query history", err)
	}
	return recs, nil
}

// ListRecords returns catalog records matching opts.
func (s *Service) ListRecords(ctx context.Context, opts catalog.ListOptions) ([]*catalog.CompiledClass, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}
	recs, err := s.catalog.List(ctx, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCatalogError, "cannot list records", err)
	}
	return recs, nil
}

// CatalogStats counts catalog records per result code.
func (s *Service) CatalogStats(ctx context.Context) (map[string]int64, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}
	counts, err := s.catalog.CountByResult(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCatalogError, "cannot count records", err)
	}
	return counts, nil
}

// AnalyzeFile parses one class file and reports what the compiler extracts from it,
// using the configured options.
func (s *Service) AnalyzeFile(path string) (*romclass.Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeReadError, "cannot read class file", err)
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "malformed class file", err)
	}
	opts := s.options
	an, err := romclass.Analyze(cf, &opts)
	if err != nil {
		return nil, apperrors.FromBuild(err)
	}
	return an, nil
}

// InspectArtifact loads a stored ROM artifact and decodes it.
func (s *Service) InspectArtifact(ctx context.Context, key string) (*romclass.Image, error) {
	data, err := s.LoadArtifact(ctx, key)
	if err != nil {
		return nil, err
	}
	img, err := romclass.Inspect(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "not a ROM class", err)
	}
	return img, nil
}
