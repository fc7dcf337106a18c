package service

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/romclass/pkg/errors"
	"github.com/romclass/pkg/filter"
	"github.com/romclass/pkg/model"
)

// Collect expands paths into compile requests. Directories are walked as class-path
// roots and every .class file below them gets the class name its location implies;
// names rejected by the filter become skipped outcomes. Files named directly are
// compiled without an expected name.
func (s *Service) Collect(paths []string) ([]*model.CompileRequest, []model.CompileOutcome, error) {
	var requests []*model.CompileRequest
	var skipped []model.CompileOutcome

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeReadError, fmt.Sprintf("cannot stat %s", root), err)
		}
		if !info.IsDir() {
			requests = append(requests, model.NewCompileRequest(root, ""))
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".class") {
				return nil
			}
			name, ok := filter.ClassNameFromPath(root, path)
			if !ok {
				return nil
			}
			req := model.NewCompileRequest(path, name)
			if !s.filter.Allow(name) {
				skipped = append(skipped, model.CompileOutcome{
					Request:   *req,
					ClassName: name,
					Category:  s.filter.Classify(name).String(),
					Status:    model.StatusSkipped,
				})
				return nil
			}
			requests = append(requests, req)
			return nil
		})
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeReadError, fmt.Sprintf("cannot walk %s", root), err)
		}
	}

	s.logger.Debug("collected %d classes, %d skipped", len(requests), len(skipped))
	return requests, skipped, nil
}
