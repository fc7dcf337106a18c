package catalog

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"gorm.io/gorm"
)

const defaultListLimit = 100

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the catalog table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CompiledClass{}); err != nil {
		return fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return nil
}

// Save inserts the record.
func (r *GormRepository) Save(ctx context.Context, c *CompiledClass) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to save %s: %w", c.ClassName, err)
	}
	return nil
}

// FindBySourceHash returns the newest successful record for the hashes.
func (r *GormRepository) FindBySourceHash(ctx context.Context, sourceHash, optionsHash string) (*CompiledClass, error) {
	var c CompiledClass
	err := r.db.WithContext(ctx).
		Where("source_hash = ? AND options_hash = ? AND result_code = ?", sourceHash, optionsHash, "").
		Order("id DESC").
		Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: source %s", ErrNotFound, sourceHash)
		}
		return nil, fmt.Errorf("failed to find by source hash: %w", err)
	}
	return &c, nil
}

// FindByClassName returns records for the class, newest first.
func (r *GormRepository) FindByClassName(ctx context.Context, className string, limit int) ([]*CompiledClass, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []*CompiledClass
	err := r.db.WithContext(ctx).
		Where("class_name = ?", className).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find by class name: %w", err)
	}
	return out, nil
}

// List returns records matching opts, newest first.
func (r *GormRepository) List(ctx context.Context, opts ListOptions) ([]*CompiledClass, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := r.db.WithContext(ctx).Model(&CompiledClass{})
	if opts.ClassPrefix != "" {
		q = q.Where("substr(class_name, 1, ?) = ?", utf8.RuneCountInString(opts.ClassPrefix), opts.ClassPrefix)
	}
	switch opts.ResultCode {
	case "":
	case ResultOK:
		q = q.Where("result_code = ?", "")
	default:
		q = q.Where("result_code = ?", opts.ResultCode)
	}

	var out []*CompiledClass
	if err := q.Order("id DESC").Limit(limit).Offset(opts.Offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	return out, nil
}

type resultCount struct {
	ResultCode string
	Count      int64
}

// CountByResult counts records per result code.
func (r *GormRepository) CountByResult(ctx context.Context) (map[string]int64, error) {
	var rows []resultCount
	err := r.db.WithContext(ctx).
		Model(&CompiledClass{}).
		Select("result_code, count(*) AS count").
		Group("result_code").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count results: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		code := row.ResultCode
		if code == "" {
			code = ResultOK
		}
		counts[code] += row.Count
	}
	return counts, nil
}
