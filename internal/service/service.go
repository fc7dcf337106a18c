// Package service compiles batches of class files into stored ROM class artifacts.
//
// A batch walks the given files and directories, filters class names, compiles each
// class on a worker pool, uploads the artifacts and records every attempt in the
// catalog. Classes whose bytes and options match a catalog record are not recompiled.
package service

import (
	"context"
	"fmt"

	"github.com/romclass/internal/catalog"
	"github.com/romclass/internal/romclass"
	"github.com/romclass/internal/storage"
	"github.com/romclass/pkg/collections"
	"github.com/romclass/pkg/compression"
	"github.com/romclass/pkg/config"
	"github.com/romclass/pkg/filter"
	"github.com/romclass/pkg/utils"
)

const (
	readBufferSize    = 16 << 10
	maxPooledReadSize = 1 << 20
)

// Service is the batch compile service.
type Service struct {
	config     *config.Config
	logger     utils.Logger
	clock      utils.Clock
	storage    storage.Storage
	catalog    catalog.Repository
	db         *catalog.Catalog
	filter     *filter.ClassFilter
	compressor compression.Compressor
	options    romclass.Options
	buffers    *collections.SlicePool[byte]
}

// Option customizes a Service.
type Option func(*Service)

// WithStorage sets the artifact store instead of building one from the config.
func WithStorage(s storage.Storage) Option {
	return func(svc *Service) { svc.storage = s }
}

// WithCatalog sets the catalog instead of opening the configured database.
func WithCatalog(r catalog.Repository) Option {
	return func(svc *Service) { svc.catalog = r }
}

// WithClock sets the clock used for batch timestamps and durations.
func WithClock(c utils.Clock) Option {
	return func(svc *Service) { svc.clock = c }
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	ct, err := compression.ParseType(cfg.Compression.Type)
	if err != nil {
		return nil, err
	}
	compressor, err := compression.New(ct, compression.Level(cfg.Compression.Level))
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	options, err := BuildOptions(&cfg.Compile)
	if err != nil {
		return nil, err
	}
	options.Logger = logger

	s := &Service{
		config:     cfg,
		logger:     logger,
		clock:      utils.NewRealClock(),
		filter:     filter.NewClassFilter(cfg.Compile.Include, cfg.Compile.Exclude),
		compressor: compressor,
		options:    options,
		buffers:    collections.NewSlicePool[byte](readBufferSize, maxPooledReadSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize opens the storage and catalog that were not injected.
func (s *Service) Initialize(ctx context.Context) error {
	if s.storage == nil {
		s.logger.Info("Initializing storage (%s)...", s.config.Storage.Type)
		store, err := storage.NewStorage(&s.config.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		s.storage = store
	}

	if s.catalog == nil && s.config.Catalog.Type != "" {
		s.logger.Info("Connecting to catalog (%s)...", s.config.Catalog.Type)
		db, err := catalog.Open(&s.config.Catalog)
		if err != nil {
			return fmt.Errorf("failed to initialize catalog: %w", err)
		}
		s.db = db
		s.catalog = db
	}
	return nil
}

// Close releases the catalog connection and the compressor.
func (s *Service) Close() error {
	compression.Close(s.compressor)
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close catalog: %v", err)
			return err
		}
	}
	return nil
}

// HealthCheck pings the catalog database when one is open.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("catalog health check failed: %w", err)
		}
	}
	return nil
}

// Catalog returns the catalog, nil when disabled.
func (s *Service) Catalog() catalog.Repository {
	return s.catalog
}

// Storage returns the artifact store.
func (s *Service) Storage() storage.Storage {
	return s.storage
}
