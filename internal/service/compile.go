package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/romclass/internal/catalog"
	"github.com/romclass/internal/classfile"
	"github.com/romclass/internal/romclass"
	"github.com/romclass/internal/storage"
	"github.com/romclass/pkg/compression"
	apperrors "github.com/romclass/pkg/errors"
	"github.com/romclass/pkg/model"
	"github.com/romclass/pkg/parallel"
	"github.com/romclass/pkg/telemetry"
)

// CompileBatch compiles every class found under paths.
func (s *Service) CompileBatch(ctx context.Context, paths []string) (summary *model.BatchSummary, err error) {
	if s.storage == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "service not initialized")
	}
	ctx, end := telemetry.StartPhase(ctx, "romc.batch", attribute.Int("romc.paths", len(paths)))
	defer func() { end(err) }()

	startedAt := s.clock.Now()
	requests, skipped, err := s.Collect(paths)
	if err != nil {
		return nil, err
	}

	cfg := parallel.DefaultPoolConfig().
		WithTaskTimeout(s.config.Worker.Timeout).
		WithProgress(func(done, total int) {
			s.logger.Debug("compiled %d/%d", done, total)
		})
	if s.config.Worker.Count > 0 {
		cfg = cfg.WithWorkers(s.config.Worker.Count)
	}
	pool := parallel.NewWorkerPool[*model.CompileRequest, model.CompileOutcome](cfg)

	s.logger.Info("Compiling %d classes with %d workers", len(requests), cfg.MaxWorkers)
	results := pool.Run(ctx, requests, func(ctx context.Context, req *model.CompileRequest) (model.CompileOutcome, error) {
		out := s.CompileFile(ctx, req)
		return out, ctx.Err()
	})

	outcomes := make([]model.CompileOutcome, 0, len(results)+len(skipped))
	for _, r := range results {
		out := r.Result
		if r.Error != nil && out.Status == model.StatusPending {
			out = failed(*r.Input, r.Error)
		}
		outcomes = append(outcomes, out)
	}
	outcomes = append(outcomes, skipped...)

	summary = model.NewBatchSummary(outcomes, startedAt, s.clock.Now())
	m := pool.Metrics()
	s.logger.Debug("pool: %d tasks, %d errors, busy %v, slowest %v", m.TotalTasks, m.FailedTasks, m.BusyTime, m.MaxTaskTime)
	s.logger.Info("Batch done in %v: %d compiled, %d cached, %d failed, %d skipped",
		summary.Duration(), summary.Compiled, summary.Cached, summary.Failed, summary.Skipped)
	return summary, nil
}

// CompileFile compiles one class file, storing and recording the result. Failures are
// reported in the outcome.
func (s *Service) CompileFile(ctx context.Context, req *model.CompileRequest) (out model.CompileOutcome) {
	ctx, end := telemetry.StartPhase(ctx, "romc.compile", attribute.String("romc.path", req.Path))
	startedAt := s.clock.Now()
	var err error
	defer func() {
		out.SetDuration(s.clock.Since(startedAt))
		end(err)
	}()

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	data, err := readInto(buf, req.Path)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeReadError, "cannot read class file", err)
		return failed(*req, err)
	}
	*buf = data
	sum := sha256.Sum256(data)
	req.SourceHash = hex.EncodeToString(sum[:])
	req.Size = int64(len(data))

	opts := s.options
	opts.ExpectedClassName = req.ClassName
	optionsHash := OptionsHash(&opts)

	if hit, ok := s.lookup(ctx, req, optionsHash); ok {
		return hit
	}

	cf, err := classfile.Parse(data)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeInvalidInput, "malformed class file", err)
		out = failed(*req, err)
		s.record(ctx, &out, optionsHash, startedAt)
		return out
	}

	res, err := romclass.Build(cf, &opts)
	if err != nil {
		appErr := apperrors.FromBuild(err)
		err = appErr
		out = failed(*req, appErr)
		out.ClassName = classNameOf(cf)
		s.record(ctx, &out, optionsHash, startedAt)
		return out
	}

	out = model.CompileOutcome{
		Request:   *req,
		ClassName: res.Summary.ClassName,
		Category:  s.filter.Classify(res.Summary.ClassName).String(),
		Status:    model.StatusCompiled,
		ROMSize:   res.Summary.ROMSize,
	}
	out.Artifacts, err = s.store(ctx, res, req.SourceHash)
	if err != nil {
		out.Status = model.StatusFailed
		out.ResultCode = apperrors.CodeStorageError
		out.Message = err.Error()
		out.Artifacts = nil
	}
	s.record(ctx, &out, optionsHash, startedAt)
	return out
}

// readInto reads path into the pooled buffer, growing it as needed.
func readInto(buf *[]byte, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := (*buf)[:0]
	if info, err := f.Stat(); err == nil && int(info.Size()) > cap(data) {
		data = make([]byte, 0, info.Size())
	}
	for {
		if len(data) == cap(data) {
			data = append(data, 0)[:len(data)]
		}
		n, err := f.Read(data[len(data):cap(data)])
		data = data[:len(data)+n]
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Service) lookup(ctx context.Context, req *model.CompileRequest, optionsHash string) (model.CompileOutcome, bool) {
	if s.catalog == nil {
		return model.CompileOutcome{}, false
	}
	rec, err := s.catalog.FindBySourceHash(ctx, req.SourceHash, optionsHash)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			s.logger.Warn("catalog lookup for %s failed: %v", req.DisplayName(), err)
		}
		return model.CompileOutcome{}, false
	}
	artifacts := recordedArtifacts(rec)
	for _, a := range artifacts {
		ok, err := s.storage.Exists(ctx, a.Key)
		if err != nil || !ok {
			s.logger.Debug("cached artifact %s missing, recompiling", a.Key)
			return model.CompileOutcome{}, false
		}
	}
	return model.CompileOutcome{
		Request:   *req,
		ClassName: rec.ClassName,
		Category:  s.filter.Classify(rec.ClassName).String(),
		Status:    model.StatusCached,
		ROMSize:   rec.ROMSize,
		Artifacts: artifacts,
	}, true
}

// recordedArtifacts lists the artifacts of a catalog record in the order store emits them.
func recordedArtifacts(rec *catalog.CompiledClass) []model.Artifact {
	out := make([]model.Artifact, 0, 1+len(rec.SideArtifacts))
	out = append(out, model.Artifact{Kind: model.ArtifactROM, Key: rec.ArtifactKey, Size: rec.ArtifactSize})
	for _, a := range rec.SideArtifacts {
		out = append(out, model.Artifact{Kind: a.Kind, Key: a.Key, Size: a.Size})
	}
	return out
}

func (s *Service) store(ctx context.Context, res *romclass.Result, sourceHash string) (artifacts []model.Artifact, err error) {
	ctx, end := telemetry.StartPhase(ctx, "romc.store", attribute.String("romc.class", res.Summary.ClassName))
	defer func() { end(err) }()

	buffers := []struct {
		kind string
		data []byte
	}{
		{model.ArtifactROM, res.ROM},
		{model.ArtifactUTF8, res.UTF8},
		{model.ArtifactLineNumbers, res.LineNumbers},
		{model.ArtifactVariableInfo, res.VariableInfo},
	}
	g, gctx := errgroup.WithContext(ctx)
	artifacts = make([]model.Artifact, 0, len(buffers))
	for _, b := range buffers {
		if b.data == nil {
			continue
		}
		payload, err := s.compressor.Compress(b.data)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", b.kind, err)
		}
		key := storage.ArtifactKey(res.Summary.ClassName, sourceHash, b.kind, s.compressor.Type())
		artifacts = append(artifacts, model.Artifact{Kind: b.kind, Key: key, Size: int64(len(payload))})
		g.Go(func() error {
			return storage.Put(gctx, s.storage, key, payload)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (s *Service) record(ctx context.Context, out *model.CompileOutcome, optionsHash string, startedAt time.Time) {
	if s.catalog == nil {
		return
	}
	rec := &catalog.CompiledClass{
		ClassName:   out.ClassName,
		SourceHash:  out.Request.SourceHash,
		OptionsHash: optionsHash,
		ROMSize:     out.ROMSize,
		ResultCode:  out.ResultCode,
		Message:     out.Message,
		Compression: s.compressor.Type().String(),
		DurationMS:  s.clock.Since(startedAt).Milliseconds(),
	}
	if out.Status == model.StatusCompiled {
		for _, a := range out.Artifacts {
			if a.Kind == model.ArtifactROM {
				rec.ArtifactKey, rec.ArtifactSize = a.Key, a.Size
				continue
			}
			rec.SideArtifacts = append(rec.SideArtifacts, catalog.SideArtifact{Kind: a.Kind, Key: a.Key, Size: a.Size})
		}
	}
	if rec.ClassName == "" {
		rec.ClassName = out.Request.DisplayName()
	}
	if err := s.catalog.Save(ctx, rec); err != nil {
		s.logger.Warn("failed to record %s: %v", rec.ClassName, err)
	}
}

// LoadArtifact downloads a stored artifact and decompresses it.
func (s *Service) LoadArtifact(ctx context.Context, key string) ([]byte, error) {
	data, err := storage.Get(ctx, s.storage, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, key, err)
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "cannot download artifact", err)
	}
	raw, err := compression.AutoDecompress(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "cannot decompress artifact", err)
	}
	return raw, nil
}

func failed(req model.CompileRequest, err error) model.CompileOutcome {
	code := apperrors.GetErrorCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		code = apperrors.CodeTimeout
	}
	return model.CompileOutcome{
		Request:    req,
		ClassName:  req.ClassName,
		Status:     model.StatusFailed,
		ResultCode: code,
		Message:    apperrors.GetErrorMessage(err),
	}
}

func classNameOf(cf *classfile.ClassFile) string {
	if cf.Tag(cf.ThisClass) != classfile.TagClass {
		return ""
	}
	return cf.ThisClassName()
}
