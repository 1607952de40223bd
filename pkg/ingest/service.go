package ingest

import (
	"context"
	"log/slog"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/groupcache"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/lock"
	"github.com/plateflow/plateflow/pkg/stats"
	"github.com/plateflow/plateflow/pkg/store"
)

// Service is the upload entry point: it guards the dataset, runs a Parser
// and signals downstream collaborators once new data has landed.
type Service struct {
	store  *store.Store
	locker lock.Locker
	groups groupcache.Cache
	stats  stats.Engine
	opts   Options
	logger *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLocker sets the per-dataset upload lock. The default is in-process.
func WithLocker(l lock.Locker) ServiceOption {
	return func(s *Service) { s.locker = l }
}

// WithGroupCache sets the grouping cache invalidated after an upload.
func WithGroupCache(c groupcache.Cache) ServiceOption {
	return func(s *Service) { s.groups = c }
}

// WithStats sets the statistics engine triggered after an upload.
func WithStats(e stats.Engine) ServiceOption {
	return func(s *Service) { s.stats = e }
}

// NewService creates an upload service.
func NewService(st *store.Store, opts Options, options ...ServiceOption) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{
		store:  st,
		locker: lock.NewLocal(),
		groups: groupcache.NewMemory(),
		stats:  stats.Nop{},
		opts:   opts,
		logger: opts.Logger,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Upload ingests files into a dataset and returns one result per file.
func (s *Service) Upload(ctx context.Context, datasetID string, files []core.Source) ([]Result, error) {
	release, err := s.begin(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, datasetID, release)

	results, err := NewParser(s.store, datasetID, s.opts).ParseFiles(ctx, files)
	if Succeeded(results) {
		s.afterIngest(ctx, datasetID)
	}
	return results, err
}

// UploadFile ingests one file; a failure comes back as the raw error.
func (s *Service) UploadFile(ctx context.Context, datasetID string, src core.Source) (Result, error) {
	release, err := s.begin(ctx, datasetID)
	if err != nil {
		return Result{FileName: src.Name(), Err: err, Error: err.Error()}, err
	}
	defer s.release(ctx, datasetID, release)

	r, err := NewParser(s.store, datasetID, s.opts).ParseFile(ctx, src)
	if r.Success {
		s.afterIngest(ctx, datasetID)
	}
	return r, err
}

// begin checks the dataset is live and takes its upload lock.
func (s *Service) begin(ctx context.Context, datasetID string) (func(context.Context) error, error) {
	ds, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Deleted() {
		return nil, pferrors.Newf(pferrors.CodeNotFound, "dataset %s was deleted", datasetID).
			WithContext("dataset", datasetID)
	}
	return s.locker.Acquire(ctx, lock.DatasetKey(datasetID))
}

func (s *Service) release(ctx context.Context, datasetID string, release func(context.Context) error) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("release upload lock", "dataset", datasetID, "error", err)
	}
}

// afterIngest marks derived data stale. Failures here never change the
// upload's results.
func (s *Service) afterIngest(ctx context.Context, datasetID string) {
	if err := s.groups.Invalidate(ctx, datasetID); err != nil {
		s.logger.Warn("grouping cache invalidation failed", "dataset", datasetID, "error", err)
	}
	if err := s.stats.ComputeGrowthRates(ctx, datasetID); err != nil {
		s.logger.Warn("growth rate computation failed", "dataset", datasetID, "error", err)
	}
	if err := s.stats.ComputeDoseResponseFits(ctx, datasetID); err != nil {
		s.logger.Warn("dose-response fitting failed", "dataset", datasetID, "error", err)
	}
}
