// Package ingest drives plate files through detection, decoding, entity
// resolution, materialization and writing, one transaction per file.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/catalog"
	"github.com/plateflow/plateflow/pkg/config"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/decoders"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
	"github.com/plateflow/plateflow/pkg/ingest/materialize"
	"github.com/plateflow/plateflow/pkg/ingest/write"
	"github.com/plateflow/plateflow/pkg/store"
	"github.com/plateflow/plateflow/pkg/telemetry"
)

// Result is the outcome of one file.
type Result struct {
	FileName   string `json:"file_name"`
	Success    bool   `json:"success"`
	FileFormat string `json:"file_format,omitempty"`
	Decoder    string `json:"decoder,omitempty"`
	ID         string `json:"id,omitempty"`
	Error      string `json:"error,omitempty"`

	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
	Counts   Counts        `json:"-"`
}

// Counts are the rows one file added.
type Counts struct {
	Plates       int
	Wells        int
	WellDrugs    int
	Measurements int
}

// Options tunes a Parser.
type Options struct {
	// Isolation is config.IsolationPerFile or config.IsolationSavepoint.
	Isolation string

	// DecodeWorkers > 1 decodes files concurrently ahead of persistence.
	DecodeWorkers int

	// SampleSize is the number of bytes the detector looks at.
	SampleSize int

	Registry *decoders.Registry
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger

	// Progress, if set, is called after each file settles.
	Progress func(done, total int, r Result)
}

// OptionsFromConfig maps the ingest config section onto Options.
func OptionsFromConfig(cfg config.IngestConfig) Options {
	return Options{
		Isolation:     cfg.Isolation,
		DecodeWorkers: cfg.DecodeWorkers,
		SampleSize:    cfg.SampleSize,
	}
}

// Parser ingests batches of files into one dataset. It owns the batch's
// well-id cache and is not safe for concurrent use.
type Parser struct {
	store     *store.Store
	datasetID string
	opts      Options
	logger    *slog.Logger

	detector     *detect.Detector
	resolver     *catalog.Resolver
	materializer *materialize.Materializer
	writer       *write.Writer

	cache  *materialize.Cache
	seeded bool
}

// NewParser creates a parser for one dataset.
func NewParser(s *store.Store, datasetID string, opts Options) *Parser {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = decoders.DefaultRegistry
	}
	if opts.Isolation == "" {
		opts.Isolation = config.IsolationPerFile
	}
	if opts.Isolation == config.IsolationSavepoint && !s.Dialect().SupportsSavepoints() {
		opts.Logger.Debug("dialect has no savepoints, using per-file transactions", "driver", s.Dialect().Name)
		opts.Isolation = config.IsolationPerFile
	}

	detector := detect.NewDetector()
	if opts.SampleSize > 0 {
		detector = detector.WithSampleSize(opts.SampleSize)
	}

	return &Parser{
		store:        s,
		datasetID:    datasetID,
		opts:         opts,
		logger:       opts.Logger.With("dataset", datasetID),
		detector:     detector,
		resolver:     catalog.NewResolver(opts.Logger),
		materializer: materialize.New(opts.Logger),
		writer:       write.New(opts.Logger),
		cache:        materialize.NewCache(datasetID),
	}
}

// Isolation returns the effective isolation mode.
func (p *Parser) Isolation() string { return p.opts.Isolation }

// decoded is a file after detection and decoding.
type decoded struct {
	name   string
	tables *core.Tables
	format core.Format
	err    error
	took   time.Duration
}

// ParseFile ingests a single file. A failure is returned as the error
// itself, next to the failed result.
func (p *Parser) ParseFile(ctx context.Context, src core.Source) (Result, error) {
	results, err := p.ParseFiles(ctx, []core.Source{src})
	if err != nil {
		return Result{FileName: src.Name(), Err: err, Error: err.Error()}, err
	}
	r := results[0]
	if !r.Success {
		return r, r.Err
	}
	return r, nil
}

// ParseFiles ingests files in order and returns one result per file. A
// file that fails is rolled back alone; files before and after it are
// unaffected. The error is non-nil only when the batch itself cannot run
// (seeding fails, the context is cancelled).
func (p *Parser) ParseFiles(ctx context.Context, files []core.Source) ([]Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.batch", "dataset", p.datasetID, "isolation", p.opts.Isolation)
	var batchErr error
	defer func() { telemetry.EndSpan(span, batchErr) }()

	if !p.seeded {
		if batchErr = p.cache.Seed(ctx, p.store); batchErr != nil {
			return nil, pferrors.Wrap(batchErr, pferrors.CodeStorage, "seed well cache")
		}
		p.seeded = true
		plates, wells := p.cache.Size()
		p.logger.Debug("cache seeded", "plates", plates, "wells", wells)
	}

	next, err := p.decodeAll(ctx, files)
	if err != nil {
		batchErr = err
		return nil, err
	}

	var results []Result
	if p.opts.Isolation == config.IsolationSavepoint {
		results, batchErr = p.runSavepoints(ctx, files, next)
	} else {
		results, batchErr = p.runPerFile(ctx, files, next)
	}
	p.opts.Metrics.BatchDone()
	return results, batchErr
}

// decodeAll returns a function yielding file i decoded. With several
// workers every file is decoded up front; otherwise decoding is lazy.
func (p *Parser) decodeAll(ctx context.Context, files []core.Source) (func(int) decoded, error) {
	if p.opts.DecodeWorkers <= 1 || len(files) < 2 {
		return func(i int) decoded { return p.decode(ctx, files[i]) }, nil
	}

	out := make([]decoded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.DecodeWorkers)
	for i, src := range files {
		g.Go(func() error {
			out[i] = p.decode(gctx, src)
			// Per-file failures are results; only cancellation stops the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return func(i int) decoded { return out[i] }, nil
}

func (p *Parser) decode(ctx context.Context, src core.Source) decoded {
	start := time.Now()
	d := decoded{name: src.Name()}

	ctx, span := telemetry.StartSpan(ctx, "ingest.decode", "file", d.name)
	defer func() { telemetry.EndSpan(span, d.err) }()

	data, err := core.ReadAll(ctx, src)
	if err != nil {
		d.err = fmt.Errorf("read %s: %w", src.Location(), err)
		return d
	}

	det := p.detector.Detect(d.name, data)
	d.format = det.Format
	p.logger.Debug("detected", "file", d.name, "format", det.Format, "mime", det.MIME, "candidates", det.Candidates)
	p.opts.Metrics.ObserveStage("detect", time.Since(start))

	d.tables, d.err = p.opts.Registry.Decode(ctx, det, data, d.name)
	if d.err == nil && d.tables.Empty() {
		d.err = pferrors.Decodef(d.tables.Decoder, "file holds no plate data")
	}
	if d.err == nil {
		d.format = d.tables.Format
	}
	d.took = time.Since(start)
	p.opts.Metrics.ObserveStage("decode", d.took)
	return d
}

func (p *Parser) runPerFile(ctx context.Context, files []core.Source, next func(int) decoded) ([]Result, error) {
	results := make([]Result, 0, len(files))
	for i := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		d := next(i)
		start := time.Now()
		var r Result
		if d.err != nil {
			r = p.fail(d, d.err)
		} else {
			stage := p.cache.Begin()
			var (
				pf     *model.PlateFile
				counts Counts
			)
			err := p.store.WithTx(ctx, func(tx *store.Tx) error {
				var err error
				pf, counts, err = p.persist(ctx, tx, stage, d)
				return err
			})
			if err != nil {
				stage.Discard()
				if errorsIsContext(err) {
					return results, err
				}
				r = p.fail(d, err)
			} else {
				stage.Commit()
				r = p.succeed(d, pf, counts)
			}
		}
		r.Duration = d.took + time.Since(start)
		results = append(results, r)
		p.report(len(results), len(files), r)
	}
	return results, nil
}

// runSavepoints runs the whole batch in one transaction with a savepoint
// per file. Stages are committed to the cache when their savepoint is
// released; if the final commit fails the cache is reseeded and every
// file is reported failed.
func (p *Parser) runSavepoints(ctx context.Context, files []core.Source, next func(int) decoded) ([]Result, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, pferrors.Wrap(err, pferrors.CodeStorage, "begin batch")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	results := make([]Result, 0, len(files))
	for i := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		d := next(i)
		start := time.Now()
		var r Result
		if d.err != nil {
			r = p.fail(d, d.err)
		} else {
			sp := fmt.Sprintf("file_%d", i)
			if err := tx.Savepoint(ctx, sp); err != nil {
				return results, pferrors.Wrap(err, pferrors.CodeStorage, "savepoint")
			}
			stage := p.cache.Begin()
			pf, counts, err := p.persist(ctx, tx, stage, d)
			if err != nil {
				stage.Discard()
				if errorsIsContext(err) {
					return results, err
				}
				if rbErr := tx.RollbackTo(ctx, sp); rbErr != nil {
					return results, pferrors.Wrap(rbErr, pferrors.CodeStorage, "rollback to savepoint")
				}
				r = p.fail(d, err)
			} else {
				if err := tx.Release(ctx, sp); err != nil {
					stage.Discard()
					return results, pferrors.Wrap(err, pferrors.CodeStorage, "release savepoint")
				}
				stage.Commit()
				r = p.succeed(d, pf, counts)
			}
		}
		r.Duration = d.took + time.Since(start)
		results = append(results, r)
	}

	if err := tx.Commit(); err != nil {
		cerr := pferrors.Wrap(err, pferrors.CodeStorage, "commit batch")
		for i := range results {
			if results[i].Success {
				results[i] = Result{FileName: results[i].FileName, FileFormat: results[i].FileFormat, Err: cerr, Error: cerr.Error()}
			}
		}
		if seedErr := p.cache.Seed(ctx, p.store); seedErr != nil {
			p.seeded = false
		}
		for i, r := range results {
			p.report(i+1, len(files), r)
		}
		return results, nil
	}
	committed = true
	for i, r := range results {
		p.report(i+1, len(files), r)
	}
	return results, nil
}

// persist runs resolve, materialize and write for one decoded file on tx.
func (p *Parser) persist(ctx context.Context, tx *store.Tx, stage *materialize.Stage, d decoded) (pf *model.PlateFile, counts Counts, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ingest.persist", "file", d.name, "decoder", d.tables.Decoder)
	defer func() { telemetry.EndSpan(span, err) }()
	t := d.tables

	start := time.Now()
	names, err := p.resolver.Resolve(ctx, tx, t.CellLineNames(), t.DrugNames())
	if err != nil {
		return nil, counts, pferrors.Wrap(err, pferrors.CodeStorage, "resolve catalog")
	}
	p.opts.Metrics.ObserveStage("resolve", time.Since(start))

	start = time.Now()
	wells, mstats, err := p.materializer.Materialize(ctx, tx, stage, t, names)
	if err != nil {
		return nil, counts, err
	}
	p.opts.Metrics.ObserveStage("materialize", time.Since(start))

	start = time.Now()
	wstats, err := p.writer.Write(ctx, tx, p.datasetID, t, wells, names)
	if err != nil {
		return nil, counts, err
	}
	p.opts.Metrics.ObserveStage("write", time.Since(start))

	pf = &model.PlateFile{DatasetID: p.datasetID, FileName: d.name, FileFormat: t.Format.String()}
	if err := tx.InsertPlateFile(ctx, pf); err != nil {
		return nil, counts, pferrors.Wrap(err, pferrors.CodeStorage, "record plate file")
	}

	counts = Counts{
		Plates:       mstats.PlatesCreated,
		Wells:        mstats.WellsCreated,
		WellDrugs:    wstats.WellDrugs,
		Measurements: wstats.Measurements,
	}
	return pf, counts, nil
}

func (p *Parser) succeed(d decoded, pf *model.PlateFile, c Counts) Result {
	p.logger.Info("file ingested",
		"file", d.name,
		"format", d.format,
		"decoder", d.tables.Decoder,
		"id", pf.ID,
		"plates", c.Plates,
		"wells", c.Wells,
		"measurements", c.Measurements)
	p.opts.Metrics.FileDone(d.format.String(), telemetry.OutcomeSuccess, "")
	p.opts.Metrics.AddRows("plates", c.Plates)
	p.opts.Metrics.AddRows("wells", c.Wells)
	p.opts.Metrics.AddRows("well_drugs", c.WellDrugs)
	p.opts.Metrics.AddRows("measurements", c.Measurements)
	return Result{
		FileName:   d.name,
		Success:    true,
		FileFormat: d.format.String(),
		Decoder:    d.tables.Decoder,
		ID:         pf.ID,
		Counts:     c,
	}
}

func (p *Parser) fail(d decoded, err error) Result {
	code := pferrors.GetCode(err)
	level := slog.LevelWarn
	if !pferrors.IsDomain(err) {
		level = slog.LevelError
	}
	p.logger.Log(context.Background(), level, "file failed",
		"file", d.name,
		"format", d.format,
		"code", string(code),
		"error", err)
	p.opts.Metrics.FileDone(d.format.String(), telemetry.OutcomeFailure, string(code))

	r := Result{FileName: d.name, Err: err, Error: err.Error()}
	if d.format != core.FormatUnknown {
		r.FileFormat = d.format.String()
	}
	if d.tables != nil {
		r.Decoder = d.tables.Decoder
	}
	return r
}

func (p *Parser) report(done, total int, r Result) {
	if p.opts.Progress != nil {
		p.opts.Progress(done, total, r)
	}
}

// Succeeded reports whether any result is a success.
func Succeeded(results []Result) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

// Failures returns the errors of failed results, in order.
func Failures(results []Result) []error {
	var errs []error
	for _, r := range results {
		if !r.Success && r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.FileName, r.Err))
		}
	}
	return errs
}

// errorsIsContext reports cancellation errors, which abort a batch.
func errorsIsContext(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
