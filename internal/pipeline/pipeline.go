// Package pipeline orchestrates the per-entity refresh: download, metadata
// extraction, processing, and catalog upload. Failures are entity-local; one
// broken county never stops the batch.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mosaicgis/cartographer/internal/catalog"
	"github.com/mosaicgis/cartographer/internal/command"
	"github.com/mosaicgis/cartographer/internal/ledger"
	"github.com/mosaicgis/cartographer/internal/rules"
)

// TimestampLayout is the ledger timestamp format.
const TimestampLayout = "01/02/06 03:04 PM"

// Stages toggles individual pipeline phases for partial runs.
type Stages struct {
	Download   bool
	Metadata   bool
	Processing bool
	Upload     bool
}

func AllStages() Stages {
	return Stages{Download: true, Metadata: true, Processing: true, Upload: true}
}

// Catalog is the slice of the catalog store the upload stage writes through.
type Catalog interface {
	ExecUpdate(ctx context.Context, query string, args ...any) (int64, error)
	QueryStrings(ctx context.Context, query string, args ...any) ([]string, error)
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithRunner(r Runner) Option {
	return func(p *Pipeline) {
		p.runner = r
	}
}

func WithRules(s *rules.Set) Option {
	return func(p *Pipeline) {
		p.rules = s
	}
}

func WithTracker(t *Tracker) Option {
	return func(p *Pipeline) {
		p.tracker = t
	}
}

func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithLedgerDir(dir string) Option {
	return func(p *Pipeline) {
		p.ledgerDir = dir
	}
}

func WithStages(s Stages) Option {
	return func(p *Pipeline) {
		p.stages = s
	}
}

// WithSQLTimeout bounds each catalog round trip made by the upload stage.
func WithSQLTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.sqlTimeout = d
		}
	}
}

// WithProcessAnyway disables both no-new-data short circuits.
func WithProcessAnyway(v bool) Option {
	return func(p *Pipeline) {
		p.processAnyway = v
	}
}

func WithSkipList(ids []string) Option {
	return func(p *Pipeline) {
		p.skip = make(map[string]bool, len(ids))
		for _, id := range ids {
			p.skip[id] = true
		}
	}
}

// WithWorkDirAliases maps an entity id to the id whose work directory it
// shares, for sources that publish several layers in one download.
func WithWorkDirAliases(aliases map[string]string) Option {
	return func(p *Pipeline) {
		p.workDirAliases = aliases
	}
}

// WithIsolatedLogs writes a per-entity run.log inside each work directory in
// addition to the shared stream.
func WithIsolatedLogs(v bool) Option {
	return func(p *Pipeline) {
		p.isolateLogs = v
	}
}

type Pipeline struct {
	store   Catalog
	builder *command.Builder
	runner  Runner
	rules   *rules.Set
	tracker *Tracker
	logger  *zap.Logger

	workRoot       string
	ledgerDir      string
	workers        int
	sqlTimeout     time.Duration
	stages         Stages
	processAnyway  bool
	isolateLogs    bool
	skip           map[string]bool
	workDirAliases map[string]string
}

func New(store Catalog, builder *command.Builder, workRoot string, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		builder:    builder,
		workRoot:   workRoot,
		ledgerDir:  workRoot,
		workers:    1,
		sqlTimeout: 30 * time.Minute,
		stages:     AllStages(),
		runner:     NewRunner(),
		rules:      &rules.Set{},
		tracker:    NewTracker(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// RunAll processes the entities with bounded concurrency and merges each
// result into its layer's ledger. The returned error covers infrastructure
// problems only; per-entity failures are tallied in Stats.
func (p *Pipeline) RunAll(ctx context.Context, entities []*catalog.Entity) (Stats, error) {
	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("starting pipeline run", zap.Int("entities", len(entities)), zap.Int("workers", p.workers))

	ledgers := make(map[string]*ledger.Ledger)
	for _, e := range entities {
		if _, ok := ledgers[e.Layer]; !ok {
			ledgers[e.Layer] = ledger.New(p.ledgerDir, e.Layer, ledger.WithLogger(logger))
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, e := range entities {
		g.Go(func() error {
			// Entities still queued when the run is cancelled never start, so
			// their prior ledger rows stay untouched.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			row := p.runEntity(ctx, logger, e)
			if err := ledgers[e.Layer].Apply([]ledger.Row{row}); err != nil {
				return fmt.Errorf("layer %s: %w", e.Layer, err)
			}
			return nil
		})
	}
	err := g.Wait()

	stats := p.tracker.Stats()
	logger.Info("pipeline run finished",
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
		zap.Int64("no_new_data", stats.NoNewData),
		zap.Int64("skipped", stats.Skipped))
	return stats, err
}

// runEntity walks one entity through the stage machine and returns its
// ledger row. All stage failures are absorbed here.
func (p *Pipeline) runEntity(ctx context.Context, logger *zap.Logger, e *catalog.Entity) ledger.Row {
	id := e.ID()
	p.tracker.Begin(id, e.Layer)

	row := ledger.Row{
		County:   catalog.External(e.County, catalog.NameCounty),
		City:     catalog.External(e.City, catalog.NameCity),
		DataDate: e.Tracked.DataDate,
	}
	finish := func(state State, err error) ledger.Row {
		p.tracker.Finish(id, state, err)
		row.Timestamp = time.Now().Format(TimestampLayout)
		return row
	}

	fsm := NewFSM()
	if p.skip[id] {
		fsm.Transition(StateSkipped)
		row.Download = ledger.StatusSkipped
		row.Error = "on skip list"
		logger.Info("entity skipped", zap.String("entity", id))
		return finish(StateSkipped, nil)
	}

	workDir, err := p.workDir(e)
	if err != nil {
		row.Download = ledger.StatusFailed
		row.Error = err.Error()
		return finish(StateFailed, err)
	}
	log, closeLog, err := p.entityLogger(logger, id, workDir)
	if err != nil {
		log = logger.Named(id)
	} else {
		defer closeLog()
	}

	var rawZip string
	if p.stages.Download {
		fsm.Transition(StateDownloading)
		p.tracker.SetState(id, StateDownloading)
		out := p.runDownload(ctx, log, e, workDir)
		switch out.Status {
		case StatusNND:
			fsm.Transition(StateNoNewData)
			row.Download = ledger.StatusNND
			row.Error = out.Reason
			log.Info("no new data", zap.String("entity", id), zap.String("reason", out.Reason))
			if p.stages.Upload {
				p.touchPublishDate(ctx, log, e)
			}
			return finish(StateNoNewData, nil)
		case StatusFailed:
			fsm.Transition(StateFailed)
			row.Download = ledger.StatusFailed
			row.Error = out.Err.Error()
			log.Error("download failed", zap.String("entity", id), zap.Error(out.Err))
			return finish(StateFailed, &StageError{Stage: StageDownload, Err: out.Err})
		}
		row.Download = ledger.StatusSuccess
		rawZip = out.RawZip
	}

	md := e.Tracked
	if p.stages.Metadata {
		fsm.Transition(StateExtracting)
		p.tracker.SetState(id, StateExtracting)
		out := p.runMetadata(log, e, workDir, rawZip)
		switch out.Status {
		case StatusNND:
			fsm.Transition(StateNoNewData)
			row.Download = ledger.StatusNND
			row.DataDate = out.Metadata.DataDate
			row.Error = out.Reason
			log.Info("no new data", zap.String("entity", id), zap.String("reason", out.Reason))
			if p.stages.Upload {
				p.touchPublishDate(ctx, log, e)
			}
			return finish(StateNoNewData, nil)
		case StatusFailed:
			fsm.Transition(StateFailed)
			row.Error = out.Err.Error()
			log.Error("metadata extraction failed", zap.String("entity", id), zap.Error(out.Err))
			return finish(StateFailed, &StageError{Stage: StageMetadata, Err: out.Err})
		}
		md = out.Metadata
		row.DataDate = md.DataDate
	}

	if p.stages.Processing {
		if fsm.CanTransition(StateProcessing) {
			fsm.Transition(StateProcessing)
		}
		p.tracker.SetState(id, StateProcessing)
		out := p.runProcessing(ctx, log, e, workDir, md.DataDate)
		switch out.Status {
		case StatusSkipped:
			// Skips stay out of the status column; the reason still lands in
			// the error column so the row reads differently from a stage that
			// never ran.
			row.Error = out.Reason
			log.Debug("processing skipped", zap.String("entity", id), zap.String("reason", out.Reason))
		case StatusFailed:
			fsm.Transition(StateFailed)
			row.Processing = ledger.StatusFailed
			row.Error = out.Err.Error()
			log.Error("processing failed", zap.String("entity", id), zap.Error(out.Err))
			return finish(StateFailed, &StageError{Stage: StageProcessing, Err: out.Err})
		default:
			row.Processing = ledger.StatusSuccess
		}
	}

	if p.stages.Upload {
		if fsm.CanTransition(StateUploading) {
			fsm.Transition(StateUploading)
		}
		p.tracker.SetState(id, StateUploading)
		out := p.runUpload(ctx, log, e, md)
		if out.Status == StatusFailed {
			fsm.Transition(StateFailed)
			row.Upload = ledger.StatusFailed
			row.Error = out.Err.Error()
			log.Error("upload failed", zap.String("entity", id), zap.Error(out.Err))
			return finish(StateFailed, &StageError{Stage: StageUpload, Err: out.Err})
		}
		row.Upload = ledger.StatusSuccess
	}

	if fsm.CanTransition(StateDone) {
		fsm.Transition(StateDone)
	}
	log.Info("entity complete", zap.String("entity", id), zap.String("data_date", md.DataDate))
	return finish(StateDone, nil)
}

// workDir resolves and creates the entity's work directory. Aliased entities
// share another entity's directory.
func (p *Pipeline) workDir(e *catalog.Entity) (string, error) {
	parts := []string{p.workRoot, e.Layer, e.State, e.County}
	if e.City != "" {
		parts = append(parts, e.City)
	}
	dir := filepath.Join(parts...)
	if alias, ok := p.workDirAliases[e.ID()]; ok {
		dir = filepath.Join(p.workRoot, filepath.FromSlash(alias))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// entityLogger tees the shared logger into a per-entity run.log when log
// isolation is on.
func (p *Pipeline) entityLogger(logger *zap.Logger, id, workDir string) (*zap.Logger, func(), error) {
	named := logger.Named(id)
	if !p.isolateLogs {
		return named, func() {}, nil
	}

	f, err := os.OpenFile(filepath.Join(workDir, "run.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return named, nil, err
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	fileCore := zapcore.NewCore(encoder, zapcore.AddSync(f), zapcore.DebugLevel)

	teed := named.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return teed, func() {
		teed.Sync()
		f.Close()
	}, nil
}
