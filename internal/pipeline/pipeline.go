// Package pipeline wires acquisition, normalization and reconciliation into
// the extract, transform and load stages of one pprload run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dbsmedya/pprload/internal/acquire"
	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/logger"
	"github.com/dbsmedya/pprload/internal/metrics"
	"github.com/dbsmedya/pprload/internal/normalize"
	"github.com/dbsmedya/pprload/internal/reconciler"
	"github.com/dbsmedya/pprload/internal/runlog"
	"github.com/dbsmedya/pprload/internal/store"
	"github.com/dbsmedya/pprload/internal/types"
	"github.com/dbsmedya/pprload/internal/verifier"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// AllStages is the full run in order.
var AllStages = []Stage{StageExtract, StageTransform, StageLoad}

// Source produces today's raw CSV.
type Source interface {
	Download(ctx context.Context) (string, error)
	ExtractRaw(ctx context.Context, archive string) (string, error)
	RawPath() string
}

// Store is the store surface the stages use.
type Store interface {
	store.Store
	WriteStaging(ctx context.Context, records []types.CanonicalRecord, batchSize int) (int64, error)
	ReadStaging(ctx context.Context) ([]types.CanonicalRecord, error)
}

// RunLog records run outcomes.
type RunLog interface {
	Start(ctx context.Context, command string) (*runlog.Run, error)
	Finish(ctx context.Context, run *runlog.Run, counts runlog.Counts) error
	Fail(ctx context.Context, run *runlog.Run, counts runlog.Counts, cause error) error
}

// Locker guards reconciliation against concurrent runs.
type Locker interface {
	WithLock(ctx context.Context, timeoutSeconds int, fn func() error) error
}

// Deps are the collaborators of a Pipeline. RunLog, Lock and Metrics are optional.
type Deps struct {
	Source  Source
	Store   Store
	RunLog  RunLog
	Lock    Locker
	Metrics *metrics.Recorder
	Logger  *logger.Logger
}

// Result describes what a run did.
type Result struct {
	RunID      string
	Command    string
	Acquired   int
	Skipped    int
	Snapshot   int
	Collisions types.CollisionStats
	Plan       *reconciler.Plan
	Applied    *reconciler.ApplyStats
	Verify     *verifier.VerifyResult
	StartedAt  time.Time
	Duration   time.Duration
}

// Counts converts the result into run log counts.
func (r *Result) Counts() runlog.Counts {
	c := runlog.Counts{
		Acquired:   int64(r.Acquired),
		Skipped:    int64(r.Skipped),
		Collisions: int64(r.Collisions.Records),
	}
	if r.Applied != nil {
		c.Inserted = r.Applied.Inserted
		c.Deleted = r.Applied.Deleted
	}
	return c
}

// Pipeline runs pprload stages.
type Pipeline struct {
	cfg        *config.Config
	deps       Deps
	normalizer *normalize.Normalizer
	reconciler *reconciler.Reconciler
	verifier   *verifier.Verifier
	logger     *logger.Logger
}

// New creates a Pipeline.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewDefault()
	}

	rec, err := reconciler.New(deps.Store, cfg.Reconcile, deps.Logger)
	if err != nil {
		return nil, err
	}
	ver, err := verifier.NewVerifier(deps.Store, verifier.VerificationMethod(cfg.Reconcile.Verify), deps.Logger.WithStage("load"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		deps:       deps,
		normalizer: normalize.New(cfg.Normalize, deps.Logger),
		reconciler: rec,
		verifier:   ver,
		logger:     deps.Logger,
	}, nil
}

// Run executes stages in order under a run log entry and returns what they did.
func (p *Pipeline) Run(ctx context.Context, command string, stages ...Stage) (res *Result, err error) {
	res = &Result{Command: command, StartedAt: time.Now()}
	log := p.logger.WithFields(map[string]interface{}{"command": command})

	var run *runlog.Run
	if p.deps.RunLog != nil {
		run, err = p.deps.RunLog.Start(ctx, command)
		if err != nil {
			return nil, err
		}
		res.RunID = run.ID
		log = log.WithRun(run.ID)
	}

	defer func() {
		res.Duration = time.Since(res.StartedAt)
		p.finish(run, res, err)
	}()

	log.Infow("Starting pipeline", "stages", stages)

	rawPath := ""
	for _, stage := range stages {
		started := time.Now()
		switch stage {
		case StageExtract:
			rawPath, err = p.Extract(ctx)
		case StageTransform:
			if rawPath == "" {
				rawPath, err = p.rawPath()
				if err != nil {
					break
				}
			}
			err = p.Transform(ctx, rawPath, res)
		case StageLoad:
			err = p.Load(ctx, res)
		default:
			err = fmt.Errorf("unknown stage %q", stage)
		}
		if p.deps.Metrics != nil {
			p.deps.Metrics.StageDuration(string(stage), time.Since(started))
		}
		if err != nil {
			return res, fmt.Errorf("%s: %w", stage, err)
		}
	}

	log.Infow("Pipeline completed", "duration", time.Since(res.StartedAt))
	return res, nil
}

func (p *Pipeline) rawPath() (string, error) {
	if p.deps.Source == nil {
		return "", fmt.Errorf("no source configured")
	}
	return p.deps.Source.RawPath(), nil
}

// finish records the outcome in the run log and metrics. Failures here are
// logged and never replace the run's own error.
func (p *Pipeline) finish(run *runlog.Run, res *Result, runErr error) {
	// The run's context may be cancelled; bookkeeping still needs to land
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if run != nil {
		var err error
		if runErr != nil {
			err = p.deps.RunLog.Fail(ctx, run, res.Counts(), runErr)
		} else {
			err = p.deps.RunLog.Finish(ctx, run, res.Counts())
		}
		if err != nil {
			p.logger.Warnw("Failed to record run outcome", "run_id", run.ID, "error", err)
		}
	}

	if m := p.deps.Metrics; m != nil {
		m.RunFinished(time.Now(), runErr)
		if err := m.WriteTextfile(p.cfg.Metrics.Textfile); err != nil {
			p.logger.Warnw("Failed to write metrics", "error", err)
		}
	}
}

// Extract downloads the archive and writes today's raw CSV.
func (p *Pipeline) Extract(ctx context.Context) (string, error) {
	if p.deps.Source == nil {
		return "", fmt.Errorf("no source configured")
	}
	archive, err := p.deps.Source.Download(ctx)
	if err != nil {
		return "", err
	}
	return p.deps.Source.ExtractRaw(ctx, archive)
}

// Transform resets the staging area, normalizes the raw CSV and stages the
// resulting records.
func (p *Pipeline) Transform(ctx context.Context, rawPath string, res *Result) error {
	log := p.logger.WithStage(string(StageTransform))

	raws, err := acquire.ReadRaw(rawPath)
	if err != nil {
		return err
	}
	res.Acquired = len(raws)
	if p.deps.Metrics != nil {
		p.deps.Metrics.Acquired(len(raws))
	}

	normalized, err := p.normalizer.All(raws)
	if err != nil {
		return err
	}
	res.Skipped = normalized.Skipped
	if p.deps.Metrics != nil {
		p.deps.Metrics.Malformed(normalized.Skipped)
	}

	if err := p.deps.Store.ResetStagingArea(ctx); err != nil {
		return err
	}

	log.Infof("Bulk saving %d records to the staging table", len(normalized.Records))
	if _, err := p.deps.Store.WriteStaging(ctx, normalized.Records, p.cfg.Reconcile.BatchInsertSize); err != nil {
		return err
	}
	return nil
}

// snapshot reads the staged records back and keys them.
func (p *Pipeline) snapshot(ctx context.Context, res *Result) (*types.Snapshot, error) {
	records, err := p.deps.Store.ReadStaging(ctx)
	if err != nil {
		return nil, err
	}

	mode := types.DuplicateMode(p.cfg.Reconcile.DuplicateKeys)
	if mode == "" {
		mode = types.Disambiguate
	}
	snap, stats := types.NewSnapshot(records, mode)
	res.Snapshot = snap.Len()
	res.Collisions = stats

	if stats.Records > 0 {
		p.logger.WithStage(string(StageLoad)).Warnw("Snapshot records share natural keys",
			"groups", stats.Groups,
			"records", stats.Records,
			"mode", mode,
		)
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.Collisions(stats.Records)
		p.deps.Metrics.SnapshotSize(snap.Len())
	}
	return snap, nil
}

// Load reconciles the staged snapshot into the clean table and verifies it.
func (p *Pipeline) Load(ctx context.Context, res *Result) error {
	snap, err := p.snapshot(ctx, res)
	if err != nil {
		return err
	}

	apply := func() error {
		result, err := p.reconciler.Reconcile(ctx, snap)
		if err != nil {
			return err
		}
		res.Plan = result.Plan
		res.Applied = result.Stats
		if p.deps.Metrics != nil {
			p.deps.Metrics.Inserted(result.Stats.Inserted)
			p.deps.Metrics.Deleted(result.Stats.Deleted)
		}

		res.Verify, err = p.verifier.Verify(ctx, snap.Keys())
		return err
	}

	if p.cfg.Reconcile.Lock && p.deps.Lock != nil {
		return p.deps.Lock.WithLock(ctx, p.cfg.Reconcile.LockTimeoutSeconds, apply)
	}
	return apply()
}

// Plan computes the change set the next load would apply without applying it.
func (p *Pipeline) Plan(ctx context.Context) (*reconciler.Plan, *Result, error) {
	res := &Result{Command: "plan", StartedAt: time.Now()}
	snap, err := p.snapshot(ctx, res)
	if err != nil {
		return nil, nil, err
	}
	plan, err := p.reconciler.Plan(ctx, snap)
	if err != nil {
		return nil, nil, err
	}
	res.Plan = plan
	res.Duration = time.Since(res.StartedAt)
	return plan, res, nil
}
