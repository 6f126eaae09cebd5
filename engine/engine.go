// Package engine wires the index's components into the four calls named in
// §6.1: ingest_finalized_block, query_finalized, indexed_finalized_head and
// health. It owns lease acquisition and recovery bootstrap at construction
// time; everything else is delegated to ingest.Engine, query.Engine,
// gc.Worker and health.Reporter.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/chainidx/finalidx/chunk"
	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/config"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/gc"
	"github.com/chainidx/finalidx/health"
	"github.com/chainidx/finalidx/ingest"
	"github.com/chainidx/finalidx/lease"
	"github.com/chainidx/finalidx/query"
	"github.com/chainidx/finalidx/recovery"
	"github.com/chainidx/finalidx/store"
	"github.com/chainidx/finalidx/tail"
	"github.com/chainidx/finalidx/topic0"
)

// Options configures a new Engine. Meta, Blobs and WriterID are required;
// everything else falls back to a documented default.
type Options struct {
	Meta     store.MetaStore
	Blobs    store.BlobStore
	WriterID string

	Config config.Config

	TracerProvider trace.TracerProvider
	Logger         *slog.Logger

	// WarmStreams is an optional list of streams to pre-populate the
	// manifest cache with at startup (§4.8's "optional warm list").
	WarmStreams []core.StreamID
}

// Engine is the embedding service's single entry point into the index.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	tracer trace.Tracer

	leaseMgr *lease.Manager
	gcWorker *gc.Worker

	ingestEngine *ingest.Engine
	queryEngine  *query.Engine
	reporter     *health.Reporter

	bootstrap recovery.Report
}

// New constructs an Engine, acquiring the writer lease and running
// RecoveryBootstrap. Acquiring the lease is the only blocking,
// possibly-contending step: a fresh process competing with a still-live
// prior holder fails here rather than partway through an ingest.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Meta == nil || opts.Blobs == nil {
		return nil, fmt.Errorf("engine: Meta and Blobs are required")
	}
	cfg := opts.Config
	if cfg.Chunk.TargetEntries == 0 {
		cfg = config.Default()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := resolveTracer(opts.TracerProvider)

	leaseMgr := lease.NewManager(opts.Meta, opts.WriterID)
	epoch, err := leaseMgr.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: acquire lease: %w", err)
	}
	logger.Info("writer lease acquired", "writer_id", opts.WriterID, "epoch", epoch)

	tails := tail.NewManager(opts.Meta, clock.System)
	chunks := chunk.NewManager(chunk.Policy{
		TargetEntries:           cfg.Chunk.TargetEntries,
		TargetBytes:             cfg.Chunk.TargetBytes,
		MaintenanceSealInterval: cfg.Chunk.MaintenanceSealInterval,
		RetryBudget:             cfg.Chunk.ManifestRetryBudget,
	}, opts.Meta, opts.Blobs, tails, clock.System)

	gcWorker := gc.NewWorker(gc.Policy{
		MaxOrphanChunkBytes:       cfg.GC.MaxOrphanChunkBytes,
		MaxOrphanManifestSegments: cfg.GC.MaxOrphanManifestSegments,
		MaxStaleTailKeys:          cfg.GC.MaxStaleTailKeys,
		Action:                    gc.Action(cfg.GC.GuardrailAction),
	}, opts.Blobs)
	chunks.SetOrphanSink(gcWorker)

	topics := topic0.NewTracker(topic0.Policy{
		WindowLen:   cfg.Topic0.WindowLen,
		EnableRate:  cfg.Topic0.EnableRate,
		DisableRate: cfg.Topic0.DisableRate,
	}, opts.Meta)

	ingestEngine := ingest.NewEngine(opts.Meta, opts.Blobs, leaseMgr, tails, chunks, topics)

	queryEngine := query.NewEngine(opts.Meta, opts.Blobs,
		cfg.Planner.ManifestCacheSize, cfg.Planner.TailCacheSize, cfg.Planner.ChunkCacheSize,
		cfg.Planner.MaxOrTerms, query.GuardrailAction(cfg.Planner.GuardrailAction))

	reporter, err := health.NewReporter(ingestEngine, leaseMgr, gcWorker)
	if err != nil {
		return nil, fmt.Errorf("engine: new health reporter: %w", err)
	}

	bootstrap, err := recovery.Bootstrap(ctx, opts.Meta, queryEngine, opts.WarmStreams)
	if err != nil {
		return nil, fmt.Errorf("engine: recovery bootstrap: %w", err)
	}
	logger.Info("recovery bootstrap complete",
		"bootstrapped", bootstrap.Bootstrapped,
		"indexed_head", bootstrap.IndexedHead,
		"warmed_streams", bootstrap.WarmedStreams,
		"warmup_failures", bootstrap.WarmupFailures)

	return &Engine{
		cfg:          cfg,
		logger:       logger,
		tracer:       tracer,
		leaseMgr:     leaseMgr,
		gcWorker:     gcWorker,
		ingestEngine: ingestEngine,
		queryEngine:  queryEngine,
		reporter:     reporter,
		bootstrap:    bootstrap,
	}, nil
}

func resolveTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return tp.Tracer("github.com/chainidx/finalidx/engine")
}

// IngestFinalizedBlock implements ingest_finalized_block.
func (e *Engine) IngestFinalizedBlock(ctx context.Context, block *core.FinalizedBlock) (ingest.Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "IngestFinalizedBlock")
	defer span.End()

	start := time.Now()
	outcome, err := e.ingestEngine.IngestBlock(ctx, block)
	e.reporter.ObserveIngestLatency(time.Since(start), time.Now())
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("ingest failed", "block_num", block.BlockNum, "error", err)
	}
	return outcome, err
}

// QueryFinalized implements query_finalized.
func (e *Engine) QueryFinalized(ctx context.Context, filter *query.Filter) ([]*core.Log, error) {
	ctx, span := e.tracer.Start(ctx, "QueryFinalized")
	defer span.End()

	start := time.Now()
	logs, err := e.queryEngine.Query(ctx, filter)
	e.reporter.ObserveQueryLatency(time.Since(start))
	if err != nil {
		span.RecordError(err)
	}
	return logs, err
}

// IndexedFinalizedHead implements indexed_finalized_head.
func (e *Engine) IndexedFinalizedHead(ctx context.Context) (uint64, error) {
	return e.queryEngine.HeadSnapshot(ctx)
}

// Health implements health().
func (e *Engine) Health(ctx context.Context) (health.Report, error) {
	return e.reporter.Report(ctx)
}

// Sweep runs one GC pass. The embedding service calls this on its own
// maintenance timer (default gc.sweep_interval, 1 minute).
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.gcWorker.Sweep(ctx)
}

// Degraded reports whether the ingest path has collapsed to fail-closed.
func (e *Engine) Degraded() bool { return e.ingestEngine.Degraded() }
