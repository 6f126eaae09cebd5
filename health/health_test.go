package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/chunk"
	"github.com/chainidx/finalidx/clock"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/gc"
	"github.com/chainidx/finalidx/ingest"
	"github.com/chainidx/finalidx/lease"
	"github.com/chainidx/finalidx/store/memstore"
	"github.com/chainidx/finalidx/tail"
	"github.com/chainidx/finalidx/topic0"
)

func newTestReporter(t *testing.T) (*Reporter, *ingest.Engine) {
	t.Helper()
	ms := memstore.NewMetaStore()
	bs := memstore.NewBlobStore()
	lm := lease.NewManager(ms, "writer-1")
	_, err := lm.Acquire(context.Background())
	require.NoError(t, err)

	tm := tail.NewManager(ms, clock.System)
	cm := chunk.NewManager(chunk.Policy{TargetEntries: 1950}, ms, bs, tm, clock.System)
	tr := topic0.NewTracker(topic0.DefaultPolicy(), ms)
	eng := ingest.NewEngine(ms, bs, lm, tm, cm, tr)

	gcw := gc.NewWorker(gc.Policy{}, bs)
	cm.SetOrphanSink(gcw)

	r, err := NewReporter(eng, lm, gcw)
	require.NoError(t, err)
	return r, eng
}

func TestReportIsNormalWhenHealthy(t *testing.T) {
	r, _ := newTestReporter(t)
	report, err := r.Report(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeNormal, report.Mode)
	require.True(t, report.LeaseHeld)
}

func TestReportReflectsDegradedEngine(t *testing.T) {
	r, eng := newTestReporter(t)
	_, err := eng.IngestBlock(context.Background(), &core.FinalizedBlock{BlockNum: 0, BlockHash: core.Hash{1}})
	require.NoError(t, err)
	_, err = eng.IngestBlock(context.Background(), &core.FinalizedBlock{BlockNum: 0, BlockHash: core.Hash{0xff}})
	require.Error(t, err)
	require.True(t, eng.Degraded())

	report, err := r.Report(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeDegraded, report.Mode)
}

func TestLatencyObservationsFeedReport(t *testing.T) {
	r, _ := newTestReporter(t)
	r.ObserveIngestLatency(5*time.Millisecond, time.Unix(1000, 0))
	r.ObserveQueryLatency(2 * time.Millisecond)

	report, err := r.Report(context.Background())
	require.NoError(t, err)
	require.Equal(t, time.Unix(1000, 0), report.LastIngestTS)
	require.Greater(t, report.Latency.IngestP50Ms, 0.0)
	require.Greater(t, report.Latency.QueryP50Ms, 0.0)
}

func TestReportReflectsThrottledGuardrail(t *testing.T) {
	r, _ := newTestReporter(t)
	r.gcWorker = gc.NewWorker(gc.Policy{MaxOrphanChunkBytes: 10, Action: gc.ActionThrottle}, memstore.NewBlobStore())
	r.gcWorker.ObserveOrphanChunk([]byte("chunks/a/0"), 100)

	report, err := r.Report(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeThrottled, report.Mode)
}
