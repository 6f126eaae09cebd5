// Package health assembles the health() report named in §6.1 and exposes
// the runtime instrumentation an operator needs to act on it: rolling
// ingest/query latency digests, host resource usage, and a live statsviz
// dashboard.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	tdigest "github.com/caio/go-tdigest/v4"
	gojson "github.com/goccy/go-json"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/arl/statsviz"

	"github.com/chainidx/finalidx/gc"
	"github.com/chainidx/finalidx/ingest"
	"github.com/chainidx/finalidx/lease"
)

// Mode mirrors the three-way operating mode named in §6.1's HealthReport.
type Mode string

const (
	ModeNormal    Mode = "Normal"
	ModeThrottled Mode = "Throttled"
	ModeDegraded  Mode = "Degraded"
)

// Report is the health() response.
type Report struct {
	Mode         Mode         `json:"mode"`
	LeaseHeld    bool         `json:"lease_held"`
	GCBacklog    gc.Counters  `json:"gc_backlog"`
	LastIngestTS time.Time    `json:"last_ingest_ts"`
	Latency      LatencyStats `json:"latency"`
	Resources    Resources    `json:"resources"`
}

// LatencyStats reports p50/p99 from rolling t-digests; the values are only
// meaningful once at least one observation has landed.
type LatencyStats struct {
	IngestP50Ms float64 `json:"ingest_p50_ms"`
	IngestP99Ms float64 `json:"ingest_p99_ms"`
	QueryP50Ms  float64 `json:"query_p50_ms"`
	QueryP99Ms  float64 `json:"query_p99_ms"`
}

// Resources reports host-level CPU and memory pressure, sampled at report
// time rather than continuously.
type Resources struct {
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsedBytes uint64  `json:"mem_used_bytes"`
}

// MarshalJSON uses goccy/go-json so the health endpoint's hot path (polled
// by monitoring on a short interval) avoids the reflection cost of
// encoding/json.
func (r Report) MarshalJSON() ([]byte, error) {
	type alias Report
	return gojson.Marshal(alias(r))
}

// Reporter owns the rolling latency digests and wires together the
// components health() needs to read from.
type Reporter struct {
	mu sync.Mutex

	ingestEngine *ingest.Engine
	leaseMgr     *lease.Manager
	gcWorker     *gc.Worker

	lastIngestTS  time.Time
	ingestLatency *tdigest.TDigest
	queryLatency  *tdigest.TDigest
}

func NewReporter(ingestEngine *ingest.Engine, leaseMgr *lease.Manager, gcWorker *gc.Worker) (*Reporter, error) {
	ingestTD, err := tdigest.New()
	if err != nil {
		return nil, err
	}
	queryTD, err := tdigest.New()
	if err != nil {
		return nil, err
	}
	return &Reporter{
		ingestEngine:  ingestEngine,
		leaseMgr:      leaseMgr,
		gcWorker:      gcWorker,
		ingestLatency: ingestTD,
		queryLatency:  queryTD,
	}, nil
}

// ObserveIngestLatency records one IngestBlock call's latency and marks
// last_ingest_ts, for callers that wrap Engine.IngestBlock.
func (r *Reporter) ObserveIngestLatency(d time.Duration, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.ingestLatency.Add(float64(d.Microseconds()) / 1000)
	r.lastIngestTS = at
}

// ObserveQueryLatency records one Query call's latency, for callers that
// wrap Engine.Query.
func (r *Reporter) ObserveQueryLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.queryLatency.Add(float64(d.Microseconds()) / 1000)
}

// Report assembles the current health() response.
func (r *Reporter) Report(ctx context.Context) (Report, error) {
	mode := ModeNormal
	if r.ingestEngine.Degraded() {
		mode = ModeDegraded
	} else if exceeded, action := r.gcWorker.Exceeded(); exceeded {
		if action == gc.ActionFailClosed {
			mode = ModeDegraded
		} else {
			mode = ModeThrottled
		}
	}

	r.mu.Lock()
	latency := LatencyStats{
		IngestP50Ms: r.ingestLatency.Quantile(0.5),
		IngestP99Ms: r.ingestLatency.Quantile(0.99),
		QueryP50Ms:  r.queryLatency.Quantile(0.5),
		QueryP99Ms:  r.queryLatency.Quantile(0.99),
	}
	lastIngest := r.lastIngestTS
	r.mu.Unlock()

	resources, err := sampleResources(ctx)
	if err != nil {
		resources = Resources{}
	}

	return Report{
		Mode:         mode,
		LeaseHeld:    r.leaseMgr.Held(),
		GCBacklog:    r.gcWorker.Counters(),
		LastIngestTS: lastIngest,
		Latency:      latency,
		Resources:    resources,
	}, nil
}

func sampleResources(ctx context.Context) (Resources, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Resources{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Resources{}, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	return Resources{CPUPercent: cpuPct, MemUsedBytes: vm.Used}, nil
}

// RegisterDashboard wires the live statsviz plot endpoints (goroutines,
// GC pauses, heap) into mux, for operators debugging a live deployment.
func RegisterDashboard(mux *http.ServeMux) error {
	return statsviz.Register(mux)
}
