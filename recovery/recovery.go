// Package recovery implements RecoveryBootstrap (§4.8): on startup, read
// meta/state without ever scanning logs. Topic0 mode/stats records are not
// read here; topic0.Tracker loads them per signature on first use. Manifests and tails stay lazily loaded through the
// query engine's LRU caches; this package only optionally warms a
// configured list of hot streams ahead of the first query.
package recovery

import (
	"context"

	"github.com/chainidx/finalidx/codec"
	"github.com/chainidx/finalidx/core"
	"github.com/chainidx/finalidx/store"
)

// Report summarizes what bootstrap found, for startup logging.
type Report struct {
	Bootstrapped    bool
	IndexedHead     uint64
	NextLogID       uint64
	WriterEpoch     uint64
	WarmedStreams   int
	WarmupFailures  int
}

// Warmer is implemented by the query engine's manifest cache; Bootstrap
// calls it for every stream in the warm list so the first queries touching
// those streams don't pay a cold-cache miss.
type Warmer interface {
	WarmManifest(ctx context.Context, id core.StreamID) error
}

// Bootstrap reads meta/state and reports whether the store has ever been
// written to. It never scans logs/ or block_meta/: those are touched lazily,
// by query or by the next ingest, whichever comes first.
func Bootstrap(ctx context.Context, meta store.MetaStore, warm Warmer, warmStreams []core.StreamID) (Report, error) {
	value, _, found, err := meta.Get(ctx, []byte(core.KeyMetaState))
	if err != nil {
		return Report{}, err
	}
	if !found {
		return Report{Bootstrapped: false}, nil
	}

	state, err := codec.DecodeMetaState(value)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Bootstrapped: true,
		IndexedHead:  state.IndexedFinalizedHead,
		NextLogID:    state.NextLogID,
		WriterEpoch:  state.WriterEpoch,
	}

	if warm == nil {
		return report, nil
	}
	for _, id := range warmStreams {
		if err := warm.WarmManifest(ctx, id); err != nil {
			report.WarmupFailures++
			continue
		}
		report.WarmedStreams++
	}
	return report, nil
}
