// Package config defines the recognized options of the index engine
// (§6.4). Loading these from a file, environment or flags belongs to the
// embedding service; this package only defines the struct, its defaults
// and a thin YAML loader in the style the rest of the corpus uses for its
// own per-component settings.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChunkConfig controls chunk-sealing thresholds (§4.4).
type ChunkConfig struct {
	TargetEntries           int           `yaml:"target_entries"`
	TargetBytes             int64         `yaml:"target_bytes"`
	MaintenanceSealInterval time.Duration `yaml:"maintenance_seal_interval"`
	Compression             string        `yaml:"compression"`
	ManifestRetryBudget     int           `yaml:"manifest_retry_budget"`
}

// TailConfig holds the tail checkpoint interval (§4.3); engine.New does not
// read it, and tails are checkpointed at the end of every ingested block.
type TailConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Topic0Config controls the hybrid-policy rolling window (§4.7).
type Topic0Config struct {
	WindowLen   uint32  `yaml:"window_len"`
	EnableRate  float64 `yaml:"enable_rate"`
	DisableRate float64 `yaml:"disable_rate"`
}

// GuardrailAction is the operator-selected policy for handling a query
// whose OR-list exceeds planner.max_or_terms, or a GC backlog past its
// caps.
type GuardrailAction string

const (
	ActionError      GuardrailAction = "Error"
	ActionBlockScan  GuardrailAction = "BlockScan"
	ActionThrottle   GuardrailAction = "Throttle"
	ActionFailClosed GuardrailAction = "FailClosed"
)

// PlannerConfig controls query-planning guardrails and cache sizing (§4.6).
type PlannerConfig struct {
	MaxOrTerms        int             `yaml:"max_or_terms"`
	GuardrailAction   GuardrailAction `yaml:"guardrail_action"`
	ManifestCacheSize int             `yaml:"manifest_cache_size"`
	TailCacheSize     int             `yaml:"tail_cache_size"`
	ChunkCacheSize    int             `yaml:"chunk_cache_size"`
}

// GCConfig controls orphan-reclamation guardrails (§4.9).
type GCConfig struct {
	MaxOrphanChunkBytes       uint64          `yaml:"max_orphan_chunk_bytes"`
	MaxOrphanManifestSegments uint64          `yaml:"max_orphan_manifest_segments"`
	MaxStaleTailKeys          uint64          `yaml:"max_stale_tail_keys"`
	GuardrailAction           GuardrailAction `yaml:"guardrail_action"`
	PruneBlockHashBelow       uint64          `yaml:"prune_block_hash_below"`
	SweepInterval             time.Duration   `yaml:"sweep_interval"`
}

// Config is the full set of recognized options.
type Config struct {
	Chunk   ChunkConfig   `yaml:"chunk"`
	Tail    TailConfig    `yaml:"tail"`
	Topic0  Topic0Config  `yaml:"topic0"`
	Planner PlannerConfig `yaml:"planner"`
	GC      GCConfig      `yaml:"gc"`
}

// Default returns the configuration with every documented default applied.
func Default() Config {
	return Config{
		Chunk: ChunkConfig{
			TargetEntries:           1950,
			TargetBytes:             256 * 1024,
			MaintenanceSealInterval: 10 * time.Minute,
			Compression:             "none",
			ManifestRetryBudget:     8,
		},
		Tail: TailConfig{
			FlushInterval: 5 * time.Second,
		},
		Topic0: Topic0Config{
			WindowLen:   50_000,
			EnableRate:  0.001,
			DisableRate: 0.010,
		},
		Planner: PlannerConfig{
			MaxOrTerms:        16,
			GuardrailAction:   ActionError,
			ManifestCacheSize: 4096,
			TailCacheSize:     4096,
			ChunkCacheSize:    8192,
		},
		GC: GCConfig{
			MaxOrphanChunkBytes:       512 * 1024 * 1024,
			MaxOrphanManifestSegments: 10_000,
			MaxStaleTailKeys:          10_000,
			GuardrailAction:           ActionThrottle,
			SweepInterval:             time.Minute,
		},
	}
}

// Load reads configuration from an io.Reader, overlaying it on Default().
// A nil reader or empty input yields the defaults unchanged.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	if r == nil {
		return &cfg, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	if len(data) == 0 {
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal yaml: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads configuration from a YAML file by path, falling back to
// Default() if the file does not exist.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}
