// Package core holds the domain types shared by every layer of the index:
// logs, block metadata, streams, chunk references and the meta-state record
// that acts as the single visibility barrier for the whole engine.
package core

import "fmt"

// Hash is a 32-byte value: a block hash or a topic value.
type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", [32]byte(h)) }

// Address is a 20-byte Ethereum-style account address.
type Address [20]byte

func (a Address) String() string { return fmt.Sprintf("%x", [20]byte(a)) }

// IndexKind identifies which inverted-index stream family a value belongs to.
type IndexKind uint8

const (
	KindAddr IndexKind = iota + 1
	KindTopic1
	KindTopic2
	KindTopic3
	KindTopic0Block
	KindTopic0Log
)

func (k IndexKind) String() string {
	switch k {
	case KindAddr:
		return "addr"
	case KindTopic1:
		return "topic1"
	case KindTopic2:
		return "topic2"
	case KindTopic3:
		return "topic3"
	case KindTopic0Block:
		return "topic0_block"
	case KindTopic0Log:
		return "topic0_log"
	default:
		return "unknown"
	}
}

// LogLevel reports whether a kind shards by global_log_id (true) or by
// block_num (false, block-level).
func (k IndexKind) LogLevel() bool {
	return k != KindTopic0Block
}

// Log is a single finalized log entry, immutable once written.
type Log struct {
	GlobalLogID uint64
	Address     Address
	Topics      [][32]byte // 0..4 entries, index 0 is the event signature
	Data        []byte
	BlockNum    uint64
	TxIndex     uint32
	LogIndex    uint32
	BlockHash   Hash
}

// Topic returns the topic at position i, or nil if absent.
func (l *Log) Topic(i int) *[32]byte {
	if i < 0 || i >= len(l.Topics) {
		return nil
	}
	return &l.Topics[i]
}

// BlockMeta is the immutable per-block record.
type BlockMeta struct {
	BlockNum   uint64
	BlockHash  Hash
	ParentHash Hash
	FirstLogID uint64
	Count      uint32
}

// MetaState is the mutated-only-via-CAS visibility barrier record.
type MetaState struct {
	IndexedFinalizedHead uint64
	NextLogID            uint64
	WriterEpoch          uint64
}

// ChunkRef is the per-chunk metadata carried in a manifest, sufficient for
// cardinality estimation without reading the chunk blob.
type ChunkRef struct {
	ChunkSeq uint32
	MinLocal uint32
	MaxLocal uint32
	Count    uint32
}

// Overlaps reports whether the ref's local range intersects [lo, hi].
func (r ChunkRef) Overlaps(lo, hi uint32) bool {
	return r.MinLocal <= hi && r.MaxLocal >= lo
}

// ManifestHeader is the CAS-updated pointer record for a stream.
type ManifestHeader struct {
	Version      uint64
	LastChunkSeq uint32
	ChunkRefs    []ChunkRef
	ApproxCount  uint64
}

// ManifestSegment is a slice of chunk refs, used once a manifest grows large
// enough that rewriting the whole header on every seal becomes wasteful.
type ManifestSegment struct {
	SegmentID uint32
	ChunkRefs []ChunkRef
}

// Tail is the mutable, not-yet-sealed portion of a stream.
type Tail struct {
	Bitmap []byte // serialized roaring32
	Count  uint64
}

// Chunk is an immutable sealed slice of a stream.
type Chunk struct {
	MinLocal uint32
	MaxLocal uint32
	Count    uint32
	Bitmap   []byte // serialized roaring32
}

// Topic0Mode is the CAS-updated hybrid-policy decision for one signature.
type Topic0Mode struct {
	LogEnabled       bool
	EnabledFromBlock uint64
}

// Topic0Stats is the CAS-updated rolling-window state for one signature.
type Topic0Stats struct {
	WindowLen          uint32
	BlocksSeenInWindow uint32
	RingCursor         uint32
	RingBits           []byte // packed bitset, one bit per block in the window
}

// FinalizedBlock is the ingest input: a single finalized canonical block.
type FinalizedBlock struct {
	BlockNum   uint64
	BlockHash  Hash
	ParentHash Hash
	Logs       []LogInput
}

// LogInput is a single log within a FinalizedBlock, prior to global-id
// assignment.
type LogInput struct {
	Address  Address
	Topics   [][32]byte
	Data     []byte
	TxIndex  uint32
	LogIndex uint32
}
