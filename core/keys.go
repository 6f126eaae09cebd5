package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Numeric key suffixes are big-endian throughout so that lexical order on
// the backing store matches numeric order.

// StreamID is the fixed-layout identifier of one indexed value within one
// shard: index_kind (1 byte) || value_hash (32 bytes, or 20 for addr) ||
// shard_hi32 (4 bytes BE).
type StreamID []byte

func (s StreamID) String() string { return fmt.Sprintf("%x", []byte(s)) }

// ValueHash hashes an arbitrary-length value (topic word, in this domain
// always 32 bytes) down to the 32-byte digest used in a StreamID.
func ValueHash(value []byte) [32]byte {
	return sha256.Sum256(value)
}

// NewAddrStreamID builds the stream id for an address clause, sharded by
// global_log_id >> 32.
func NewAddrStreamID(addr Address, shardHi32 uint32) StreamID {
	buf := make([]byte, 1+20+4)
	buf[0] = byte(KindAddr)
	copy(buf[1:21], addr[:])
	binary.BigEndian.PutUint32(buf[21:25], shardHi32)
	return buf
}

// NewTopicStreamID builds the stream id for a topic1/topic2/topic3 clause
// (log-level, sharded by global_log_id >> 32) or a topic0_block/topic0_log
// clause (block-level sharded by block_num >> 32, or log-level respectively).
func NewTopicStreamID(kind IndexKind, value [32]byte, shardHi32 uint32) StreamID {
	buf := make([]byte, 1+32+4)
	buf[0] = byte(kind)
	copy(buf[1:33], value[:])
	binary.BigEndian.PutUint32(buf[33:37], shardHi32)
	return buf
}

// DecodeStreamID splits a StreamID back into its components. valueHash is
// 20 bytes for KindAddr, 32 bytes otherwise.
func DecodeStreamID(id StreamID) (kind IndexKind, valueHash []byte, shardHi32 uint32, err error) {
	if len(id) < 1 {
		return 0, nil, 0, fmt.Errorf("core: stream id too short")
	}
	kind = IndexKind(id[0])
	var hashLen int
	if kind == KindAddr {
		hashLen = 20
	} else {
		hashLen = 32
	}
	want := 1 + hashLen + 4
	if len(id) != want {
		return 0, nil, 0, fmt.Errorf("core: stream id has length %d, want %d for kind %s", len(id), want, kind)
	}
	valueHash = append([]byte(nil), id[1:1+hashLen]...)
	shardHi32 = binary.BigEndian.Uint32(id[1+hashLen:])
	return kind, valueHash, shardHi32, nil
}

// ShardOf returns the upper 32 bits of a 64-bit sequence number: the
// global_log_id for log-level streams, or the block_num for block-level
// streams.
func ShardOf(seq uint64) uint32 { return uint32(seq >> 32) }

// LocalOf returns the lower 32 bits of a 64-bit sequence number: the offset
// within its shard.
func LocalOf(seq uint64) uint32 { return uint32(seq) }

// Store key builders. All are pure functions of their arguments so that
// canonical writes are deterministically keyed and therefore idempotent.

func KeyLog(globalLogID uint64) []byte {
	return beKey("logs/", globalLogID)
}

func KeyBlockMeta(blockNum uint64) []byte {
	return beKey("block_meta/", blockNum)
}

func KeyBlockHashToNum(hash Hash) []byte {
	return append([]byte("block_hash_to_num/"), hash[:]...)
}

const KeyMetaState = "meta/state"

func KeyManifest(id StreamID) []byte {
	return append([]byte("manifests/"), id...)
}

func KeyManifestSegment(id StreamID, segmentID uint32) []byte {
	b := append([]byte("manifest_segments/"), id...)
	b = append(b, '/')
	return beAppend(b, segmentID)
}

func KeyTail(id StreamID) []byte {
	return append([]byte("tails/"), id...)
}

func KeyChunk(id StreamID, chunkSeq uint32) []byte {
	b := append([]byte("chunks/"), id...)
	b = append(b, '/')
	return beAppend(b, chunkSeq)
}

func KeyTopic0Mode(sig [32]byte) []byte {
	return append([]byte("topic0_mode/"), sig[:]...)
}

func KeyTopic0Stats(sig [32]byte) []byte {
	return append([]byte("topic0_stats/"), sig[:]...)
}

func beKey(prefix string, n uint64) []byte {
	b := make([]byte, len(prefix)+8)
	copy(b, prefix)
	binary.BigEndian.PutUint64(b[len(prefix):], n)
	return b
}

func beAppend(prefix []byte, n uint32) []byte {
	b := make([]byte, len(prefix)+4)
	copy(b, prefix)
	binary.BigEndian.PutUint32(b[len(prefix):], n)
	return b
}
