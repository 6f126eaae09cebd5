package codec

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/require"

	"github.com/chainidx/finalidx/core"
)

func TestLogRoundTrip(t *testing.T) {
	l := &core.Log{
		GlobalLogID: 42,
		Address:     core.Address{1, 2, 3},
		Topics:      [][32]byte{{9}, {8}},
		Data:        []byte("hello"),
		BlockNum:    7,
		TxIndex:     1,
		LogIndex:    2,
		BlockHash:   core.Hash{5},
	}
	enc := EncodeLog(l)
	dec, err := DecodeLog(enc)
	require.NoError(t, err)
	require.Equal(t, l, dec)
}

func TestLogRejectsBadVersion(t *testing.T) {
	enc := EncodeLog(&core.Log{})
	enc[0] = 99
	_, err := DecodeLog(enc)
	require.Error(t, err)
	require.True(t, core.IsCorruption(err))
}

func TestBlockMetaRoundTrip(t *testing.T) {
	m := &core.BlockMeta{
		BlockNum:   3,
		BlockHash:  core.Hash{1},
		ParentHash: core.Hash{2},
		FirstLogID: 10,
		Count:      5,
	}
	enc := EncodeBlockMeta(m)
	dec, err := DecodeBlockMeta(enc)
	require.NoError(t, err)
	require.Equal(t, m, dec)
}

func TestMetaStateRoundTrip(t *testing.T) {
	s := &core.MetaState{IndexedFinalizedHead: 100, NextLogID: 500, WriterEpoch: 3}
	enc := EncodeMetaState(s)
	dec, err := DecodeMetaState(enc)
	require.NoError(t, err)
	require.Equal(t, s, dec)
}

func TestManifestRoundTrip(t *testing.T) {
	m := &core.ManifestHeader{
		Version:      2,
		LastChunkSeq: 4,
		ApproxCount:  1000,
		ChunkRefs: []core.ChunkRef{
			{ChunkSeq: 0, MinLocal: 0, MaxLocal: 99, Count: 100},
			{ChunkSeq: 1, MinLocal: 100, MaxLocal: 199, Count: 100},
		},
	}
	enc := EncodeManifest(m)
	dec, err := DecodeManifest(enc)
	require.NoError(t, err)
	require.Equal(t, m, dec)
}

func TestManifestSegmentRoundTrip(t *testing.T) {
	s := &core.ManifestSegment{
		SegmentID: 3,
		ChunkRefs: []core.ChunkRef{{ChunkSeq: 7, MinLocal: 1, MaxLocal: 2, Count: 2}},
	}
	enc := EncodeManifestSegment(s)
	dec, err := DecodeManifestSegment(enc)
	require.NoError(t, err)
	require.Equal(t, s, dec)
}

func TestTailRoundTrip(t *testing.T) {
	bm := roaring.New()
	bm.AddMany([]uint32{1, 2, 3, 1000})
	enc, err := EncodeTail(bm)
	require.NoError(t, err)
	dec, err := DecodeTail(enc)
	require.NoError(t, err)
	require.True(t, bm.Equals(dec))
}

func TestChunkRoundTripAndCRC(t *testing.T) {
	bm := roaring.New()
	bm.AddMany([]uint32{5, 6, 7})
	enc, err := EncodeChunk(5, 7, 3, bm)
	require.NoError(t, err)

	dec, err := DecodeChunk(enc)
	require.NoError(t, err)
	require.Equal(t, uint32(5), dec.MinLocal)
	require.Equal(t, uint32(7), dec.MaxLocal)
	require.Equal(t, uint32(3), dec.Count)
	require.True(t, bm.Equals(dec.Bitmap))

	// flip a byte in the middle of the payload; CRC must catch it.
	corrupted := append([]byte(nil), enc...)
	corrupted[len(corrupted)/2] ^= 0xff
	_, err = DecodeChunk(corrupted)
	require.Error(t, err)
	require.True(t, core.IsCorruption(err))
}

func TestTopic0ModeRoundTrip(t *testing.T) {
	m := &core.Topic0Mode{LogEnabled: true, EnabledFromBlock: 12345}
	enc := EncodeTopic0Mode(m)
	dec, err := DecodeTopic0Mode(enc)
	require.NoError(t, err)
	require.Equal(t, m, dec)
}

func TestTopic0StatsRoundTrip(t *testing.T) {
	s := &core.Topic0Stats{
		WindowLen:          50000,
		BlocksSeenInWindow: 12,
		RingCursor:         99,
		RingBits:           make([]byte, 50000/8+1),
	}
	s.RingBits[10] = 0xAA
	enc := EncodeTopic0Stats(s)
	dec, err := DecodeTopic0Stats(enc)
	require.NoError(t, err)
	require.Equal(t, s, dec)
}
