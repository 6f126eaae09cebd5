package codec

import (
	"bytes"

	"github.com/RoaringBitmap/roaring"
	"github.com/chainidx/finalidx/core"
)

// EncodeChunk serializes an immutable chunk blob for storage at
// chunks/{stream_id}/{chunk_seq}.
//
// Layout: version(1) | min_local(4) | max_local(4) | count(4) | roaring32
// payload | crc32(4) over everything preceding it.
func EncodeChunk(minLocal, maxLocal, count uint32, bm *roaring.Bitmap) ([]byte, error) {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionChunk)
	writeU32(buf, minLocal)
	writeU32(buf, maxLocal)
	writeU32(buf, count)
	if _, err := bm.WriteTo(buf); err != nil {
		return nil, err
	}

	return withCRC(buf.Bytes()), nil
}

// DecodedChunk is the in-memory form of a chunk blob.
type DecodedChunk struct {
	MinLocal uint32
	MaxLocal uint32
	Count    uint32
	Bitmap   *roaring.Bitmap
}

// DecodeChunk validates the trailing CRC32 and version byte, then decodes
// the roaring32 payload. A checksum or version failure is always
// core.CorruptionError, which callers must treat as non-recoverable when
// discovered through a manifest reference.
func DecodeChunk(data []byte) (*DecodedChunk, error) {
	payload, err := stripCRC("chunk", data)
	if err != nil {
		return nil, err
	}
	payload, err = checkVersion("chunk", payload, versionChunk)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	c := &DecodedChunk{}
	if c.MinLocal, err = readU32(r); err != nil {
		return nil, corrupt("chunk", err)
	}
	if c.MaxLocal, err = readU32(r); err != nil {
		return nil, corrupt("chunk", err)
	}
	if c.Count, err = readU32(r); err != nil {
		return nil, corrupt("chunk", err)
	}
	c.Bitmap = roaring.New()
	if _, err := c.Bitmap.ReadFrom(r); err != nil {
		return nil, corrupt("chunk", err)
	}
	return c, nil
}
