package codec

import (
	"bytes"

	"github.com/RoaringBitmap/roaring"
	"github.com/chainidx/finalidx/core"
)

// EncodeTail serializes a tail checkpoint for storage at tails/{stream_id}.
//
// Layout: version(1) | count(8) | roaring32 payload.
func EncodeTail(bm *roaring.Bitmap) ([]byte, error) {
	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)

	buf.WriteByte(versionTail)
	writeU64(buf, bm.GetCardinality())
	if _, err := bm.WriteTo(buf); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeTail is the inverse of EncodeTail.
func DecodeTail(data []byte) (*roaring.Bitmap, error) {
	payload, err := checkVersion("tail", data, versionTail)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	if _, err := readU64(r); err != nil { // count, redundant with cardinality but kept for forward compat
		return nil, corrupt("tail", err)
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(r); err != nil {
		return nil, corrupt("tail", err)
	}
	return bm, nil
}
