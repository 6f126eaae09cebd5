package compressors

import (
	"encoding/binary"
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4 compresses chunk payloads with LZ4 block compression. The original
// length is prefixed (4 bytes, big-endian) since the block format does not
// self-describe it.
type LZ4 struct{}

func (LZ4) Type() Type { return TypeLZ4 }

func (LZ4) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(dst[:4], uint32(len(data)))

	n, err := lz4.CompressBlock(data, dst[4:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 && len(data) > 0 {
		// incompressible input; lz4 signals this by writing 0 bytes.
		return nil, fmt.Errorf("lz4 compress: incompressible input")
	}
	return dst[:4+n], nil
}

func (LZ4) Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4 decompress: payload too short")
	}
	origLen := binary.BigEndian.Uint32(data[:4])
	dst := make([]byte, origLen)
	n, err := lz4.UncompressBlock(data[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}
