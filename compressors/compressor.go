// Package compressors implements optional whole-blob compression for
// sealed chunks. Chunks are already dense roaring32 bitmaps, so
// compression is opt-in per deployment rather than mandatory: a backend
// storing many small, highly compressible chunks (long address tails, rare
// topics) can enable it; one storing large, already-tight chunks may
// prefer NoCompression to save the CPU. codec.EncodeChunk does not call
// this package: chunk blobs are written uncompressed.
package compressors

import "github.com/chainidx/finalidx/core"

// Type identifies a compression codec. No codec tag is written alongside
// chunks.
type Type byte

const (
	TypeNone Type = iota
	TypeSnappy
	TypeLZ4
	TypeZstd
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeSnappy:
		return "snappy"
	case TypeLZ4:
		return "lz4"
	case TypeZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Compressor compresses and decompresses whole in-memory byte slices.
type Compressor interface {
	Type() Type
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ByType returns the Compressor registered for t, or an error if unknown —
// the codec-version-mismatch case for compressed chunk payloads.
func ByType(t Type) (Compressor, error) {
	switch t {
	case TypeNone:
		return NoCompression{}, nil
	case TypeSnappy:
		return Snappy{}, nil
	case TypeLZ4:
		return LZ4{}, nil
	case TypeZstd:
		return NewZstd(), nil
	default:
		return nil, &core.CorruptionError{Message: "compressors: unknown compression type"}
	}
}
