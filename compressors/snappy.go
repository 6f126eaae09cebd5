package compressors

import "github.com/golang/snappy"

// Snappy compresses chunk payloads with Snappy's block format.
type Snappy struct{}

func (Snappy) Type() Type { return TypeSnappy }

func (Snappy) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (Snappy) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
