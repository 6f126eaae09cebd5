package compressors

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses chunk payloads with zstd, pooling encoders/decoders since
// both are expensive to construct and chunk sealing happens on every
// ingest block.
type Zstd struct {
	encoders sync.Pool
	decoders sync.Pool
}

func NewZstd() *Zstd {
	return &Zstd{
		encoders: sync.Pool{New: func() any {
			enc, err := zstd.NewWriter(nil)
			if err != nil {
				return nil
			}
			return enc
		}},
		decoders: sync.Pool{New: func() any {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil
			}
			return dec
		}},
	}
}

func (*Zstd) Type() Type { return TypeZstd }

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	enc, _ := z.encoders.Get().(*zstd.Encoder)
	if enc == nil {
		return nil, fmt.Errorf("zstd: failed to obtain encoder")
	}
	defer z.encoders.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	dec, _ := z.decoders.Get().(*zstd.Decoder)
	if dec == nil {
		return nil, fmt.Errorf("zstd: failed to obtain decoder")
	}
	defer z.decoders.Put(dec)
	return dec.DecodeAll(data, nil)
}
