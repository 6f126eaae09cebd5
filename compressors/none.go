package compressors

// NoCompression passes data through unchanged.
type NoCompression struct{}

func (NoCompression) Type() Type                            { return TypeNone }
func (NoCompression) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoCompression) Decompress(data []byte) ([]byte, error) { return data, nil }
