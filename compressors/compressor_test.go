package compressors

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAllCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	for _, typ := range []Type{TypeNone, TypeSnappy, TypeLZ4, TypeZstd} {
		t.Run(typ.String(), func(t *testing.T) {
			c, err := ByType(typ)
			require.NoError(t, err)
			require.Equal(t, typ, c.Type())

			compressed, err := c.Compress(payload)
			require.NoError(t, err)

			decompressed, err := c.Decompress(compressed)
			require.NoError(t, err)
			require.Equal(t, payload, decompressed)
		})
	}
}

func TestByTypeUnknown(t *testing.T) {
	_, err := ByType(Type(99))
	require.Error(t, err)
}
