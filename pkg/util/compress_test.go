package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	c, err := NewCompressor(3)
	require.NoError(t, err)
	defer c.Close()

	payload := bytes.Repeat([]byte(`{"type":"pool_status","surfaces":8}`), 64)
	compressed := c.Compress(payload)
	assert.Less(t, len(compressed), len(payload))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Equal(t, 3, c.Level())
}

func TestDecompressGarbage(t *testing.T) {
	_, err := Decompress([]byte("não é zstd"))
	assert.Error(t, err)
}
