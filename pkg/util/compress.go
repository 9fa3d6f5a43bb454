package util

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ContentEncoding is the header value announced for compressed payloads.
const ContentEncoding = "zstd"

// Compressor wraps a reusable zstd encoder. EncodeAll is safe for concurrent
// use, so one Compressor can serve every worker.
type Compressor struct {
	encoder *zstd.Encoder
	level   int
}

// NewCompressor cria um novo compressor. Level 1..22 (a biblioteca mapeia para
// os níveis internos).
func NewCompressor(level int) (*Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd new writer: %w", err)
	}
	return &Compressor{encoder: enc, level: level}, nil
}

func (c *Compressor) Level() int { return c.level }

func (c *Compressor) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func (c *Compressor) Close() error {
	return c.encoder.Close()
}

func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
