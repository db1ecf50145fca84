package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ZstdProvider is an alternate CompressionProvider demonstrating that the
// codec is pluggable: swapping it in for GzipProvider requires no change
// to Manager or its callers.
type ZstdProvider struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstdProvider() (*ZstdProvider, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &ZstdProvider{enc: enc, dec: dec}, nil
}

func (*ZstdProvider) Method() string { return "zstd" }

func (p *ZstdProvider) Compress(raw []byte) ([]byte, error) {
	return p.enc.EncodeAll(raw, nil), nil
}

func (p *ZstdProvider) Decompress(raw []byte) ([]byte, error) {
	out, err := p.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
