package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// GzipProvider is the default CompressionProvider, grounded on the
// stdlib-gzip-based CompressJSON/DecompressJSON pair this codebase
// started from.
type GzipProvider struct{}

func (GzipProvider) Method() string { return "gzip" }

func (GzipProvider) Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (GzipProvider) Decompress(raw []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
