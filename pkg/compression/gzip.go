// Package compression implements payload compression for RMC transports.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Compressor compresses and decompresses transport payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// GzipCompressor implements Compressor using GZIP.
type GzipCompressor struct {
	level int
}

// NewGzip creates a GZIP compressor with the default compression level.
func NewGzip() *GzipCompressor {
	return &GzipCompressor{level: gzip.DefaultCompression}
}

// NewGzipWithLevel creates a GZIP compressor with the given level.
func NewGzipWithLevel(level int) *GzipCompressor {
	return &GzipCompressor{level: level}
}

// Compress compresses data using GZIP.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("writing payload: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress decompresses GZIP data.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("reading compressed payload: %w", err)
	}

	return buf.Bytes(), nil
}

var _ Compressor = (*GzipCompressor)(nil)
