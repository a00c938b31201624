// Package codec provides the three outer codecs a vault layers its payload
// through: compression (zstd), symmetric encryption (CAST5 legacy / AEAD
// default), and the sequential named-member archive format.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressionLevel matches the level the vault format has always
// used for its data archives.
const DefaultCompressionLevel = 7

// levelFor maps a vault compression-level integer onto klauspost/compress's
// coarser three-tier EncoderLevel scale.
func levelFor(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 7:
		return zstd.SpeedDefault
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress streams r through a zstd encoder at the given level (0 selects
// DefaultCompressionLevel) and returns the compressed bytes.
func Compress(r io.Reader, level int) ([]byte, error) {
	if level <= 0 {
		level = DefaultCompressionLevel
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(levelFor(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close zstd encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress streams compressed zstd bytes back into their original form.
func Decompress(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}
