package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Compressor interface for block payload compression algorithms.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, originalSize int) ([]byte, error)
}

// LZ4Compressor implements LZ4 block compression.
type LZ4Compressor struct{}

// NewLZ4Compressor creates a new LZ4 compressor.
func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

// Compress compresses data using LZ4.
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("LZ4 compression failed: %w", err)
	}

	return dst[:n], nil
}

// Decompress decompresses LZ4 data.
func (c *LZ4Compressor) Decompress(data []byte, originalSize int) ([]byte, error) {
	dst := make([]byte, originalSize)

	n, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
	}

	if n != originalSize {
		return nil, fmt.Errorf("LZ4 decompression size mismatch: expected %d, got %d", originalSize, n)
	}

	return dst, nil
}

// Compressed block layout: the CompressSkip prefix is stored as-is; a
// 4-byte logical payload length follows, then the LZ4 block.

// CompressBlockPayload builds a compressed on-disk image from a raw block
// image. Returns the input unchanged (and false) when compression does not
// shrink the payload.
func CompressBlockPayload(c Compressor, raw []byte) ([]byte, bool, error) {
	if len(raw) <= CompressSkip {
		return raw, false, nil
	}
	payload := raw[CompressSkip:]
	compressed, err := c.Compress(payload)
	if err != nil {
		return nil, false, err
	}
	if len(compressed) == 0 || len(compressed)+4 >= len(payload) {
		return raw, false, nil
	}
	out := make([]byte, CompressSkip+4+len(compressed))
	copy(out, raw[:CompressSkip])
	binary.LittleEndian.PutUint32(out[CompressSkip:], uint32(len(payload)))
	copy(out[CompressSkip+4:], compressed)
	return out, true, nil
}

// DecompressBlockPayload rebuilds the raw block image from a compressed
// on-disk image of diskSize bytes.
func DecompressBlockPayload(c Compressor, img []byte, diskSize uint32) ([]byte, error) {
	if int(diskSize) < CompressSkip+4 || int(diskSize) > len(img) {
		return nil, fmt.Errorf("compressed block too small: %d bytes", diskSize)
	}
	logical := binary.LittleEndian.Uint32(img[CompressSkip:])
	payload, err := c.Decompress(img[CompressSkip+4:diskSize], int(logical))
	if err != nil {
		return nil, err
	}
	out := make([]byte, CompressSkip+len(payload))
	copy(out, img[:CompressSkip])
	copy(out[CompressSkip:], payload)
	return out, nil
}
