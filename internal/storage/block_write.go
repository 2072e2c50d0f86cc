package storage

import (
	"github.com/emberdb/ember/internal/errors"
)

// The read path is bit-exact with this encoder: tests and tooling build
// block images here and hand their cookies to the block manager.

// MakeBlockImage builds the on-disk image for a page payload and returns
// the image plus its checksum. The image is padded to a multiple of
// allocSize; flags selects checksum coverage and compression.
func MakeBlockImage(ph PageHeader, payload []byte, allocSize uint32, flags uint8, c Compressor) ([]byte, uint32, error) {
	raw := make([]byte, BlockHeaderSize+PageHeaderSize+len(payload))
	EncodePageHeader(raw, ph)
	copy(raw[BlockHeaderSize+PageHeaderSize:], payload)

	diskData := raw
	if flags&BlockCompressed != 0 {
		if c == nil {
			return nil, 0, errors.New(errors.CodeInvalidArgument,
				"compressed block image requires a compressor")
		}
		compressed, did, err := CompressBlockPayload(c, raw)
		if err != nil {
			return nil, 0, err
		}
		if !did {
			flags &^= BlockCompressed
		}
		diskData = compressed
	}

	size := alignUp(uint32(len(diskData)), allocSize)
	img := make([]byte, size)
	copy(img, diskData)

	EncodeBlockHeader(img, BlockHeader{
		DiskSize: uint32(len(diskData)),
		Checksum: 0,
		Flags:    flags,
	})

	checkSize := uint32(CompressSkip)
	if flags&BlockDataChecksum != 0 {
		checkSize = size
	}
	checksum := Checksum(img[:checkSize])
	EncodeBlockHeader(img, BlockHeader{
		DiskSize: uint32(len(diskData)),
		Checksum: checksum,
		Flags:    flags,
	})
	return img, checksum, nil
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align uint32) uint32 {
	return (n + align - 1) / align * align
}
