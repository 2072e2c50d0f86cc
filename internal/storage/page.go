package storage

import (
	"encoding/binary"
)

const (
	// DefaultAllocSize is the minimum I/O granularity for block reads and
	// writes; the block header lives inside the first allocation-size bytes.
	DefaultAllocSize = 4096

	// BlockHeaderSize is the size of the on-disk block header.
	BlockHeaderSize = 12

	// PageHeaderSize is the size of the on-disk page header that follows
	// the block header.
	PageHeaderSize = 16

	// CompressSkip is the number of leading bytes excluded from
	// compression and, for blocks without the data-checksum flag, the
	// extent covered by the checksum.
	CompressSkip = 64
)

// Block header flags.
const (
	// BlockDataChecksum indicates the checksum covers the whole block
	// rather than only the CompressSkip prefix.
	BlockDataChecksum uint8 = 1 << 0

	// BlockCompressed indicates the payload beyond CompressSkip is
	// LZ4-compressed.
	BlockCompressed uint8 = 1 << 1
)

// BlockHeader is the fixed-width header at the front of every on-disk
// block. It is stored little-endian and swapped to host representation
// on read.
type BlockHeader struct {
	DiskSize uint32 // Block data length including the header, before alignment padding
	Checksum uint32 // Block checksum
	Flags    uint8
}

// DecodeBlockHeader unpacks a block header from the front of buf.
func DecodeBlockHeader(buf []byte) BlockHeader {
	return BlockHeader{
		DiskSize: binary.LittleEndian.Uint32(buf[0:4]),
		Checksum: binary.LittleEndian.Uint32(buf[4:8]),
		Flags:    buf[8],
	}
}

// EncodeBlockHeader packs a block header into the front of buf.
func EncodeBlockHeader(buf []byte, h BlockHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.DiskSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.Checksum)
	buf[8] = h.Flags
	buf[9], buf[10], buf[11] = 0, 0, 0
}

// ZeroBlockHeaderChecksum clears the stored checksum field in place, the
// state the block was in when its checksum was computed.
func ZeroBlockHeaderChecksum(buf []byte) {
	binary.LittleEndian.PutUint32(buf[4:8], 0)
}

// PageType identifies the B-tree page kind held by a block.
type PageType uint8

const (
	PageTypeRowLeaf PageType = iota
	PageTypeRowInternal
	PageTypeOverflow
)

// PageHeader describes the page carried in a block, immediately after the
// block header. Stored little-endian, swapped on read.
type PageHeader struct {
	EntryCount uint32 // Number of entries on the page
	MemSize    uint32 // In-memory footprint when instantiated
	WriteGen   uint32 // Page write generation
	Type       PageType
	Flags      uint8
}

// DecodePageHeader unpacks the page header that follows the block header.
func DecodePageHeader(buf []byte) PageHeader {
	p := buf[BlockHeaderSize:]
	return PageHeader{
		EntryCount: binary.LittleEndian.Uint32(p[0:4]),
		MemSize:    binary.LittleEndian.Uint32(p[4:8]),
		WriteGen:   binary.LittleEndian.Uint32(p[8:12]),
		Type:       PageType(p[12]),
		Flags:      p[13],
	}
}

// EncodePageHeader packs the page header that follows the block header.
func EncodePageHeader(buf []byte, h PageHeader) {
	p := buf[BlockHeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], h.EntryCount)
	binary.LittleEndian.PutUint32(p[4:8], h.MemSize)
	binary.LittleEndian.PutUint32(p[8:12], h.WriteGen)
	p[12] = byte(h.Type)
	p[13] = h.Flags
	p[14], p[15] = 0, 0
}
