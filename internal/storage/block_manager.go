package storage

import (
	"fmt"
	"strings"

	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/log"
)

// ReadSession carries the per-caller flags the read path consults.
type ReadSession interface {
	// QuietCorrupt suppresses corruption logging and downgrades the
	// fatal panic to a recoverable error.
	QuietCorrupt() bool
}

// CorruptionSink receives the connection-wide data-corruption latch. Once
// set it stays set for the process lifetime.
type CorruptionSink interface {
	MarkCorrupt()
}

// BlockManager converts address cookies into verified page bytes.
type BlockManager struct {
	block      *Block
	multi      bool
	handles    *BlockHandleCache
	chunkCache ChunkCache
	throttle   CapacityThrottle
	corrupt    CorruptionSink
	compressor Compressor
	logger     log.Logger
}

// BlockManagerOptions configures a block manager.
type BlockManagerOptions struct {
	// Handles enables multi-object operation: cookies carrying an object
	// ID other than the base block's are resolved through this cache.
	Handles *BlockHandleCache

	// ChunkCache, when set, is consulted before direct reads.
	ChunkCache ChunkCache

	// Throttle is informed of read traffic before each direct read.
	Throttle CapacityThrottle

	// Corrupt receives the connection-wide corruption latch.
	Corrupt CorruptionSink

	Logger log.Logger
}

// NewBlockManager creates a block manager over the given base block.
func NewBlockManager(block *Block, opts BlockManagerOptions) *BlockManager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &BlockManager{
		block:      block,
		multi:      opts.Handles != nil,
		handles:    opts.Handles,
		chunkCache: opts.ChunkCache,
		throttle:   opts.Throttle,
		corrupt:    opts.Corrupt,
		compressor: NewLZ4Compressor(),
		logger:     logger.With("component", "block"),
	}
}

// Read maps the address cookie referenced block into buf and returns the
// decoded page header.
func (bm *BlockManager) Read(sess ReadSession, buf *Buf, addr []byte) (PageHeader, error) {
	objectID, offset, size, checksum, err := UnpackAddr(addr, bm.block.AllocSize)
	if err != nil {
		return PageHeader{}, err
	}

	block := bm.block
	if bm.multi && objectID != block.ObjectID {
		// The handle is released on exit regardless of outcome.
		block, err = bm.handles.Acquire(objectID)
		if err != nil {
			return PageHeader{}, err
		}
		defer bm.handles.Release(objectID)
	}

	if bm.throttle != nil {
		bm.throttle.Throttle(int64(size), ThrottleRead)
	}

	ph, err := bm.readOff(sess, block, buf, objectID, offset, size, checksum)
	if err != nil {
		return PageHeader{}, err
	}

	if block.DiscardHint != nil {
		block.DiscardHint(int64(size))
	}
	return ph, nil
}

// readOff reads an addr/size pair referenced block into buf and verifies
// it.
func (bm *BlockManager) readOff(sess ReadSession, block *Block, buf *Buf,
	objectID uint32, offset int64, size, checksum uint32) (PageHeader, error) {

	bm.logger.Debug("block read",
		"object", objectID, "offset", offset, "size", size, "checksum", fmt.Sprintf("%#x", checksum))

	if size < block.AllocSize {
		return PageHeader{}, errors.Newf(errors.CodeInvalidArgument,
			"%s: impossibly small block size of %dB, less than allocation size of %d",
			block.Name, size, block.AllocSize)
	}

	// Reads want aligned buffer memory; if this buffer was handed in by
	// the caller, flag it and reallocate so later reads stay aligned.
	bufsize := int(size)
	if !buf.Aligned {
		buf.Aligned = true
		if m := buf.MemSize() + 10; m > bufsize {
			bufsize = m
		}
	}
	buf.Grow(bufsize)
	buf.Data = buf.Data[:size]

	// The chunk cache running out of space is not fatal; read the data
	// ourselves instead.
	hit := false
	if bm.chunkCache != nil {
		var err error
		hit, err = bm.chunkCache.Get(objectID, offset, size, buf.Data)
		if err != nil && !errors.IsCode(err, errors.CodeNoSpace) {
			return PageHeader{}, err
		}
	}
	if !hit {
		if err := block.readAt(buf.Data, offset); err != nil {
			return PageHeader{}, err
		}
		if bm.chunkCache != nil {
			if err := bm.chunkCache.Put(objectID, offset, size, buf.Data); err != nil &&
				!errors.IsCode(err, errors.CodeNoSpace) {
				return PageHeader{}, err
			}
		}
	}

	attempt := func() (PageHeader, BlockHeader, bool) {
		swap := DecodeBlockHeader(buf.Data)
		if swap.Checksum != checksum {
			return PageHeader{}, swap, false
		}
		ph, ok := bm.verify(buf, swap, size, checksum)
		return ph, swap, ok
	}

	ph, swap, ok := attempt()
	if ok {
		return ph, nil
	}
	// A stale chunk-cache entry shows up as a checksum mismatch; drop it
	// and retry the direct read exactly once.
	if bm.chunkCache != nil && hit {
		bm.chunkCache.Invalidate(objectID, offset, size)
		if err := block.readAt(buf.Data, offset); err != nil {
			return PageHeader{}, err
		}
		if ph, swap, ok = attempt(); ok {
			return ph, nil
		}
	}
	headerMatched := swap.Checksum == checksum

	// Corruption.
	if !sess.QuietCorrupt() {
		checkSize := uint32(CompressSkip)
		if swap.Flags&BlockDataChecksum != 0 {
			checkSize = size
		}
		if headerMatched {
			bm.logger.Error("potential hardware corruption, read checksum error",
				"block", block.Name, "size", size, "offset", offset,
				"calculated", fmt.Sprintf("%#x", Checksum(buf.Data[:checkSize])),
				"expected", fmt.Sprintf("%#x", checksum))
		} else {
			bm.logger.Error("potential hardware corruption, read checksum error",
				"block", block.Name, "size", size, "offset", offset,
				"header", fmt.Sprintf("%#x", swap.Checksum),
				"expected", fmt.Sprintf("%#x", checksum))
		}
		bm.corruptDump(buf, objectID, offset, size, checksum)
	}

	if bm.corrupt != nil {
		bm.corrupt.MarkCorrupt()
	}
	if block.Verify || sess.QuietCorrupt() {
		return PageHeader{}, errors.Newf(errors.CodeCorruption,
			"%s: read checksum error at offset %d", block.Name, offset)
	}
	return PageHeader{}, errors.Newf(errors.CodePanic, "%s: fatal read error", block.Name)
}

// verify checks the block checksum and, on success, finishes the read:
// decompression and the page-header swap.
func (bm *BlockManager) verify(buf *Buf, swap BlockHeader, size, checksum uint32) (PageHeader, bool) {
	checkSize := uint32(CompressSkip)
	if swap.Flags&BlockDataChecksum != 0 {
		checkSize = size
	}
	ZeroBlockHeaderChecksum(buf.Data)
	if !ChecksumMatch(buf.Data[:checkSize], checksum) {
		// Restore the header for the retry and dump paths.
		EncodeBlockHeader(buf.Data, swap)
		return PageHeader{}, false
	}

	if swap.Flags&BlockCompressed != 0 {
		raw, err := DecompressBlockPayload(bm.compressor, buf.Data, swap.DiskSize)
		if err != nil {
			bm.logger.Error("block decompression failed", "err", err)
			EncodeBlockHeader(buf.Data, swap)
			return PageHeader{}, false
		}
		buf.Set(raw)
	}

	return DecodePageHeader(buf.Data), true
}

// corruptDump logs the offending block in 1KB chunks.
func (bm *BlockManager) corruptDump(buf *Buf, objectID uint32, offset int64, size, checksum uint32) {
	prefix := fmt.Sprintf("{%d: %d, %d, %#x}", objectID, offset, size, checksum)
	if len(buf.Data) == 0 {
		bm.logger.Error(prefix + ": empty buffer, no dump available")
		return
	}

	const chunkSize = 1024
	nchunks := (len(buf.Data) + chunkSize - 1) / chunkSize
	var sb strings.Builder
	chunk := 0
	for i, b := range buf.Data {
		fmt.Fprintf(&sb, "%02x ", b)
		if i+1 == len(buf.Data) || (i+1)%chunkSize == 0 {
			chunk++
			bm.logger.Error(fmt.Sprintf("%s: (chunk %d of %d): %s", prefix, chunk, nchunks, sb.String()))
			sb.Reset()
		}
	}
}

// DumpBlock re-reads the cookie referenced block and dumps it; external
// corruption-reporting API.
func (bm *BlockManager) DumpBlock(sess ReadSession, addr []byte) error {
	tmp := NewBuf(0)
	if _, err := bm.Read(sess, tmp, addr); err != nil {
		return err
	}
	objectID, offset, size, checksum, err := UnpackAddr(addr, bm.block.AllocSize)
	if err != nil {
		return err
	}
	bm.corruptDump(tmp, objectID, offset, size, checksum)
	return nil
}
