package storage

import (
	"io"
	"os"

	"github.com/emberdb/ember/internal/errors"
	"github.com/emberdb/ember/internal/log"
)

// File is the read surface a block needs from its underlying object.
type File interface {
	io.ReaderAt
	Close() error
}

// Block is a handle on one underlying object: a file plus the metadata
// needed to read and verify its blocks.
type Block struct {
	Name      string
	ObjectID  uint32
	AllocSize uint32

	// Verify turns checksum failures into recoverable errors instead of
	// a fatal panic.
	Verify bool

	fh     File
	logger log.Logger

	// DiscardHint, when set, is called after each successful read to let
	// the OS drop the bytes from its page cache.
	DiscardHint func(size int64)
}

// NewBlock wraps an open file as a block handle.
func NewBlock(name string, objectID, allocSize uint32, fh File) *Block {
	return &Block{
		Name:      name,
		ObjectID:  objectID,
		AllocSize: allocSize,
		fh:        fh,
		logger:    log.Default().With("block", name),
	}
}

// OpenBlock opens the file at path as a block handle.
func OpenBlock(name, path string, objectID, allocSize uint32) (*Block, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIO, "open block object "+path, err)
	}
	return NewBlock(name, objectID, allocSize, fh), nil
}

// readAt reads len(buf) bytes at offset.
func (b *Block) readAt(buf []byte, offset int64) error {
	if _, err := b.fh.ReadAt(buf, offset); err != nil {
		return errors.Wrap(errors.CodeIO, "block read failed", err).
			WithDetailf("%s: offset %d, size %d", b.Name, offset, len(buf))
	}
	return nil
}

// Close releases the underlying file.
func (b *Block) Close() error {
	if b.fh == nil {
		return nil
	}
	err := b.fh.Close()
	b.fh = nil
	return err
}
