package storage

import (
	"encoding/binary"

	"github.com/emberdb/ember/internal/errors"
)

// An address cookie is the opaque byte handle referring to a block on
// stable storage. It packs (objectID, offset, size, checksum); offset and
// size are stored in allocation-size units so typical cookies stay short.

// MaxAddrSize is the largest possible packed cookie.
const MaxAddrSize = 4 * binary.MaxVarintLen64

// PackAddr packs an address cookie.
func PackAddr(objectID uint32, offset int64, size, checksum uint32, allocSize uint32) []byte {
	buf := make([]byte, MaxAddrSize)
	n := binary.PutUvarint(buf, uint64(objectID))
	n += binary.PutUvarint(buf[n:], uint64(offset)/uint64(allocSize))
	n += binary.PutUvarint(buf[n:], uint64(size)/uint64(allocSize))
	n += binary.PutUvarint(buf[n:], uint64(checksum))
	return buf[:n]
}

// UnpackAddr unpacks an address cookie packed by PackAddr.
func UnpackAddr(addr []byte, allocSize uint32) (objectID uint32, offset int64, size, checksum uint32, err error) {
	vals := make([]uint64, 4)
	for i := range vals {
		v, n := binary.Uvarint(addr)
		if n <= 0 {
			return 0, 0, 0, 0, errors.New(errors.CodeInvalidArgument, "malformed address cookie")
		}
		vals[i] = v
		addr = addr[n:]
	}
	if len(addr) != 0 {
		return 0, 0, 0, 0, errors.New(errors.CodeInvalidArgument, "trailing bytes in address cookie")
	}
	objectID = uint32(vals[0])
	offset = int64(vals[1] * uint64(allocSize))
	size = uint32(vals[2] * uint64(allocSize))
	checksum = uint32(vals[3])
	return objectID, offset, size, checksum, nil
}
