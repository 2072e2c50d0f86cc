package storage

import "hash/crc32"

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32-C checksum of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// ChecksumMatch reports whether data checksums to sum.
func ChecksumMatch(data []byte, sum uint32) bool {
	return Checksum(data) == sum
}
