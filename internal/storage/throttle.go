package storage

import "sync/atomic"

// ThrottleKind distinguishes the I/O direction reported to the capacity
// throttle.
type ThrottleKind int

const (
	ThrottleRead ThrottleKind = iota
	ThrottleWrite
)

// CapacityThrottle is informed of I/O traffic before it is issued so an
// external capacity manager can pace the caller.
type CapacityThrottle interface {
	Throttle(bytes int64, kind ThrottleKind)
}

// CapacityAccountant is the default throttle: it accounts traffic without
// pacing.
type CapacityAccountant struct {
	readBytes  atomic.Int64
	writeBytes atomic.Int64
}

// NewCapacityAccountant returns a new accountant.
func NewCapacityAccountant() *CapacityAccountant {
	return &CapacityAccountant{}
}

// Throttle implements CapacityThrottle.
func (c *CapacityAccountant) Throttle(bytes int64, kind ThrottleKind) {
	switch kind {
	case ThrottleRead:
		c.readBytes.Add(bytes)
	case ThrottleWrite:
		c.writeBytes.Add(bytes)
	}
}

// ReadBytes returns the total read traffic reported so far.
func (c *CapacityAccountant) ReadBytes() int64 {
	return c.readBytes.Load()
}

// WriteBytes returns the total write traffic reported so far.
func (c *CapacityAccountant) WriteBytes() int64 {
	return c.writeBytes.Load()
}
