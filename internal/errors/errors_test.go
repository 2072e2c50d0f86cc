package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeMatching(t *testing.T) {
	err := New(CodeNotFound, "key not found")
	assert.Equal(t, CodeNotFound, ErrCode(err))
	assert.True(t, IsCode(err, CodeNotFound))
	assert.False(t, IsCode(err, CodeRollback))

	// Codes survive wrapping.
	wrapped := fmt.Errorf("cursor step: %w", err)
	assert.Equal(t, CodeNotFound, ErrCode(wrapped))
	assert.True(t, IsCode(wrapped, CodeNotFound))
}

func TestErrorDetail(t *testing.T) {
	err := Newf(CodeCorruption, "checksum error at offset %d", 4096).
		WithDetail("block test.ember")
	assert.Contains(t, err.Error(), "CORRUPTION")
	assert.Contains(t, err.Error(), "offset 4096")
	assert.Contains(t, err.Error(), "block test.ember")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("short read")
	err := Wrap(CodeIO, "block read failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsCode(err, CodeIO))
}

func TestAbort(t *testing.T) {
	err := Abortf("commit timestamp %d is before the prepare timestamp %d", 60, 62)
	assert.True(t, IsAbort(err))
	assert.Contains(t, err.Error(), "transaction abort")

	assert.False(t, IsAbort(New(CodeRollback, "conflict")))
	assert.False(t, IsAbort(nil))
}
