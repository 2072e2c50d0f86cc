package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlat(t *testing.T) {
	cfg, err := Parse("read_timestamp=1a,commit_timestamp=ff")
	require.NoError(t, err)

	ts, ok, err := cfg.Uint64Hex("read_timestamp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1a), ts)

	ts, ok, err = cfg.Uint64Hex("commit_timestamp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0xff), ts)

	_, ok, err = cfg.Uint64Hex("durable_timestamp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseNested(t *testing.T) {
	cfg, err := Parse("checkpoint=ckpt1,debug=(checkpoint_read_timestamp=3c)")
	require.NoError(t, err)

	assert.Equal(t, "ckpt1", cfg.String("checkpoint", ""))

	debug := cfg.Sub("debug")
	require.NotNil(t, debug)
	ts, ok, err := debug.Uint64Hex("checkpoint_read_timestamp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0x3c), ts)
}

func TestParseBareKey(t *testing.T) {
	cfg, err := Parse("verify,quiet_corrupt")
	require.NoError(t, err)
	assert.True(t, cfg.Bool("verify", false))
	assert.True(t, cfg.Bool("quiet_corrupt", false))
	assert.False(t, cfg.Bool("checkpoint", false))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("debug=(checkpoint_read_timestamp=3c")
	assert.Error(t, err)

	cfg, err := Parse("read_timestamp=zz")
	require.NoError(t, err)
	_, _, err = cfg.Uint64Hex("read_timestamp")
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse("")
	require.NoError(t, err)
	assert.False(t, cfg.Has("anything"))
}
