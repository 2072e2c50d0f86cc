package config

import (
	"strconv"
	"strings"

	"github.com/emberdb/ember/internal/errors"
)

// Config holds a parsed engine configuration string. Configuration strings
// are comma-separated key=value pairs; values may be a parenthesized group
// of nested pairs, e.g.
//
//	checkpoint=ckpt1,debug=(checkpoint_read_timestamp=1a)
//
// Timestamps are hex-encoded without a 0x prefix.
type Config struct {
	items map[string]item
}

type item struct {
	value string
	sub   *Config
}

// Parse parses a configuration string.
func Parse(s string) (*Config, error) {
	cfg := &Config{items: make(map[string]item)}
	if err := cfg.parse(s); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(s string) error {
	for len(s) > 0 {
		s = strings.TrimLeft(s, ", ")
		if len(s) == 0 {
			break
		}
		eq := strings.IndexAny(s, "=,")
		if eq == -1 {
			// Bare key, boolean true.
			c.items[strings.TrimSpace(s)] = item{value: "true"}
			break
		}
		if s[eq] == ',' {
			c.items[strings.TrimSpace(s[:eq])] = item{value: "true"}
			s = s[eq+1:]
			continue
		}
		key := strings.TrimSpace(s[:eq])
		if key == "" {
			return errors.New(errors.CodeInvalidArgument, "empty configuration key")
		}
		rest := s[eq+1:]
		if strings.HasPrefix(rest, "(") {
			end := matchParen(rest)
			if end == -1 {
				return errors.Newf(errors.CodeInvalidArgument,
					"unbalanced parentheses in configuration value for %q", key)
			}
			sub := &Config{items: make(map[string]item)}
			if err := sub.parse(rest[1:end]); err != nil {
				return err
			}
			c.items[key] = item{sub: sub}
			s = rest[end+1:]
			continue
		}
		end := strings.IndexByte(rest, ',')
		if end == -1 {
			c.items[key] = item{value: strings.TrimSpace(rest)}
			break
		}
		c.items[key] = item{value: strings.TrimSpace(rest[:end])}
		s = rest[end+1:]
	}
	return nil
}

// matchParen returns the index of the parenthesis closing the group that
// opens at s[0], or -1.
func matchParen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Has reports whether the key is present.
func (c *Config) Has(key string) bool {
	_, ok := c.items[key]
	return ok
}

// String returns the string value for key, or def if absent.
func (c *Config) String(key, def string) string {
	it, ok := c.items[key]
	if !ok || it.sub != nil {
		return def
	}
	return it.value
}

// Uint64Hex returns the hex-encoded uint64 value for key. The second return
// is false when the key is absent.
func (c *Config) Uint64Hex(key string) (uint64, bool, error) {
	it, ok := c.items[key]
	if !ok || it.sub != nil {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(it.value, 16, 64)
	if err != nil {
		return 0, false, errors.Newf(errors.CodeInvalidArgument,
			"configuration value %s=%q is not a hex timestamp", key, it.value)
	}
	return v, true, nil
}

// Bool returns the boolean value for key, or def if absent.
func (c *Config) Bool(key string, def bool) bool {
	it, ok := c.items[key]
	if !ok || it.sub != nil {
		return def
	}
	return it.value == "true" || it.value == "1"
}

// Sub returns the nested group for key, or nil if the key is absent or not
// a group.
func (c *Config) Sub(key string) *Config {
	it, ok := c.items[key]
	if !ok {
		return nil
	}
	return it.sub
}
