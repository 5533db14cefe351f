// Package storage persists benchmark and experiment documents under
// slash-separated keys such as "benchmarks/planet". Backends share one
// contract, so the code that produces documents never sees a file path,
// table, or bucket.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Store persists documents. Put overwrites any document already stored
// under the key. Get decodes into doc and returns ErrNotFound for missing
// keys. List returns the keys matching a doublestar pattern, sorted.
type Store interface {
	Put(ctx context.Context, key string, doc any) error
	Get(ctx context.Context, key string, doc any) error
	List(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Key joins parts into a storage key, replacing characters that are not
// safe in every backend with '-'.
func Key(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		segs = append(segs, Slug(p))
	}
	return strings.Join(segs, "/")
}

// Slug maps s onto the key alphabet [A-Za-z0-9._-]. Runs of other
// characters collapse to a single '-'.
func Slug(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(s) {
		if isKeyRune(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			sb.WriteByte('-')
			dash = true
		}
	}
	out := strings.Trim(sb.String(), "-")
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}

// ValidateKey checks that key is a non-empty sequence of non-empty segments
// drawn from the key alphabet, with no "." or ".." segments.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		for _, r := range seg {
			if !isKeyRune(r) {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, r)
			}
		}
	}
	return nil
}

func isKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// matchKeys filters keys by a doublestar pattern and sorts the result.
// An empty pattern matches every key.
func matchKeys(keys []string, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid key pattern %q", pattern)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if doublestar.MatchUnvalidated(pattern, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
