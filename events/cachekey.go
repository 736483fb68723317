package events

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/nathanvale/side-quest-git-sub001/config"
)

const (
	// cacheKeyHashLen is the number of hex digits of the path hash kept in a key.
	cacheKeyHashLen = 12
	// maxKeyNameLen caps the readable part of a key.
	maxKeyNameLen = 40
)

// CacheKey derives the discovery key for a repository root: the sanitized
// basename followed by a hash of the full normalized path. Two repositories
// that share a basename get different keys, and every spelling of one root
// (relative, trailing slash, through a symlink) gets the same key.
func CacheKey(repoRoot string) string {
	normalized := config.NormalizePath(repoRoot)
	sum := sha256.Sum256([]byte(normalized))
	return sanitizeKeyName(filepath.Base(normalized)) + "-" + hex.EncodeToString(sum[:])[:cacheKeyHashLen]
}

// sanitizeKeyName keeps [A-Za-z0-9._-], collapses everything else into
// single dashes, and never returns an empty or dot-only name.
func sanitizeKeyName(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-'
		if ok {
			b.WriteRune(r)
			lastDash = r == '-'
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-.")
	if len(out) > maxKeyNameLen {
		out = strings.TrimRight(out[:maxKeyNameLen], "-.")
	}
	if out == "" {
		return "repo"
	}
	return out
}
