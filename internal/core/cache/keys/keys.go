// Package keys builds stable cache keys for backend responses.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Key builds "ms:{collection}:{op}:{hash}" where hash covers the full
// normalized backend query. The collection stays readable so invalidation
// can drop a whole collection by prefix.
func Key(collection, op, query string) string {
	col := sanitize(strings.TrimSpace(collection))
	sum := xxhash.Sum64String(strings.TrimSpace(query))
	return fmt.Sprintf("%s%s:%016x", CollectionPrefix(col), op, sum)
}

// CollectionPrefix is the key prefix shared by every entry of a collection.
func CollectionPrefix(collection string) string {
	return "ms:" + sanitize(strings.TrimSpace(collection)) + ":"
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
