package permission

import (
	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// MatchAny reports whether name matches any doublestar pattern.
// "files_*" matches every tool of the files provider; "*" matches all.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidPatterns drops malformed patterns, logging each.
func ValidPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			log.Warn().Str("pattern", p).Msg("ignoring invalid permission pattern")
			continue
		}
		out = append(out, p)
	}
	return out
}
