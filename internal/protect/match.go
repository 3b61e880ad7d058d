package protect

import (
	"path"
	"strings"
)

// Match reports whether the slash-separated path matches pattern. Segments
// use path.Match syntax; a "**" segment matches zero or more segments.
func Match(p, pattern string) bool {
	return matchGlobPattern(p, pattern)
}

func matchGlobPattern(p, pattern string) bool {
	return matchParts(strings.Split(p, "/"), strings.Split(pattern, "/"))
}

func matchParts(segments, pattern []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}

	if pattern[0] == "**" {
		rest := pattern[1:]
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(segments); i++ {
			if matchParts(segments[i:], rest) {
				return true
			}
		}
		return false
	}

	if len(segments) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segments[0])
	if err != nil || !ok {
		return false
	}
	return matchParts(segments[1:], pattern[1:])
}
