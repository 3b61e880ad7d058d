package docstore

import (
	"strings"

	"github.com/ShayCichocki/arbor/internal/project"
)

const truncationMarker = "\n...[documentation truncated]"

type section struct {
	text string
}

// splitSections splits markdown into a preamble and heading-led sections.
func splitSections(content string) (string, []section) {
	var (
		preamble strings.Builder
		sections []section
		current  *strings.Builder
	)
	for _, line := range strings.SplitAfter(content, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " "), "#") {
			if current != nil {
				sections = append(sections, section{text: current.String()})
			}
			current = &strings.Builder{}
		}
		if current == nil {
			preamble.WriteString(line)
		} else {
			current.WriteString(line)
		}
	}
	if current != nil {
		sections = append(sections, section{text: current.String()})
	}
	return preamble.String(), sections
}

// pathTokens extracts path-like words from text.
func pathTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '`', '"', '\'', '(', ')', '[', ']', '{', '}', ',', ';', ':', '*', '<', '>', '|':
			return true
		}
		return false
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimPrefix(f, "./")
		f = strings.TrimRight(f, "./")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// relevant reports whether a section references a path inside scope or an
// ancestor directory of scope.
func relevant(text, scope string) bool {
	for _, tok := range pathTokens(text) {
		if project.Contains(scope, tok) || project.StrictlyContains(tok, scope) {
			return true
		}
	}
	return false
}

// Excerpt returns the part of the documentation relevant to scope, capped at
// max bytes. The root scope receives the whole document. Other scopes receive
// the preamble plus every section that references a path inside the scope
// or one of its ancestor directories.
func (s *Store) Excerpt(scope string, max int) string {
	return excerpt(s.Snapshot().Content, scope, max)
}

func excerpt(content, scope string, max int) string {
	if scope == "" || scope == "." {
		return capBytes(content, max)
	}

	preamble, sections := splitSections(content)
	var b strings.Builder
	b.WriteString(preamble)
	for _, sec := range sections {
		if relevant(sec.text, scope) {
			b.WriteString(sec.text)
		}
	}
	return capBytes(b.String(), max)
}

func capBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationMarker
}
