package protect

import (
	"path/filepath"
	"regexp"
	"strings"
)

// ContentProfile counts the kinds of lines in a source file.
type ContentProfile struct {
	Imports     int
	Definitions int
	Other       int
}

// DefinitionRatio is the share of non-blank, non-comment lines that open a
// new function, type or class.
func (p ContentProfile) DefinitionRatio() float64 {
	total := p.Imports + p.Definitions + p.Other
	if total == 0 {
		return 0
	}
	return float64(p.Definitions) / float64(total)
}

type languageRules struct {
	imports     []*regexp.Regexp
	definitions []*regexp.Regexp
	comment     string
}

var rulesByLanguage = map[string]languageRules{
	"go": {
		imports:     compileAll(`^import\b`, `^"[^"]+"$`, `^\w+ "[^"]+"$`),
		definitions: compileAll(`^func\b`, `^type\s+\w+\s+(struct|interface)\b`),
		comment:     "//",
	},
	"python": {
		imports:     compileAll(`^import\s`, `^from\s+\S+\s+import\s`),
		definitions: compileAll(`^(async\s+)?def\s`, `^class\s`),
		comment:     "#",
	},
	"javascript": {
		imports:     compileAll(`^import\s`, `require\(`),
		definitions: compileAll(`^(export\s+)?(async\s+)?function\b`, `^(export\s+)?class\s`),
		comment:     "//",
	},
	"shell": {
		definitions: compileAll(`^\w+\s*\(\)\s*\{`, `^function\s+\w+`),
		comment:     "#",
	},
}

// Profile classifies the lines of content according to the language implied
// by name's extension. Unknown languages produce an empty profile.
func Profile(name, content string) ContentProfile {
	var profile ContentProfile
	rules, ok := rulesByLanguage[detectLanguage(name)]
	if !ok {
		return profile
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, rules.comment) || trimmed == ")" || trimmed == "(" {
			continue
		}
		switch {
		case matchesAny(rules.imports, trimmed):
			profile.Imports++
		case matchesAny(rules.definitions, trimmed):
			profile.Definitions++
		default:
			profile.Other++
		}
	}
	return profile
}

// detectLanguage determines the language from the file extension.
func detectLanguage(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".ts", ".tsx", ".js", ".jsx", ".mjs":
		return "javascript"
	case ".sh", ".bash":
		return "shell"
	default:
		return ""
	}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
