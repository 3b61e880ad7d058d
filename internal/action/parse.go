// Package action parses and validates the single action a worker takes per
// turn. Oracle output is untrusted: anything other than one well-formed JSON
// object naming a known verb is rejected with a parse error, and free text
// claiming incapacity is rejected as an untrusted refusal.
package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

var refusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI\s+(cannot|can't|can not|am unable to|am not able to)\b`),
	regexp.MustCompile(`(?i)\bI'm\s+(unable|not able)\b`),
	regexp.MustCompile(`(?i)\b(unable|not able) to (execute|run|access|write|read|delegate|perform)\b`),
	regexp.MustCompile(`(?i)\bI (don't|do not) have (access|the ability|permission)\b`),
}

// Parse decodes raw oracle output into exactly one action.
func Parse(raw string) (*models.Action, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fault.Parsef("empty response")
	}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	switch text[0] {
	case '{':
	case '[':
		return nil, fault.Parsef("got a JSON array; exactly one action per turn is allowed")
	default:
		if isRefusal(text) {
			return nil, fault.Refusal(clip(text, 200))
		}
		return nil, fault.Parsef("response is not a JSON action object")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	var a models.Action
	if err := dec.Decode(&a); err != nil {
		if strings.Contains(err.Error(), `unknown field "actions"`) {
			return nil, fault.Parsef("an \"actions\" list is not allowed; send one action per turn")
		}
		return nil, &fault.Error{Kind: fault.KindParse, Msg: "decode action", Err: err}
	}
	if err := ensureEOF(dec); err != nil {
		return nil, err
	}

	if a.Verb == "" {
		return nil, fault.Parsef("missing \"action\" field")
	}
	if !a.Verb.Valid() {
		return nil, fault.Parsef("unknown action %q", a.Verb)
	}
	return &a, nil
}

// ensureEOF rejects a second JSON value after the first.
func ensureEOF(dec *json.Decoder) error {
	var extra json.RawMessage
	err := dec.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil || len(bytes.TrimSpace(extra)) > 0 {
		return fault.Parsef("multiple JSON values; exactly one action per turn is allowed")
	}
	return fault.Parsef("trailing data after action")
}

func isRefusal(text string) bool {
	for _, re := range refusalPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
