// Package fault defines the error taxonomy shared by the engine.
//
// Every rejection produced while validating or dispatching an action is a
// *Error with one of five kinds. All kinds are recoverable: the engine
// re-prompts, propagates or escalates, and only a human-confirmed
// termination ends a run normally.
package fault

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/arbor/pkg/models"
)

// Kind classifies an engine error.
type Kind string

const (
	// KindParse is a malformed or multi-action payload.
	KindParse Kind = "parse_error"
	// KindPermission is an action outside the caller's capability set.
	KindPermission Kind = "permission_error"
	// KindTimeout is a command that exceeded its timeout.
	KindTimeout Kind = "timeout_error"
	// KindChildFailure is a delegated subtree that reported failure.
	KindChildFailure Kind = "child_failure"
	// KindUntrustedRefusal is the oracle claiming an allowed action is impossible.
	KindUntrustedRefusal Kind = "untrusted_refusal"
)

// Remedy returns the corrective instruction fed back to the worker.
func (k Kind) Remedy() string {
	switch k {
	case KindParse:
		return "Respond with exactly one JSON action object and nothing else."
	case KindPermission:
		return "Choose an action from your allowed set."
	case KindTimeout:
		return "The command may contain an infinite loop. Split it into smaller invocations; unbounded timeouts are never granted for tests or verification."
	case KindChildFailure:
		return "A child reported failure. Inspect its report, then re-delegate with a corrected instruction or spawn a diagnostician."
	case KindUntrustedRefusal:
		return "That action is available to you. Reissue it as a JSON action."
	default:
		return ""
	}
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	// Op is the verb or operation that failed.
	Op string
	Msg string
	// Allowed is set on permission errors to the caller's capability set.
	Allowed []models.Verb
	// Report is set on child failures.
	Report *models.Report
	// Result is set on timeouts to the partial command result.
	Result *models.CommandResult
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Corrective renders the message shown to the worker on its next turn.
func (e *Error) Corrective() string {
	var b strings.Builder
	b.WriteString("Rejected (")
	b.WriteString(string(e.Kind))
	b.WriteString("): ")
	b.WriteString(e.Error())
	b.WriteString(". ")
	b.WriteString(e.Kind.Remedy())
	if len(e.Allowed) > 0 {
		names := make([]string, len(e.Allowed))
		for i, v := range e.Allowed {
			names[i] = string(v)
		}
		b.WriteString(" Allowed actions: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// Parsef creates a parse error.
func Parsef(format string, args ...any) *Error {
	return &Error{Kind: KindParse, Msg: fmt.Sprintf(format, args...)}
}

// Permissionf creates a permission error for op.
func Permissionf(op string, format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Refusal creates an untrusted refusal error quoting the oracle's text.
func Refusal(text string) *Error {
	return &Error{Kind: KindUntrustedRefusal, Msg: fmt.Sprintf("oracle claimed incapacity: %q", text)}
}

// Timeout creates a timeout error carrying the partial result.
func Timeout(result *models.CommandResult) *Error {
	msg := "command exceeded its timeout, possible infinite loop"
	if result != nil {
		msg = fmt.Sprintf("%q exceeded its timeout after %s, possible infinite loop", result.Command, result.Elapsed.Round(time.Millisecond))
	}
	return &Error{Kind: KindTimeout, Op: string(models.VerbExecute), Msg: msg, Result: result}
}

// ChildFailure creates a child failure error carrying the child's report.
func ChildFailure(childID string, report *models.Report) *Error {
	msg := "child " + childID + " reported failure"
	if report != nil && report.Summary != "" {
		msg += ": " + report.Summary
	}
	return &Error{Kind: KindChildFailure, Op: string(models.VerbWait), Msg: msg, Report: report}
}

// WithAllowed attaches the caller's capability set and returns e.
func (e *Error) WithAllowed(allowed []models.Verb) *Error {
	e.Allowed = append([]models.Verb(nil), allowed...)
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" if err is not a classified error.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Recoverable reports whether err belongs to the taxonomy, which the engine
// always answers by re-prompting, propagating or escalating.
func Recoverable(err error) bool {
	return KindOf(err) != ""
}
