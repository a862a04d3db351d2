// Package fetcherr defines the tagged-variant error taxonomy the core
// distinguishes, replacing raw string-substring error matching everywhere
// outside the config boundary.
package fetcherr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the conceptual error categories the fetch pipeline and its
// callers reason about.
type Kind int

const (
	// KindPermanent means the URL is gone or wrong (HTTP 404).
	KindPermanent Kind = iota
	// KindBlocked means access-denied, a bot challenge, or a blocked-URL match.
	KindBlocked
	// KindRateLimited means HTTP 429 exhausted its retries.
	KindRateLimited
	// KindTimeout means a per-phase timeout was hit.
	KindTimeout
	// KindTransient means a transport error or 5xx exhausted its retries.
	KindTransient
	// KindContentInvalid means a 2xx response failed content triage.
	KindContentInvalid
	// KindConfigError means a missing parser, malformed URL, or bad regex.
	KindConfigError
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindBlocked:
		return "blocked"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindContentInvalid:
		return "content_invalid"
	case KindConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err (which may be nil) under op tagged with kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether the first *Error in err's chain carries the given
// Kind; *Error values wrapped further down are not consulted.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// CooldownRule maps a human-edited substring to the Kind it should be
// treated as. It is the config-boundary representation operators read and
// write; callers should prefer matching on Kind directly once an error has
// been constructed through this package.
type CooldownRule struct {
	Substring string
	Kind      Kind
}

// DefaultCooldownRules is the human-edited substring table, translated
// once into Kind at the config boundary.
func DefaultCooldownRules() []CooldownRule {
	return []CooldownRule{
		{Substring: "HTTP 403", Kind: KindBlocked},
		{Substring: "HTTP 429", Kind: KindRateLimited},
		{Substring: "ReadTimeout", Kind: KindTimeout},
		{Substring: "Blocked or bot challenge detected", Kind: KindBlocked},
		{Substring: "HTTP 404", Kind: KindPermanent},
	}
}

// ClassifyBySubstring maps free text (e.g. a Category.LastError column) to
// a Kind using rules, matching case-insensitively and returning ok=false
// when nothing matches. This is the one place outside config loading that
// still deals in raw substrings; dynamic string-keyed mapping should
// collapse to a typed Kind everywhere else.
func ClassifyBySubstring(text string, rules []CooldownRule) (Kind, bool) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if r.Substring == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(r.Substring)) {
			return r.Kind, true
		}
	}
	return 0, false
}
