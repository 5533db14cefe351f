package concept

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Verdict is the canonical lowercase answer to a yes/no/unknown question.
type Verdict string

const (
	VerdictTrue    Verdict = "true"
	VerdictFalse   Verdict = "false"
	VerdictUnknown Verdict = "unknown"
)

// ErrInvalidVerdict is returned when generated text is not a recognized verdict.
var ErrInvalidVerdict = errors.New("invalid verdict")

// InvalidVerdictError carries the text that failed to parse.
type InvalidVerdictError struct {
	Raw string
}

func (e *InvalidVerdictError) Error() string {
	raw := e.Raw
	if len(raw) > 80 {
		raw = raw[:80] + "..."
	}
	return fmt.Sprintf("invalid verdict %q: expected true, false, or unknown", raw)
}

func (e *InvalidVerdictError) Unwrap() error {
	return ErrInvalidVerdict
}

// ParseVerdict normalizes generated text to a Verdict. Matching is case
// insensitive and looks only at the first word, ignoring quotes and
// punctuation around it and an optional "Answer:" prefix.
func ParseVerdict(raw string) (Verdict, error) {
	text := strings.TrimSpace(raw)
	if len(text) >= 7 && strings.EqualFold(text[:7], "answer:") {
		text = strings.TrimSpace(text[7:])
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", &InvalidVerdictError{Raw: raw}
	}
	word := strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	switch v := Verdict(strings.ToLower(word)); v {
	case VerdictTrue, VerdictFalse, VerdictUnknown:
		return v, nil
	}
	return "", &InvalidVerdictError{Raw: raw}
}

// Valid reports whether v is one of the three canonical verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictTrue, VerdictFalse, VerdictUnknown:
		return true
	}
	return false
}

func (v Verdict) String() string {
	return string(v)
}
