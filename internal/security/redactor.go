package security

import (
	"fmt"
	"regexp"
)

type piiFilter struct {
	name        string
	pattern     *regexp.Regexp
	placeholder string
}

// Order matters: card and ip numbers would otherwise be taken for phones.
var piiFilters = []piiFilter{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{"card", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "[CARD]"},
	{"ip", regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{"phone", regexp.MustCompile(`(?:\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`), "[PHONE]"},
}

// Redactor masks personal data in player messages before they are recorded
// in the history, the transcript or a completion request. Masking is one-way.
type Redactor struct {
	filters []piiFilter
}

// NewRedactor enables the named filters: email, card, ip, ssn, phone.
// No names yields a Redactor that changes nothing.
func NewRedactor(names []string) (*Redactor, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	r := &Redactor{}
	for _, f := range piiFilters {
		if want[f.name] {
			r.filters = append(r.filters, f)
			delete(want, f.name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("unknown pii filter %q", n)
	}
	return r, nil
}

// Enabled reports whether any filter is active.
func (r *Redactor) Enabled() bool {
	return r != nil && len(r.filters) > 0
}

// Redact replaces every match of the enabled filters with its placeholder.
func (r *Redactor) Redact(text string) string {
	if !r.Enabled() {
		return text
	}
	for _, f := range r.filters {
		text = f.pattern.ReplaceAllString(text, f.placeholder)
	}
	return text
}
