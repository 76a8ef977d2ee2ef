// Package validator enforces acceptance rules on classifier predictions:
// confidence rescaling, the confidence threshold, the label whitelist and
// severity derivation.
package validator

import (
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the minimum accepted confidence.
const DefaultThreshold = 0.15

// Severity is derived from confidence for accepted results.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Verdict is the validator's decision.
type Verdict string

const (
	Accepted          Verdict = "accepted"
	BelowThreshold    Verdict = "below_threshold"
	UnrecognizedLabel Verdict = "unrecognized_label"
)

// Result is a validated classification.
type Result struct {
	Verdict    Verdict
	Label      string // normalized; the matched whitelist entry when accepted
	RawLabel   string // as reported by the backend
	Confidence float64
	Severity   Severity // set only when Verdict == Accepted
	Raw        json.RawMessage
}

// Accepted reports whether the result passed every check.
func (r *Result) Accepted() bool { return r.Verdict == Accepted }

// Validator holds the deployment's threshold and label whitelist.
type Validator struct {
	threshold float64
	labels    []string // normalized, non-empty
}

// New creates a validator. A threshold of zero accepts any confidence; a
// negative or NaN threshold selects DefaultThreshold.
func New(threshold float64, labels []string) *Validator {
	if threshold < 0 || threshold != threshold {
		threshold = DefaultThreshold
	}
	v := &Validator{threshold: threshold}
	for _, l := range labels {
		if n := NormalizeLabel(l); n != "" {
			v.labels = append(v.labels, n)
		}
	}
	return v
}

// Threshold returns the configured minimum confidence.
func (v *Validator) Threshold() float64 { return v.threshold }

// Labels returns the normalized whitelist.
func (v *Validator) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

// Validate applies, in order: rescale, threshold, whitelist, severity.
func (v *Validator) Validate(label string, confidence float64, raw json.RawMessage) *Result {
	r := &Result{
		Label:      NormalizeLabel(label),
		RawLabel:   label,
		Confidence: RescaleConfidence(confidence),
		Raw:        raw,
	}

	if r.Confidence < v.threshold {
		r.Verdict = BelowThreshold
		return r
	}
	entry, ok := v.Match(r.Label)
	if !ok {
		r.Verdict = UnrecognizedLabel
		return r
	}

	r.Verdict = Accepted
	r.Label = entry
	r.Severity = SeverityFor(r.Confidence)
	return r
}

// minFragment is the shortest label accepted as a fragment of an entry.
const minFragment = 4

// Match returns the whitelist entry a normalized label resolves to. In order:
// an exact match; the longest entry the label contains; a fragment of exactly
// one entry that is at least minFragment long and covers at least half of
// it. The empty label never matches.
func (v *Validator) Match(normalized string) (string, bool) {
	if normalized == "" {
		return "", false
	}

	best := ""
	for _, l := range v.labels {
		if normalized == l {
			return l, true
		}
		if strings.Contains(normalized, l) && len(l) > len(best) {
			best = l
		}
	}
	if best != "" {
		return best, true
	}

	if len(normalized) < minFragment {
		return "", false
	}
	found := ""
	for _, l := range v.labels {
		if strings.Contains(l, normalized) && 2*len(normalized) >= len(l) {
			if found != "" && found != l {
				return "", false // ambiguous
			}
			found = l
		}
	}
	return found, found != ""
}

// RescaleConfidence converts percentages (> 1) to fractions and clamps the
// result to [0, 1].
func RescaleConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// SeverityFor maps a fractional confidence to a severity tier.
func SeverityFor(c float64) Severity {
	switch {
	case c >= 0.7:
		return SeveritySevere
	case c >= 0.4:
		return SeverityModerate
	default:
		return SeverityMild
	}
}

// NormalizeLabel trims, strips diacritics, lower-cases and drops every
// non-alphanumeric rune. It is idempotent.
func NormalizeLabel(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.TrimSpace(s)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
