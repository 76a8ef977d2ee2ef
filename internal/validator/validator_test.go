package validator_test

import (
	"math"
	"testing"

	"github.com/skinsight/skinsight/internal/validator"
)

var labels = []string{"Acne", "Eczema", "Psoriasis", "Melanoma", "Basal Cell Carcinoma", "Rosacea"}

func TestRescaleConfidence_AlwaysInUnitRange(t *testing.T) {
	inputs := []float64{-5, 0, 0.05, 0.5, 1, 1.0001, 15, 50, 99.9, 100, 250, 1e9, math.Inf(1), math.NaN()}
	for _, c := range inputs {
		got := validator.RescaleConfidence(c)
		if got < 0 || got > 1 || got != got {
			t.Errorf("RescaleConfidence(%v) = %v, want value in [0,1]", c, got)
		}
	}

	if got := validator.RescaleConfidence(87.5); math.Abs(got-0.875) > 1e-9 {
		t.Errorf("RescaleConfidence(87.5) = %v, want 0.875", got)
	}
	if got := validator.RescaleConfidence(0.42); got != 0.42 {
		t.Errorf("RescaleConfidence(0.42) = %v, want unchanged", got)
	}
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Acne", "acne"},
		{"  ACNE  ", "acne"},
		{"acne!", "acne"},
		{"Basal Cell Carcinoma", "basalcellcarcinoma"},
		{"basal_cell-carcinoma", "basalcellcarcinoma"},
		{"Eczéma", "eczema"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := validator.NormalizeLabel(tt.in); got != tt.want {
			t.Errorf("NormalizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeLabel_Idempotent(t *testing.T) {
	for _, l := range append(labels, "Eczéma (atopic)", "  MELANOMA!! ", "tinea_corporis-2") {
		once := validator.NormalizeLabel(l)
		if twice := validator.NormalizeLabel(once); twice != once {
			t.Errorf("normalize(normalize(%q)) = %q, want %q", l, twice, once)
		}
	}
}

func TestWhitelist_AcceptsVariants(t *testing.T) {
	v := validator.New(0.15, labels)
	for _, l := range labels {
		for _, variant := range []string{l, " " + l + " ", "  " + l + "!!", upper(l), "**" + l + "**"} {
			r := v.Validate(variant, 0.9, nil)
			if !r.Accepted() {
				t.Errorf("Validate(%q) verdict = %s, want accepted", variant, r.Verdict)
			}
		}
	}
}

func TestWhitelist_SubstringMatch(t *testing.T) {
	v := validator.New(0.15, labels)

	if r := v.Validate("acne_vulgaris", 0.6, nil); !r.Accepted() || r.Label != "acne" {
		t.Errorf("label containing entry = %s/%q, want accepted/acne", r.Verdict, r.Label)
	}
	if r := v.Validate("carcinoma", 0.6, nil); !r.Accepted() || r.Label != "basalcellcarcinoma" {
		t.Errorf("label contained in entry = %s/%q, want accepted/basalcellcarcinoma", r.Verdict, r.Label)
	}
	if r := v.Validate("warts", 0.9, nil); r.Verdict != validator.UnrecognizedLabel {
		t.Errorf("unknown label verdict = %s, want unrecognized_label", r.Verdict)
	}
	if r := v.Validate("???", 0.9, nil); r.Verdict != validator.UnrecognizedLabel {
		t.Errorf("empty normalized label verdict = %s, want unrecognized_label", r.Verdict)
	}
}

func TestWhitelist_RejectsShortFragments(t *testing.T) {
	v := validator.New(0.15, append(labels, "Cellulitis"))
	for _, frag := range []string{"a", "e", "ec", "cell", "acn"} {
		if r := v.Validate(frag, 0.9, nil); r.Verdict != validator.UnrecognizedLabel {
			t.Errorf("Validate(%q) = %s/%q, want unrecognized_label", frag, r.Verdict, r.Label)
		}
	}
}

func TestWhitelist_AmbiguousFragment(t *testing.T) {
	v := validator.New(0.15, []string{"atopic dermatitis", "contact dermatitis", "seborrheic keratosis"})
	if r := v.Validate("dermatitis", 0.9, nil); r.Verdict != validator.UnrecognizedLabel {
		t.Errorf("fragment of two entries = %s/%q, want unrecognized_label", r.Verdict, r.Label)
	}
	if entry, ok := v.Match("seborrheickeratosi"); !ok || entry != "seborrheickeratosis" {
		t.Errorf("Match() = %q, %v", entry, ok)
	}
}

func TestNew_Threshold(t *testing.T) {
	if v := validator.New(-1, labels); v.Threshold() != validator.DefaultThreshold {
		t.Errorf("negative threshold = %v, want default", v.Threshold())
	}
	v := validator.New(0, labels)
	if v.Threshold() != 0 {
		t.Fatalf("zero threshold = %v, want 0", v.Threshold())
	}
	if r := v.Validate("acne", 0.01, nil); !r.Accepted() {
		t.Errorf("zero threshold should accept any confidence, got %s", r.Verdict)
	}
}

func TestValidate_Outcomes(t *testing.T) {
	v := validator.New(-1, labels)
	if v.Threshold() != validator.DefaultThreshold {
		t.Fatalf("Threshold() = %v, want default", v.Threshold())
	}

	low := v.Validate("Acne", 0.05, nil)
	if low.Verdict != validator.BelowThreshold {
		t.Errorf("0.05 verdict = %s, want below_threshold", low.Verdict)
	}
	if low.RawLabel != "Acne" || low.Label != "acne" {
		t.Errorf("below-threshold result should surface the label, got %q/%q", low.RawLabel, low.Label)
	}
	if low.Severity != "" {
		t.Errorf("rejected result has severity %q", low.Severity)
	}

	mid := v.Validate("acne", 0.5, nil)
	if !mid.Accepted() || mid.Severity != validator.SeverityModerate {
		t.Errorf("0.5 acne = %s/%s, want accepted/moderate", mid.Verdict, mid.Severity)
	}

	high := v.Validate("melanoma", 0.95, nil)
	if high.Severity != validator.SeveritySevere {
		t.Errorf("0.95 severity = %s, want severe", high.Severity)
	}

	pct := v.Validate("eczema", 10, nil)
	if pct.Verdict != validator.BelowThreshold || pct.Confidence != 0.1 {
		t.Errorf("percentage 10 should rescale to 0.1 and be rejected, got %s/%v", pct.Verdict, pct.Confidence)
	}
}

func TestValidate_ThresholdBeforeWhitelist(t *testing.T) {
	v := validator.New(0.15, labels)
	r := v.Validate("warts", 0.01, nil)
	if r.Verdict != validator.BelowThreshold {
		t.Errorf("verdict = %s, want below_threshold to take precedence", r.Verdict)
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		c    float64
		want validator.Severity
	}{
		{0, validator.SeverityMild},
		{0.39, validator.SeverityMild},
		{0.4, validator.SeverityModerate},
		{0.69, validator.SeverityModerate},
		{0.7, validator.SeveritySevere},
		{1, validator.SeveritySevere},
	}
	for _, tt := range tests {
		if got := validator.SeverityFor(tt.c); got != tt.want {
			t.Errorf("SeverityFor(%v) = %s, want %s", tt.c, got, tt.want)
		}
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
