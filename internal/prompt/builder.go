// Package prompt renders structured condition context into the text prompt
// sent to generation backends.
package prompt

import (
	"fmt"
	"strings"
)

// Disclaimer is appended verbatim to every prompt.
const Disclaimer = "This information is for educational purposes only and is not a substitute for professional medical advice; always consult a qualified healthcare professional or dermatologist for diagnosis and treatment."

// SystemPrompt is the role instruction for chat-style backends.
const SystemPrompt = "You are a careful dermatology information assistant. You explain skin conditions in clear, plain language, never give a definitive diagnosis, and always encourage professional evaluation."

// TargetWords is the length requested from the backend. It is an
// instruction only; responses are not truncated.
const TargetWords = 350

const notProvided = "Not provided"

// urgentDirective is prepended for high-risk conditions.
const urgentDirective = "URGENT: This condition can be serious or life-threatening. Begin your response by clearly advising the person to seek prompt in-person evaluation by a doctor or dermatologist, before any other information."

// highRisk conditions trigger the urgency override when contained
// (case-insensitively) in the condition name.
var highRisk = []string{
	"melanoma",
	"carcinoma",
	"skin cancer",
	"squamous cell",
	"basal cell",
	"merkel cell",
	"cellulitis",
	"necrotizing",
	"stevens-johnson",
	"toxic epidermal necrolysis",
	"anaphylaxis",
	"angioedema",
	"meningococcal",
}

// Sections lists the headings the response must contain, in order.
var Sections = []string{
	"Overview",
	"Common Causes",
	"Typical Symptoms",
	"Safe Home Care",
	"Professional Treatment Options",
	"Red Flags: When to Seek Medical Help",
	"Prevention",
}

// Input is the structured context for one advice request.
type Input struct {
	Condition  string
	Symptoms   string
	Severity   string
	Duration   string
	Confidence *float64
}

// IsUrgent reports whether condition names a high-risk condition.
func IsUrgent(condition string) bool {
	c := strings.ToLower(condition)
	for _, term := range highRisk {
		if strings.Contains(c, term) {
			return true
		}
	}
	return false
}

// Build renders the prompt. It is a pure function of its input.
func Build(in Input) string {
	var b strings.Builder

	condition := strings.TrimSpace(in.Condition)
	urgent := IsUrgent(condition)

	if urgent {
		b.WriteString(urgentDirective)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Provide patient-friendly information about the skin condition \"%s\".\n\n", condition)

	b.WriteString("Patient context:\n")
	fmt.Fprintf(&b, "- Condition: %s\n", condition)
	fmt.Fprintf(&b, "- Reported symptoms: %s\n", orNotProvided(in.Symptoms))
	fmt.Fprintf(&b, "- Severity: %s\n", orNotProvided(in.Severity))
	fmt.Fprintf(&b, "- Duration: %s\n", orNotProvided(in.Duration))
	fmt.Fprintf(&b, "- Model confidence: %s\n\n", formatConfidence(in.Confidence))

	b.WriteString("Structure the response with these sections:\n")
	for i, s := range Sections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Keep the response to about %d words, use simple language, and do not state a definitive diagnosis.\n", TargetWords)
	if urgent {
		b.WriteString("Lead with the urgent-attention advice above.\n")
	}

	b.WriteString("\nEnd with this exact sentence: ")
	b.WriteString(Disclaimer)

	return b.String()
}

func orNotProvided(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return notProvided
	}
	return s
}

// formatConfidence renders a fraction (or a percentage above 1) as "NN%".
func formatConfidence(c *float64) string {
	if c == nil {
		return notProvided
	}
	v := *c
	if v <= 1 {
		v *= 100
	}
	return fmt.Sprintf("%.0f%%", v)
}
