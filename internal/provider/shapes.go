package provider

import (
	"encoding/json"
	"strconv"
	"strings"
)

// A textShape recognizes one response layout and extracts the generated
// text from it. Adapters try their shapes in a fixed order.
type textShape struct {
	name  string
	match func(v any) (string, bool)
}

var (
	// {"choices":[{"message":{"content":"..."}}]}
	chatChoiceShape = textShape{"choices.message.content", func(v any) (string, bool) {
		return str(path(v, "choices", 0, "message", "content"))
	}}

	// {"choices":[{"text":"..."}]}
	completionChoiceShape = textShape{"choices.text", func(v any) (string, bool) {
		return str(path(v, "choices", 0, "text"))
	}}

	// {"response":"..."}
	responseShape = textShape{"response", func(v any) (string, bool) {
		return str(path(v, "response"))
	}}

	// {"message":{"content":"..."}}
	messageShape = textShape{"message.content", func(v any) (string, bool) {
		return str(path(v, "message", "content"))
	}}

	// {"generated_text":"..."}
	generatedTextShape = textShape{"generated_text", func(v any) (string, bool) {
		return str(path(v, "generated_text"))
	}}

	// [{"generated_text":"..."}]
	generatedTextListShape = textShape{"[].generated_text", func(v any) (string, bool) {
		return str(path(v, 0, "generated_text"))
	}}
)

// matchText decodes body and returns the text of the first matching shape.
func matchText(provider string, body []byte, shapes ...textShape) (string, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", newError(provider, ErrInvalidResponseShape, "response is not valid JSON", err)
	}
	for _, s := range shapes {
		text, ok := s.match(v)
		if !ok {
			continue
		}
		if strings.TrimSpace(text) == "" {
			return "", newError(provider, ErrInvalidResponseShape, "empty text in "+s.name, nil)
		}
		return text, nil
	}
	return "", newError(provider, ErrInvalidResponseShape, "unrecognized response shape", nil)
}

// A predictionShape recognizes one classifier response layout.
type predictionShape struct {
	name  string
	match func(v any) (*Prediction, bool)
}

var (
	labelKeys      = []string{"prediction", "predicted_class", "class", "label"}
	confidenceKeys = []string{"confidence", "score", "probability"}
)

var (
	// {"prediction":"acne","confidence":0.82}
	flatPredictionShape = predictionShape{"flat", func(v any) (*Prediction, bool) {
		if _, ok := v.(map[string]any); !ok {
			return nil, false
		}
		return entryPrediction(v)
	}}

	// {"predictions":[{"label":"acne","confidence":0.82}, ...]}
	nestedPredictionShape = predictionShape{"predictions[]", func(v any) (*Prediction, bool) {
		list, ok := path(v, "predictions").([]any)
		if !ok {
			return nil, false
		}
		return topPrediction(list)
	}}

	// [{"label":"acne","score":0.82}, ...]
	rankedListShape = predictionShape{"[]", func(v any) (*Prediction, bool) {
		list, ok := v.([]any)
		if !ok {
			return nil, false
		}
		return topPrediction(list)
	}}
)

// matchPrediction decodes body and returns the first matching prediction.
func matchPrediction(provider string, body []byte, shapes ...predictionShape) (*Prediction, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, newError(provider, ErrInvalidResponseShape, "response is not valid JSON", err)
	}
	for _, s := range shapes {
		if p, ok := s.match(v); ok {
			return p, nil
		}
	}
	return nil, newError(provider, ErrInvalidResponseShape, "unrecognized prediction shape", nil)
}

func entryPrediction(v any) (*Prediction, bool) {
	var label string
	for _, k := range labelKeys {
		if s, ok := str(path(v, k)); ok && strings.TrimSpace(s) != "" {
			label = s
			break
		}
	}
	if label == "" {
		return nil, false
	}
	for _, k := range confidenceKeys {
		if f, ok := number(path(v, k)); ok {
			return &Prediction{Label: label, Confidence: f}, true
		}
	}
	return nil, false
}

// topPrediction picks the highest-confidence entry of a list.
func topPrediction(list []any) (*Prediction, bool) {
	var best *Prediction
	for _, item := range list {
		p, ok := entryPrediction(item)
		if !ok {
			continue
		}
		if best == nil || p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, best != nil
}

// path walks decoded JSON by object key (string) or array index (int).
func path(v any, steps ...any) any {
	for _, step := range steps {
		switch s := step.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[s]
		case int:
			a, ok := v.([]any)
			if !ok || s >= len(a) {
				return nil
			}
			v = a[s]
		}
	}
	return v
}

func str(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// number accepts JSON numbers and numeric strings such as "87.5" or "87.5%".
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		return f, err == nil
	}
	return 0, false
}
