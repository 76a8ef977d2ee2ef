package provider

import (
	"fmt"
	"net/http"
)

// New builds the adapter for a descriptor's kind.
func New(desc Descriptor, client *http.Client) (Adapter, error) {
	if desc.Name == "" {
		desc.Name = string(desc.Kind)
	}
	switch desc.Kind {
	case KindOpenAI:
		return NewOpenAI(desc, client), nil
	case KindHuggingFace:
		return NewHuggingFace(desc, client), nil
	case KindOllama:
		return NewOllama(desc, client), nil
	case KindClassifier:
		if desc.Endpoint == "" {
			return nil, fmt.Errorf("provider %s: classifier endpoint is required", desc.Name)
		}
		return NewClassifier(desc, client), nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported kind %q", desc.Name, desc.Kind)
	}
}
