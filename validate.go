package agentsync

import (
	"fmt"
	"strings"
)

// ValidateAgent checks that id, name and prompt are non-empty and every resource is valid.
// Returns a *ValidationError wrapping ErrInvalidAgent or ErrInvalidResource.
func ValidateAgent(a Agent) error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return &ValidationError{Agent: a.ID, Field: "id", Err: fmt.Errorf("%w: empty id", ErrInvalidAgent)}
	case strings.TrimSpace(a.Name) == "":
		return &ValidationError{Agent: a.ID, Field: "name", Err: fmt.Errorf("%w: empty name", ErrInvalidAgent)}
	case strings.TrimSpace(a.Prompt) == "":
		return &ValidationError{Agent: a.ID, Field: "prompt", Err: fmt.Errorf("%w: empty prompt", ErrInvalidAgent)}
	}
	for i, r := range a.Resources {
		if err := ValidateResource(r); err != nil {
			return &ValidationError{Agent: a.ID, Field: fmt.Sprintf("resources[%d]", i), Err: err}
		}
	}
	return nil
}

// ValidateResource checks that the type is a known kind and the URL is non-empty.
func ValidateResource(r Resource) error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidResource, r.Type)
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidResource)
	}
	if r.CacheDuration < 0 {
		return fmt.Errorf("%w: negative cache duration", ErrInvalidResource)
	}
	return nil
}
