package filtering

import (
	"fmt"
	"strings"

	"github.com/endorses/pktmunch/internal/pkg/identity"
)

// ValidationError represents a filter validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateFilterYAML checks the fields every filter needs. Whether the
// protocol and attributes are understood is checked by ValidateAttributes.
func ValidateFilterYAML(filter *FilterYAML) error {
	if filter.ID == "" {
		return &ValidationError{Field: "id", Message: "filter ID is required"}
	}
	if filter.Protocol == "" {
		return &ValidationError{Field: "protocol", Message: "filter protocol is required"}
	}
	if filter.Action == "" {
		return &ValidationError{Field: "action", Message: "filter action is required"}
	}
	return ValidateAction(filter.Action)
}

// ValidateAction validates an action string
func ValidateAction(action string) error {
	if !ValidActions[action] {
		return &ValidationError{
			Field:   "action",
			Message: fmt.Sprintf("unknown filter action: %s", action),
		}
	}
	return nil
}

// ValidateAttributes checks that the protocol is registered and that every
// key=value pair is understood by it. Prototype parsing itself skips pairs
// it cannot use, which would silently widen a filter.
func ValidateAttributes(reg *identity.Registry, protocol, attrs string) error {
	if !reg.Has(protocol) {
		return &ValidationError{
			Field:   "protocol",
			Message: fmt.Sprintf("unknown protocol: %s", protocol),
		}
	}
	d := reg.Factory(protocol)()
	for _, pair := range strings.Split(attrs, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if len(d.BuildAttributes(pair)) != 1 {
			return &ValidationError{
				Field:   "attributes",
				Message: fmt.Sprintf("%s does not understand %q", protocol, pair),
			}
		}
	}
	return nil
}
