package dispatch

import (
	"encoding/json"
	"fmt"
)

// validateParams checks JSON arguments against a JSON-Schema-shaped
// parameter object: required fields must be present, and each provided
// field must match its declared type. Unknown fields are accepted; models
// routinely add extras.
func validateParams(schema map[string]any, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	values := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &values); err != nil {
			return fmt.Errorf("%w: arguments are not a JSON object: %v", ErrInvalidParams, err)
		}
	}

	if required, ok := schema["required"].([]any); ok {
		for _, field := range required {
			name, ok := field.(string)
			if !ok {
				continue
			}
			if _, present := values[name]; !present {
				return fmt.Errorf("%w: missing required field %q", ErrInvalidParams, name)
			}
		}
	} else if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := values[name]; !present {
				return fmt.Errorf("%w: missing required field %q", ErrInvalidParams, name)
			}
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	for name, value := range values {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		declared, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if !typeMatches(declared, value) {
			return fmt.Errorf("%w: field %q is not of type %s", ErrInvalidParams, name, declared)
		}
	}

	return nil
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		// Unknown declared type; accept rather than reject valid calls.
		return true
	}
}
