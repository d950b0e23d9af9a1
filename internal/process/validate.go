package process

import (
	"fmt"

	"github.com/tilegrid/procserve/internal/domain"
)

// ValidateInputs checks inputs against the process's declared input
// schema: required inputs (minOccurs > 0) must be present, and values
// must match the declared primitive type. Validation failures wrap
// domain.ErrInvalidInput with a field-specific message.
func ValidateInputs(desc Description, inputs map[string]any) error {
	for name, spec := range desc.Inputs {
		value, present := inputs[name]
		if !present {
			if spec.MinOccurs > 0 {
				return fmt.Errorf("%w: missing required input %q", domain.ErrInvalidInput, name)
			}
			continue
		}
		if err := checkType(name, spec.Schema.Type, value); err != nil {
			return err
		}
	}

	for name := range inputs {
		if _, declared := desc.Inputs[name]; !declared {
			return fmt.Errorf("%w: unknown input %q", domain.ErrInvalidInput, name)
		}
	}
	return nil
}

func checkType(name, declared string, value any) error {
	switch declared {
	case "":
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return typeMismatch(name, declared, value)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return typeMismatch(name, declared, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeMismatch(name, declared, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return typeMismatch(name, declared, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return typeMismatch(name, declared, value)
		}
	}
	return nil
}

func typeMismatch(name, declared string, value any) error {
	return fmt.Errorf("%w: input %q must be of type %s, got %T",
		domain.ErrInvalidInput, name, declared, value)
}

// ValidateOutputs checks that every requested output identifier is
// declared by the process. An empty request means all outputs.
func ValidateOutputs(desc Description, requested []string) error {
	for _, name := range requested {
		if _, declared := desc.Outputs[name]; !declared {
			return fmt.Errorf("%w: process %q declares no output %q",
				domain.ErrInvalidInput, desc.ID, name)
		}
	}
	return nil
}
