package schema

import (
	"fmt"
	"time"

	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

// Validate checks every property on the node against the schema's field
// declarations. Properties without a declaration pass through untouched: the
// property bag is open, the schema constrains only what it declares.
func Validate(node *entities.Node, s *Schema) error {
	for i := range s.Fields {
		f := &s.Fields[i]
		value, present := node.Properties[f.Name]

		if !present || value == nil {
			if f.Required {
				return pkgerrors.NewMissingFieldError(f.Name)
			}
			continue
		}

		if err := checkValue(f, value); err != nil {
			return err
		}
	}
	return nil
}

// ValidateUpdate rejects caller writes to system-protected fields. old may be
// nil on creation, in which case system fields must simply be absent.
func ValidateUpdate(old *entities.Node, props map[string]interface{}, s *Schema) error {
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Protection != ProtectionSystem {
			continue
		}
		newVal, present := props[f.Name]
		if !present {
			continue
		}
		if old != nil && equalValues(old.Properties[f.Name], newVal) {
			// Echoing the stored value back is harmless.
			continue
		}
		return pkgerrors.NewImmutableFieldError(
			fmt.Sprintf("field '%s' on type '%s' is system-managed", f.Name, s.Name))
	}
	return nil
}

// ApplyDefaults merges schema defaults into the node's properties without
// overwriting anything already present. Fields without a declared default are
// left unset rather than force-populated with null. Invoked on creation and on
// type conversion.
func ApplyDefaults(node *entities.Node, s *Schema) {
	if node.Properties == nil {
		node.Properties = make(map[string]interface{})
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Default == nil {
			continue
		}
		if _, present := node.Properties[f.Name]; present {
			continue
		}
		node.Properties[f.Name] = f.Default
	}
}

func checkValue(f *Field, value interface{}) error {
	switch f.Type {
	case FieldText:
		if _, ok := value.(string); !ok {
			return typeError(f, "string", value)
		}
	case FieldNumber:
		switch value.(type) {
		case float64, int, int64:
		default:
			return typeError(f, "number", value)
		}
	case FieldBoolean:
		if _, ok := value.(bool); !ok {
			return typeError(f, "boolean", value)
		}
	case FieldDate:
		s, ok := value.(string)
		if !ok {
			return typeError(f, "date string", value)
		}
		if !parseableDate(s) {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("field '%s' must be an RFC3339 timestamp or YYYY-MM-DD date, got %q", f.Name, s))
		}
	case FieldEnum:
		s, ok := value.(string)
		if !ok {
			return typeError(f, "enum string", value)
		}
		if !f.Allows(s) {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("field '%s' does not allow value %q", f.Name, s))
		}
	case FieldArray:
		if _, ok := value.([]interface{}); !ok {
			return typeError(f, "array", value)
		}
	case FieldJSON:
		// Any JSON value is acceptable.
	default:
		// Reference to another schema: the value is the referenced node's id.
		if _, ok := value.(string); !ok {
			return typeError(f, "node id string", value)
		}
	}
	return nil
}

func typeError(f *Field, want string, got interface{}) error {
	return pkgerrors.NewValidationError(
		fmt.Sprintf("field '%s' must be a %s, got %T", f.Name, want, got))
}

func parseableDate(s string) bool {
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return true
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func equalValues(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
