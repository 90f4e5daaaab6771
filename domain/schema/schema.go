// Package schema implements the schema-as-node type system: type definitions
// are stored as ordinary nodes (node_type "schema", id = type name) and
// validated against every property write.
package schema

import (
	"encoding/json"
	"time"

	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

// Protection governs mutability of a schema field.
type Protection string

const (
	// ProtectionCore fields cannot be deleted or retyped and their core enum
	// values cannot be removed.
	ProtectionCore Protection = "core"
	// ProtectionUser fields are fully mutable and deletable.
	ProtectionUser Protection = "user"
	// ProtectionSystem fields are engine-managed and read-only to callers.
	ProtectionSystem Protection = "system"
)

// Primitive field types. Any other Type value is a reference to another schema
// by name; reference values are node ids.
const (
	FieldText    = "text"
	FieldNumber  = "number"
	FieldBoolean = "boolean"
	FieldDate    = "date"
	FieldJSON    = "json"
	FieldEnum    = "enum"
	FieldArray   = "array"
)

// Field describes one property of a node type.
type Field struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Protection Protection  `json:"protection"`
	Indexed    bool        `json:"indexed,omitempty"`
	Required   bool        `json:"required,omitempty"`
	Extensible bool        `json:"extensible,omitempty"`
	CoreValues []string    `json:"core_values,omitempty"`
	UserValues []string    `json:"user_values,omitempty"`
	Default    interface{} `json:"default,omitempty"`
}

// IsPrimitive reports whether the field type is one of the fixed primitives
func (f *Field) IsPrimitive() bool {
	switch f.Type {
	case FieldText, FieldNumber, FieldBoolean, FieldDate, FieldJSON, FieldEnum, FieldArray:
		return true
	}
	return false
}

// AllowedValues returns core_values followed by user_values for enum fields
func (f *Field) AllowedValues() []string {
	out := make([]string, 0, len(f.CoreValues)+len(f.UserValues))
	out = append(out, f.CoreValues...)
	out = append(out, f.UserValues...)
	return out
}

// Allows reports whether an enum field accepts the given value
func (f *Field) Allows(value string) bool {
	for _, v := range f.AllowedValues() {
		if v == value {
			return true
		}
	}
	return false
}

// Schema is the ordered field list for one node type. Version carries the
// backing node's OCC token so concurrent schema mutations detect each other.
type Schema struct {
	Name    string  `json:"name"`
	Fields  []Field `json:"fields"`
	Version int64   `json:"-"`
}

// Field returns the descriptor with the given name
func (s *Schema) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// ToNode renders the schema as its storage representation
func (s *Schema) ToNode() (*entities.Node, error) {
	// Round-trip through JSON so Properties holds plain maps, matching what
	// comes back from the store.
	raw, err := json.Marshal(s.Fields)
	if err != nil {
		return nil, pkgerrors.NewInternalError("marshal schema fields").WithCause(err)
	}
	var fields interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, pkgerrors.NewInternalError("unmarshal schema fields").WithCause(err)
	}

	now := time.Now().UTC()
	return &entities.Node{
		ID:         s.Name,
		NodeType:   string(entities.TypeSchema),
		Content:    s.Name,
		Version:    s.Version,
		CreatedAt:  now,
		ModifiedAt: now,
		Properties: map[string]interface{}{"fields": fields},
	}, nil
}

// FromNode reconstructs a schema from its storage representation
func FromNode(n *entities.Node) (*Schema, error) {
	if n.NodeType != string(entities.TypeSchema) {
		return nil, pkgerrors.NewValidationError("node is not a schema node")
	}

	raw, err := json.Marshal(n.Properties["fields"])
	if err != nil {
		return nil, pkgerrors.NewValidationError("schema node has malformed fields").WithCause(err)
	}
	var fields []Field
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, pkgerrors.NewValidationError("schema node has malformed fields").WithCause(err)
	}

	return &Schema{Name: n.ID, Fields: fields, Version: n.Version}, nil
}
