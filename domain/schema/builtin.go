package schema

// Built-in default schemas. The registry falls back to these when a built-in
// type has not been schema-seeded yet, so built-in types stay usable against
// an empty database.

func builtinSchema(typeName string) (*Schema, bool) {
	switch typeName {
	case "task":
		return &Schema{
			Name: "task",
			Fields: []Field{
				{
					Name:       "status",
					Type:       FieldEnum,
					Protection: ProtectionCore,
					Indexed:    true,
					Required:   true,
					Extensible: true,
					CoreValues: []string{"OPEN", "IN_PROGRESS", "DONE"},
					Default:    "OPEN",
				},
				{Name: "due_date", Type: FieldDate, Protection: ProtectionUser, Indexed: true},
				{Name: "priority", Type: FieldNumber, Protection: ProtectionUser},
				{Name: "assignee", Type: "person", Protection: ProtectionUser},
				{Name: "completed_at", Type: FieldDate, Protection: ProtectionSystem},
			},
		}, true
	case "text":
		return &Schema{Name: "text"}, true
	case "date":
		return &Schema{Name: "date"}, true
	case "chat":
		return &Schema{
			Name: "chat",
			Fields: []Field{
				{Name: "provider", Type: FieldText, Protection: ProtectionUser},
				{Name: "model", Type: FieldText, Protection: ProtectionUser},
				{Name: "messages", Type: FieldArray, Protection: ProtectionSystem},
			},
		}, true
	case "project":
		return &Schema{
			Name: "project",
			Fields: []Field{
				{
					Name:       "status",
					Type:       FieldEnum,
					Protection: ProtectionCore,
					Indexed:    true,
					Extensible: true,
					CoreValues: []string{"ACTIVE", "ON_HOLD", "ARCHIVED"},
					Default:    "ACTIVE",
				},
				{Name: "description", Type: FieldText, Protection: ProtectionUser},
			},
		}, true
	case "person":
		return &Schema{
			Name: "person",
			Fields: []Field{
				{Name: "email", Type: FieldText, Protection: ProtectionUser, Indexed: true},
				{Name: "role", Type: FieldText, Protection: ProtectionUser},
				{Name: "aliases", Type: FieldArray, Protection: ProtectionUser},
			},
		}, true
	}
	return nil, false
}
