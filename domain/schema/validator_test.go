package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

func taskNode(t *testing.T, props map[string]interface{}) *entities.Node {
	t.Helper()
	n, err := entities.NewNode(entities.TypeTask, "do the thing")
	require.NoError(t, err)
	for k, v := range props {
		n.Properties[k] = v
	}
	return n
}

func TestValidate(t *testing.T) {
	s, ok := builtinSchema("task")
	require.True(t, ok)

	tests := []struct {
		name    string
		props   map[string]interface{}
		wantErr bool
	}{
		{name: "valid", props: map[string]interface{}{"status": "OPEN"}},
		{name: "missing required status", props: map[string]interface{}{}, wantErr: true},
		{name: "unknown enum value", props: map[string]interface{}{"status": "BLOCKED"}, wantErr: true},
		{name: "wrong type for status", props: map[string]interface{}{"status": 3}, wantErr: true},
		{name: "valid date", props: map[string]interface{}{"status": "OPEN", "due_date": "2025-01-03"}},
		{name: "valid rfc3339 date", props: map[string]interface{}{"status": "OPEN", "due_date": "2025-01-03T10:00:00Z"}},
		{name: "malformed date", props: map[string]interface{}{"status": "OPEN", "due_date": "tomorrow"}, wantErr: true},
		{name: "number accepts float", props: map[string]interface{}{"status": "OPEN", "priority": 2.0}},
		{name: "number rejects string", props: map[string]interface{}{"status": "OPEN", "priority": "high"}, wantErr: true},
		{name: "reference is a node id string", props: map[string]interface{}{"status": "OPEN", "assignee": "b2c5e1fc-0000-0000-0000-000000000001"}},
		{name: "reference rejects object", props: map[string]interface{}{"status": "OPEN", "assignee": map[string]interface{}{}}, wantErr: true},
		{name: "undeclared property passes through", props: map[string]interface{}{"status": "OPEN", "color": "red"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(taskNode(t, tt.props), s)
			if tt.wantErr {
				assert.True(t, pkgerrors.IsValidation(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUpdateSystemFields(t *testing.T) {
	s, ok := builtinSchema("task")
	require.True(t, ok)

	t.Run("writing a system field fails", func(t *testing.T) {
		err := ValidateUpdate(nil, map[string]interface{}{"completed_at": "2025-01-03T10:00:00Z"}, s)
		assert.True(t, pkgerrors.IsImmutableField(err))
	})

	t.Run("echoing the stored value is allowed", func(t *testing.T) {
		old := taskNode(t, map[string]interface{}{
			"status":       "DONE",
			"completed_at": "2025-01-03T10:00:00Z",
		})
		err := ValidateUpdate(old, map[string]interface{}{"completed_at": "2025-01-03T10:00:00Z"}, s)
		assert.NoError(t, err)
	})

	t.Run("changing the stored value fails", func(t *testing.T) {
		old := taskNode(t, map[string]interface{}{"completed_at": "2025-01-03T10:00:00Z"})
		err := ValidateUpdate(old, map[string]interface{}{"completed_at": "2025-01-04T10:00:00Z"}, s)
		assert.True(t, pkgerrors.IsImmutableField(err))
	})

	t.Run("user fields are unrestricted", func(t *testing.T) {
		err := ValidateUpdate(nil, map[string]interface{}{"priority": 5}, s)
		assert.NoError(t, err)
	})
}

func TestApplyDefaults(t *testing.T) {
	s, ok := builtinSchema("task")
	require.True(t, ok)

	t.Run("fills absent defaults", func(t *testing.T) {
		n := taskNode(t, nil)
		ApplyDefaults(n, s)
		assert.Equal(t, "OPEN", n.Properties["status"])
		// No declared default: must stay unset, never null-populated.
		_, present := n.Properties["due_date"]
		assert.False(t, present)
	})

	t.Run("existing values survive", func(t *testing.T) {
		n := taskNode(t, map[string]interface{}{"status": "IN_PROGRESS"})
		ApplyDefaults(n, s)
		assert.Equal(t, "IN_PROGRESS", n.Properties["status"])
	})

	t.Run("nil property map is initialized", func(t *testing.T) {
		n := taskNode(t, nil)
		n.Properties = nil
		ApplyDefaults(n, s)
		assert.Equal(t, "OPEN", n.Properties["status"])
	})
}
