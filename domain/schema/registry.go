package schema

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

// NodeStore is the slice of the storage engine the registry needs. Schemas are
// nodes, so schema mutation rides on the same optimistic concurrency as every
// other write.
type NodeStore interface {
	Get(ctx context.Context, id string) (*entities.Node, error)
	Put(ctx context.Context, node *entities.Node, expectedVersion int64) (*entities.Node, error)
}

// schemaMutationAttempts bounds the re-read loop when two callers mutate the
// same schema concurrently.
const schemaMutationAttempts = 3

// Registry resolves node types to schemas. It is an explicit object passed by
// reference into every operation context; the cache is read-through and
// invalidation is the explicit Refresh call, never a background mutation.
type Registry struct {
	store  NodeStore
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Schema
}

// NewRegistry creates a registry backed by the given store
func NewRegistry(store NodeStore, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		cache:  make(map[string]*Schema),
	}
}

// Get returns the schema for a node type. Resolution order: cache, store,
// built-in defaults. Built-in types remain usable without prior seeding.
func (r *Registry) Get(ctx context.Context, typeName string) (*Schema, error) {
	r.mu.RLock()
	if s, ok := r.cache[typeName]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	s, err := r.load(ctx, typeName)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			if builtin, ok := builtinSchema(typeName); ok {
				return builtin, nil
			}
			return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("schema for type '%s'", typeName))
		}
		return nil, err
	}

	r.mu.Lock()
	r.cache[typeName] = s
	r.mu.Unlock()
	return s, nil
}

// Refresh drops the cached schema for a type and reloads it from the store.
func (r *Registry) Refresh(ctx context.Context, typeName string) error {
	r.mu.Lock()
	delete(r.cache, typeName)
	r.mu.Unlock()

	_, err := r.Get(ctx, typeName)
	return err
}

// CreateSchema registers a new user-defined type. Fails if a schema node with
// that name already exists.
func (r *Registry) CreateSchema(ctx context.Context, s *Schema) error {
	if s.Name == "" {
		return pkgerrors.NewValidationError("schema name cannot be empty")
	}
	for i := range s.Fields {
		if !s.Fields[i].IsPrimitive() && s.Fields[i].Type == "" {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("field '%s' has no type", s.Fields[i].Name))
		}
	}

	node, err := s.ToNode()
	if err != nil {
		return err
	}
	if _, err := r.store.Put(ctx, node, 0); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, s.Name)
	r.mu.Unlock()

	r.logger.Info("schema created", zap.String("type", s.Name), zap.Int("fields", len(s.Fields)))
	return nil
}

// ExtendEnum appends a value to an enum field's user_values. Core values are
// never touched; duplicates are a no-op.
func (r *Registry) ExtendEnum(ctx context.Context, typeName, fieldName, newValue string) error {
	return r.mutate(ctx, typeName, func(s *Schema) error {
		f, ok := s.Field(fieldName)
		if !ok {
			return pkgerrors.NewNotFoundError(fmt.Sprintf("field '%s' on type '%s'", fieldName, typeName))
		}
		if f.Type != FieldEnum {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("field '%s' on type '%s' is not an enum", fieldName, typeName))
		}
		if !f.Extensible {
			return pkgerrors.NewImmutableFieldError(
				fmt.Sprintf("enum field '%s' on type '%s' is not extensible", fieldName, typeName))
		}
		if f.Allows(newValue) {
			return nil
		}
		f.UserValues = append(f.UserValues, newValue)
		return nil
	})
}

// AddField appends a field descriptor to an existing schema.
func (r *Registry) AddField(ctx context.Context, typeName string, field Field) error {
	return r.mutate(ctx, typeName, func(s *Schema) error {
		if _, exists := s.Field(field.Name); exists {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("field '%s' already exists on type '%s'", field.Name, typeName))
		}
		if field.Protection == "" {
			field.Protection = ProtectionUser
		}
		s.Fields = append(s.Fields, field)
		return nil
	})
}

// RemoveField deletes a user-protected field. Core and system fields are
// immutable.
func (r *Registry) RemoveField(ctx context.Context, typeName, fieldName string) error {
	return r.mutate(ctx, typeName, func(s *Schema) error {
		f, ok := s.Field(fieldName)
		if !ok {
			return pkgerrors.NewNotFoundError(fmt.Sprintf("field '%s' on type '%s'", fieldName, typeName))
		}
		if f.Protection != ProtectionUser {
			return pkgerrors.NewImmutableFieldError(
				fmt.Sprintf("field '%s' on type '%s' is %s-protected and cannot be deleted",
					fieldName, typeName, f.Protection))
		}
		kept := s.Fields[:0]
		for i := range s.Fields {
			if s.Fields[i].Name != fieldName {
				kept = append(kept, s.Fields[i])
			}
		}
		s.Fields = kept
		return nil
	})
}

// RetypeField changes a field's declared type. Only user fields may be
// retyped.
func (r *Registry) RetypeField(ctx context.Context, typeName, fieldName, newType string) error {
	return r.mutate(ctx, typeName, func(s *Schema) error {
		f, ok := s.Field(fieldName)
		if !ok {
			return pkgerrors.NewNotFoundError(fmt.Sprintf("field '%s' on type '%s'", fieldName, typeName))
		}
		if f.Protection != ProtectionUser {
			return pkgerrors.NewImmutableFieldError(
				fmt.Sprintf("field '%s' on type '%s' is %s-protected and cannot be retyped",
					fieldName, typeName, f.Protection))
		}
		f.Type = newType
		return nil
	})
}

// mutate applies fn to the current schema and persists the result under OCC.
// On version conflict it re-reads and retries up to schemaMutationAttempts so
// two concurrent enum extensions both land instead of one being lost.
func (r *Registry) mutate(ctx context.Context, typeName string, fn func(*Schema) error) error {
	var lastErr error
	for attempt := 0; attempt < schemaMutationAttempts; attempt++ {
		s, err := r.loadForMutation(ctx, typeName)
		if err != nil {
			return err
		}

		if err := fn(s); err != nil {
			return err
		}

		node, err := s.ToNode()
		if err != nil {
			return err
		}
		if _, err := r.store.Put(ctx, node, s.Version); err != nil {
			if pkgerrors.IsVersionConflict(err) {
				lastErr = err
				continue
			}
			return err
		}

		r.mu.Lock()
		delete(r.cache, typeName)
		r.mu.Unlock()
		return nil
	}
	return lastErr
}

// loadForMutation resolves the current stored schema, seeding the builtin
// definition first when the type has never been persisted.
func (r *Registry) loadForMutation(ctx context.Context, typeName string) (*Schema, error) {
	s, err := r.load(ctx, typeName)
	if err == nil {
		return s, nil
	}
	if !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	builtin, ok := builtinSchema(typeName)
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("schema for type '%s'", typeName))
	}

	node, err := builtin.ToNode()
	if err != nil {
		return nil, err
	}
	seeded, err := r.store.Put(ctx, node, 0)
	if err != nil {
		if pkgerrors.IsVersionConflict(err) {
			// Another caller seeded it first; read theirs.
			return r.load(ctx, typeName)
		}
		return nil, err
	}
	return FromNode(seeded)
}

func (r *Registry) load(ctx context.Context, typeName string) (*Schema, error) {
	node, err := r.store.Get(ctx, typeName)
	if err != nil {
		return nil, err
	}
	return FromNode(node)
}
