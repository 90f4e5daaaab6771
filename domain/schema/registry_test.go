package schema

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

// memStore is a minimal OCC-correct NodeStore for registry tests.
type memStore struct {
	mu    sync.Mutex
	nodes map[string]*entities.Node
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[string]*entities.Node)}
}

func (m *memStore) Get(_ context.Context, id string) (*entities.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("node " + id)
	}
	return n.Clone(), nil
}

func (m *memStore) Put(_ context.Context, node *entities.Node, expectedVersion int64) (*entities.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.nodes[node.ID]
	if expectedVersion == 0 {
		if exists {
			return nil, pkgerrors.NewVersionConflictError(node.ID, 0, current.Version)
		}
		stored := node.Clone()
		stored.Version = 1
		m.nodes[node.ID] = stored
		return stored.Clone(), nil
	}
	if !exists {
		return nil, pkgerrors.NewNotFoundError("node " + node.ID)
	}
	if current.Version != expectedVersion {
		return nil, pkgerrors.NewVersionConflictError(node.ID, expectedVersion, current.Version)
	}
	stored := node.Clone()
	stored.Version = expectedVersion + 1
	m.nodes[node.ID] = stored
	return stored.Clone(), nil
}

func newTestRegistry() (*Registry, *memStore) {
	store := newMemStore()
	return NewRegistry(store, zap.NewNop()), store
}

func TestRegistryBuiltinFallback(t *testing.T) {
	r, _ := newTestRegistry()

	s, err := r.Get(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, "task", s.Name)

	_, ok := s.Field("status")
	assert.True(t, ok)
}

func TestRegistryUnknownType(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Get(context.Background(), "recipe")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRegistryStoredSchemaWins(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()

	custom := &Schema{
		Name: "task",
		Fields: []Field{
			{Name: "status", Type: FieldEnum, Protection: ProtectionCore,
				CoreValues: []string{"OPEN", "DONE"}, Extensible: true},
		},
	}
	node, err := custom.ToNode()
	require.NoError(t, err)
	_, err = store.Put(ctx, node, 0)
	require.NoError(t, err)

	s, err := r.Get(ctx, "task")
	require.NoError(t, err)
	require.Len(t, s.Fields, 1)
}

func TestCreateSchema(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	err := r.CreateSchema(ctx, &Schema{
		Name: "recipe",
		Fields: []Field{
			{Name: "cuisine", Type: FieldText, Protection: ProtectionUser},
			{Name: "servings", Type: FieldNumber, Protection: ProtectionUser},
		},
	})
	require.NoError(t, err)

	s, err := r.Get(ctx, "recipe")
	require.NoError(t, err)
	assert.Len(t, s.Fields, 2)

	// Duplicate registration fails on the insert conflict.
	err = r.CreateSchema(ctx, &Schema{Name: "recipe"})
	assert.True(t, pkgerrors.IsVersionConflict(err))
}

func TestExtendEnum(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.ExtendEnum(ctx, "task", "status", "BLOCKED"))

	s, err := r.Get(ctx, "task")
	require.NoError(t, err)
	status, ok := s.Field("status")
	require.True(t, ok)
	assert.Contains(t, status.UserValues, "BLOCKED")
	assert.Equal(t, []string{"OPEN", "IN_PROGRESS", "DONE"}, status.CoreValues)

	// Duplicate extension is a no-op, not an error.
	require.NoError(t, r.ExtendEnum(ctx, "task", "status", "BLOCKED"))
	s, err = r.Get(ctx, "task")
	require.NoError(t, err)
	status, _ = s.Field("status")
	count := 0
	for _, v := range status.UserValues {
		if v == "BLOCKED" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtendEnumConcurrent(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	values := []string{"BLOCKED", "WAITING", "CANCELLED"}
	errs := make([]error, len(values))
	for i, v := range values {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			errs[i] = r.ExtendEnum(ctx, "task", "status", v)
		}(i, v)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "extension %s", values[i])
	}

	require.NoError(t, r.Refresh(ctx, "task"))
	s, err := r.Get(ctx, "task")
	require.NoError(t, err)
	status, _ := s.Field("status")
	for _, v := range values {
		assert.True(t, status.Allows(v), "value %s lost", v)
	}
}

func TestFieldMutationProtection(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	t.Run("core field cannot be removed", func(t *testing.T) {
		err := r.RemoveField(ctx, "task", "status")
		assert.True(t, pkgerrors.IsImmutableField(err))
	})

	t.Run("system field cannot be removed", func(t *testing.T) {
		err := r.RemoveField(ctx, "task", "completed_at")
		assert.True(t, pkgerrors.IsImmutableField(err))
	})

	t.Run("core field cannot be retyped", func(t *testing.T) {
		err := r.RetypeField(ctx, "task", "status", FieldText)
		assert.True(t, pkgerrors.IsImmutableField(err))
	})

	t.Run("non-extensible enum cannot grow", func(t *testing.T) {
		require.NoError(t, r.CreateSchema(ctx, &Schema{
			Name: "ticket",
			Fields: []Field{
				{Name: "state", Type: FieldEnum, Protection: ProtectionCore,
					CoreValues: []string{"NEW", "CLOSED"}},
			},
		}))
		err := r.ExtendEnum(ctx, "ticket", "state", "REOPENED")
		assert.True(t, pkgerrors.IsImmutableField(err))
	})

	t.Run("user field add and remove", func(t *testing.T) {
		require.NoError(t, r.AddField(ctx, "task", Field{Name: "notes", Type: FieldText}))
		s, err := r.Get(ctx, "task")
		require.NoError(t, err)
		f, ok := s.Field("notes")
		require.True(t, ok)
		assert.Equal(t, ProtectionUser, f.Protection)

		require.NoError(t, r.RemoveField(ctx, "task", "notes"))
		s, err = r.Get(ctx, "task")
		require.NoError(t, err)
		_, ok = s.Field("notes")
		assert.False(t, ok)
	})
}
