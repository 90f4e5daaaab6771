// Package ports declares the persistence interface the business layer depends
// on, keeping application code independent of the storage backend.
package ports

import (
	"context"

	"nodebase/domain/core/entities"
)

// Filter selects nodes for NodeStore.Query. Nil pointer fields are not
// constrained; RootsOnly matches nodes with no parent.
type Filter struct {
	NodeType    *string
	ParentID    *string
	RootsOnly   bool
	ContainerID *string
	Limit       int
}

// DeleteSummary reports what one cascade delete removed.
type DeleteSummary struct {
	NodesDeleted    int `json:"nodes_deleted"`
	MentionsDeleted int `json:"mentions_deleted"`
}

// NodeStore is the durable node store. Put is the sole mutation primitive and
// is optimistically concurrent: the write applies only while the stored
// version still equals expectedVersion (0 means insert). DeleteSubtree is
// atomic; either the whole subtree and its mention edges go, or nothing does.
type NodeStore interface {
	Get(ctx context.Context, id string) (*entities.Node, error)
	Put(ctx context.Context, node *entities.Node, expectedVersion int64) (*entities.Node, error)
	Query(ctx context.Context, filter Filter) ([]*entities.Node, error)
	DeleteSubtree(ctx context.Context, id string, expectedVersion int64) (DeleteSummary, error)

	ReplaceMentions(ctx context.Context, nodeID string, targets []string) error
	MentionsFrom(ctx context.Context, nodeID string) ([]string, error)
	Backlinks(ctx context.Context, nodeID string) ([]string, error)

	Close() error
}
