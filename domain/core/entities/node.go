package entities

import (
	"time"

	"nodebase/domain/core/valueobjects"
	pkgerrors "nodebase/pkg/errors"
	"nodebase/pkg/utils"
)

// NodeType identifies the kind of a node. Built-in kinds are a closed set
// dispatched by pattern match; user-defined kinds exist purely as data through
// schema nodes and need no code here.
type NodeType string

const (
	TypeText    NodeType = "text"
	TypeTask    NodeType = "task"
	TypeDate    NodeType = "date"
	TypeProject NodeType = "project"
	TypePerson  NodeType = "person"
	TypeChat    NodeType = "chat"
	TypeSchema  NodeType = "schema"
)

// IsBuiltin reports whether the type is one of the hard-coded core kinds
func (t NodeType) IsBuiltin() bool {
	switch t {
	case TypeText, TypeTask, TypeDate, TypeProject, TypePerson, TypeChat, TypeSchema:
		return true
	}
	return false
}

// IsContainer reports whether nodes of this type act as root-level grouping
// nodes that other nodes reference via ContainerID
func (t NodeType) IsContainer() bool {
	switch t {
	case TypeDate, TypeProject:
		return true
	}
	return false
}

// Node is the universal entity stored by the engine; every piece of user
// content is one. ParentID is strict tree ancestry; ContainerID points at the
// enclosing root-level grouping node (a date page, a project) and is distinct
// from the parent. BeforeSiblingID is the single-pointer predecessor in the
// sibling chain. Version is the optimistic concurrency token.
type Node struct {
	ID              string                 `json:"id"`
	NodeType        string                 `json:"node_type"`
	Content         string                 `json:"content"`
	ParentID        *string                `json:"parent_id,omitempty"`
	ContainerID     *string                `json:"container_id,omitempty"`
	BeforeSiblingID *string                `json:"before_sibling_id,omitempty"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	ModifiedAt      time.Time              `json:"modified_at"`
	Properties      map[string]interface{} `json:"properties,omitempty"`

	// EmbeddingVector is an opaque blob written by the embedding collaborator.
	// The engine stores it verbatim and never interprets it.
	EmbeddingVector []byte `json:"-"`
}

// NewNode creates a node of the given type with a fresh UUID
func NewNode(nodeType NodeType, content string) (*Node, error) {
	return newNode(valueobjects.NewNodeID().String(), nodeType, content)
}

// NewDateContainer creates (in memory) the deterministic container node for a
// calendar date. The same date always yields the same id.
func NewDateContainer(day time.Time) *Node {
	n, _ := newNode(valueobjects.NewDateNodeID(day).String(), TypeDate, utils.DayKey(day))
	return n
}

func newNode(id string, nodeType NodeType, content string) (*Node, error) {
	if nodeType == "" {
		return nil, pkgerrors.NewValidationError("node_type cannot be empty")
	}

	now := time.Now().UTC()
	return &Node{
		ID:         id,
		NodeType:   string(nodeType),
		Content:    content,
		Version:    1,
		CreatedAt:  now,
		ModifiedAt: now,
		Properties: make(map[string]interface{}),
	}, nil
}

// Type returns the node's type as a NodeType
func (n *Node) Type() NodeType {
	return NodeType(n.NodeType)
}

// IsContainer reports whether this node is a designated container
func (n *Node) IsContainer() bool {
	return n.Type().IsContainer()
}

// Touch updates the modification timestamp
func (n *Node) Touch() {
	n.ModifiedAt = time.Now().UTC()
}

// Clone returns a deep copy; Properties and EmbeddingVector are copied so the
// caller can mutate the clone without aliasing the original.
func (n *Node) Clone() *Node {
	c := *n
	if n.ParentID != nil {
		v := *n.ParentID
		c.ParentID = &v
	}
	if n.ContainerID != nil {
		v := *n.ContainerID
		c.ContainerID = &v
	}
	if n.BeforeSiblingID != nil {
		v := *n.BeforeSiblingID
		c.BeforeSiblingID = &v
	}
	if n.Properties != nil {
		c.Properties = make(map[string]interface{}, len(n.Properties))
		for k, v := range n.Properties {
			c.Properties[k] = v
		}
	}
	if n.EmbeddingVector != nil {
		c.EmbeddingVector = append([]byte(nil), n.EmbeddingVector...)
	}
	return &c
}

// SameContainer reports whether both nodes resolve to the same container id
func SameContainer(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
