// Package services holds the business-rule layer. NodeOperations is the only
// entry point used by both the UI command handlers and the protocol server;
// the store beneath it enforces nothing beyond optimistic concurrency and raw
// persistence.
package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"nodebase/application/ports"
	"nodebase/domain/core/entities"
	"nodebase/domain/core/valueobjects"
	"nodebase/domain/events"
	"nodebase/domain/order"
	"nodebase/domain/schema"
	pkgerrors "nodebase/pkg/errors"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 25 * time.Millisecond

	// maxAncestorDepth bounds the cycle-check walk on move.
	maxAncestorDepth = 10000
)

// NodeOperations implements the hierarchy and schema rules over the raw store.
// Each call either fully commits or fully fails; cross-call sequences compose
// idempotent single-node writes and a caller that fails mid-sequence re-reads
// and retries the whole sequence.
type NodeOperations struct {
	store     ports.NodeStore
	registry  *schema.Registry
	publisher events.Publisher
	logger    *zap.Logger

	maxRetries  int
	baseBackoff time.Duration
}

// NewNodeOperations creates the business-rule layer
func NewNodeOperations(
	store ports.NodeStore,
	registry *schema.Registry,
	publisher events.Publisher,
	logger *zap.Logger,
) *NodeOperations {
	return &NodeOperations{
		store:       store,
		registry:    registry,
		publisher:   publisher,
		logger:      logger,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// CreateNodeInput carries the caller's intent for a new node.
// BeforeSiblingID is a three-state hint: absent (append to tail), explicit
// null (become head), or a sibling id (insert directly after it) —
// BeforeSiblingGiven distinguishes absent from null.
type CreateNodeInput struct {
	ID                 string
	NodeType           string
	Content            string
	ParentID           *string
	ContainerID        *string
	BeforeSiblingID    *string
	BeforeSiblingGiven bool
	Properties         map[string]interface{}
}

// CreateNode validates, positions and persists a new node with version 1.
func (o *NodeOperations) CreateNode(ctx context.Context, input CreateNodeInput) (*entities.Node, error) {
	if input.NodeType == "" {
		return nil, pkgerrors.NewValidationError("node_type is required")
	}
	if entities.NodeType(input.NodeType) == entities.TypeSchema {
		return nil, pkgerrors.NewValidationError("schema nodes are created through schema operations")
	}

	node, err := o.buildNode(input)
	if err != nil {
		return nil, err
	}

	if err := o.resolveContainer(ctx, node, input.ContainerID); err != nil {
		return nil, err
	}
	if err := o.checkHierarchy(ctx, node.ParentID, node.ContainerID); err != nil {
		return nil, err
	}

	s, err := o.registry.Get(ctx, node.NodeType)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateUpdate(nil, node.Properties, s); err != nil {
		return nil, err
	}
	schema.ApplyDefaults(node, s)
	if err := schema.Validate(node, s); err != nil {
		return nil, err
	}

	// The insert and its sibling rewires are separate optimistic writes. Once
	// the insert has committed, a conflicted rewire must not re-run it (a
	// second Put with expectedVersion 0 can only fail), so the closure records
	// the commit and each retry re-drives only the outstanding rewires.
	var created *entities.Node
	var rewires []order.Rewire
	err = o.withRetry(ctx, "create_node", func() error {
		if created == nil {
			plan, err := o.planInsert(ctx, node, input.BeforeSiblingID, input.BeforeSiblingGiven)
			if err != nil {
				return err
			}
			node.BeforeSiblingID = plan.TargetBefore

			stored, err := o.store.Put(ctx, node, 0)
			if err != nil {
				return err
			}
			created = stored
			rewires = plan.Rewires
		}
		return o.applyRewires(ctx, rewires)
	})
	if err != nil {
		return nil, err
	}

	if err := o.syncMentions(ctx, created); err != nil {
		return nil, pkgerrors.Wrap(err, "sync mentions")
	}

	o.publisher.Publish(events.NewChange(created.ID, events.KindCreated, created.Version))
	o.logger.Info("node created",
		zap.String("nodeID", created.ID),
		zap.String("nodeType", created.NodeType),
	)
	return created, nil
}

// UpdateNode mutates content and properties only. Hierarchy changes must go
// through MoveNode/ReorderNode so a single call never entangles content edits
// with structural ones.
func (o *NodeOperations) UpdateNode(ctx context.Context, id string, content *string, properties map[string]interface{}) (*entities.Node, error) {
	if content == nil && properties == nil {
		return nil, pkgerrors.NewValidationError("update_node requires content or properties")
	}

	var updated *entities.Node
	err := o.withRetry(ctx, "update_node", func() error {
		node, err := o.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if node.Type() == entities.TypeSchema {
			return pkgerrors.NewValidationError("schema nodes are mutated through schema operations")
		}

		s, err := o.registry.Get(ctx, node.NodeType)
		if err != nil {
			return err
		}
		if properties != nil {
			if err := schema.ValidateUpdate(node, properties, s); err != nil {
				return err
			}
		}

		next := node.Clone()
		if content != nil {
			next.Content = *content
		}
		for k, v := range properties {
			if v == nil {
				delete(next.Properties, k)
				continue
			}
			next.Properties[k] = v
		}
		if err := schema.Validate(next, s); err != nil {
			return err
		}

		updated, err = o.store.Put(ctx, next, node.Version)
		return err
	})
	if err != nil {
		return nil, err
	}

	if content != nil {
		if err := o.syncMentions(ctx, updated); err != nil {
			return nil, pkgerrors.Wrap(err, "sync mentions")
		}
	}

	o.publisher.Publish(events.NewChange(updated.ID, events.KindUpdated, updated.Version))
	return updated, nil
}

// MoveNode reparents a node. The new parent must resolve to the node's current
// container; crossing containers without correcting the container is a
// consistency error, never a silent fixup. The node lands at the tail of the
// new parent's chain.
func (o *NodeOperations) MoveNode(ctx context.Context, id, newParentID string) (*entities.Node, error) {
	var moved *entities.Node
	err := o.withRetry(ctx, "move_node", func() error {
		node, err := o.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if node.ID == newParentID {
			return pkgerrors.NewValidationError("cannot move a node under itself")
		}

		newParent, err := o.store.Get(ctx, newParentID)
		if err != nil {
			return err
		}

		expected := containerImpliedByParent(newParent)
		if !entities.SameContainer(expected, node.ContainerID) {
			return pkgerrors.NewContainerConsistencyError(fmt.Sprintf(
				"parent %s belongs to container %s but node %s belongs to %s",
				newParentID, refString(expected), id, refString(node.ContainerID))).
				WithDetail("node_id", id).
				WithDetail("new_parent_id", newParentID)
		}

		if err := o.checkNoCycle(ctx, id, newParent); err != nil {
			return err
		}

		// Unlink from the old chain first so the old siblings stay intact
		// regardless of where the node lands.
		if node.ParentID != nil {
			oldSiblings, err := o.siblingsOf(ctx, *node.ParentID)
			if err != nil {
				return err
			}
			detach, err := order.PlanDetach(oldSiblings, node.ID)
			if err != nil {
				return err
			}
			if err := o.applyRewires(ctx, detach.Rewires); err != nil {
				return err
			}
		}

		newSiblings, err := o.siblingsOf(ctx, newParentID)
		if err != nil {
			return err
		}
		attach, err := order.PlanInsert(withoutNode(newSiblings, node.ID), node.ID, nil, false)
		if err != nil {
			return err
		}

		next := node.Clone()
		next.ParentID = &newParentID
		next.BeforeSiblingID = attach.TargetBefore

		moved, err = o.store.Put(ctx, next, node.Version)
		if err != nil {
			return err
		}
		return o.applyRewires(ctx, attach.Rewires)
	})
	if err != nil {
		return nil, err
	}

	o.publisher.Publish(events.NewChange(moved.ID, events.KindMoved, moved.Version))
	return moved, nil
}

// ReorderNode repositions a node inside its sibling chain without touching
// parent or container.
func (o *NodeOperations) ReorderNode(ctx context.Context, id string, newBeforeSiblingID *string) (*entities.Node, error) {
	var reordered *entities.Node
	err := o.withRetry(ctx, "reorder_node", func() error {
		node, err := o.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if node.ParentID == nil {
			return pkgerrors.NewValidationError("node has no parent and no sibling chain")
		}

		siblings, err := o.siblingsOf(ctx, *node.ParentID)
		if err != nil {
			return err
		}
		plan, err := order.PlanReorder(siblings, id, newBeforeSiblingID)
		if err != nil {
			return err
		}

		next := node.Clone()
		next.BeforeSiblingID = plan.TargetBefore
		reordered, err = o.store.Put(ctx, next, node.Version)
		if err != nil {
			return err
		}
		return o.applyRewires(ctx, plan.Rewires)
	})
	if err != nil {
		return nil, err
	}

	o.publisher.Publish(events.NewChange(reordered.ID, events.KindReordered, reordered.Version))
	return reordered, nil
}

// DeleteNode cascades over the node's subtree and repairs the surviving
// sibling chain. Version conflicts between the read and the delete are
// retried with backoff before surfacing.
func (o *NodeOperations) DeleteNode(ctx context.Context, id string) (ports.DeleteSummary, error) {
	// Mirror of the create path: once the cascade has committed the node is
	// gone, so a conflicted chain-repair rewire must not re-read it (that can
	// only yield NotFound). The closure records the commit and each retry
	// re-drives only the outstanding repair rewires.
	var summary ports.DeleteSummary
	var repair []order.Rewire
	deleted := false
	err := o.withRetry(ctx, "delete_node", func() error {
		if !deleted {
			node, err := o.store.Get(ctx, id)
			if err != nil {
				return err
			}

			// Plan the chain repair before the subtree disappears.
			var plan order.Plan
			if node.ParentID != nil {
				siblings, err := o.siblingsOf(ctx, *node.ParentID)
				if err != nil {
					return err
				}
				if plan, err = order.PlanDetach(siblings, node.ID); err != nil {
					return err
				}
			}

			summary, err = o.store.DeleteSubtree(ctx, id, node.Version)
			if err != nil {
				return err
			}
			deleted = true
			repair = plan.Rewires
		}
		return o.applyRewires(ctx, repair)
	})
	if err != nil {
		return ports.DeleteSummary{}, err
	}

	o.publisher.Publish(events.NewChange(id, events.KindDeleted, 0))
	return summary, nil
}

// GetNode returns a single node by id.
func (o *NodeOperations) GetNode(ctx context.Context, id string) (*entities.Node, error) {
	return o.store.Get(ctx, id)
}

// QueryNodes returns nodes matching the filter.
func (o *NodeOperations) QueryNodes(ctx context.Context, filter ports.Filter) ([]*entities.Node, error) {
	return o.store.Query(ctx, filter)
}

// Children returns a parent's children in sibling-chain order.
func (o *NodeOperations) Children(ctx context.Context, parentID string) ([]*entities.Node, error) {
	siblings, err := o.siblingsOf(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return order.Chain(siblings)
}

// Backlinks returns the ids of nodes whose content mentions the given node.
func (o *NodeOperations) Backlinks(ctx context.Context, id string) ([]string, error) {
	if _, err := o.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return o.store.Backlinks(ctx, id)
}

// EnsureDateContainer returns the container node for a calendar date, creating
// it under its deterministic id on first use. A creation race falls back to
// reading the winner's node.
func (o *NodeOperations) EnsureDateContainer(ctx context.Context, day time.Time) (*entities.Node, error) {
	id := valueobjects.NewDateNodeID(day).String()
	if node, err := o.store.Get(ctx, id); err == nil {
		return node, nil
	} else if !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	created, err := o.store.Put(ctx, entities.NewDateContainer(day), 0)
	if err != nil {
		if pkgerrors.IsVersionConflict(err) {
			return o.store.Get(ctx, id)
		}
		return nil, err
	}

	o.publisher.Publish(events.NewChange(created.ID, events.KindCreated, created.Version))
	return created, nil
}

// SetEmbedding stores the opaque embedding blob produced by the external
// embedding collaborator. The blob is never interpreted here.
func (o *NodeOperations) SetEmbedding(ctx context.Context, id string, vector []byte) error {
	return o.withRetry(ctx, "set_embedding", func() error {
		node, err := o.store.Get(ctx, id)
		if err != nil {
			return err
		}
		next := node.Clone()
		next.EmbeddingVector = vector
		_, err = o.store.Put(ctx, next, node.Version)
		return err
	})
}

// internals

func (o *NodeOperations) buildNode(input CreateNodeInput) (*entities.Node, error) {
	nodeType := entities.NodeType(input.NodeType)

	if input.ID != "" {
		// Explicit ids are reserved for deterministic container keys.
		if !nodeType.IsContainer() {
			return nil, pkgerrors.NewValidationError("only container nodes may carry an explicit id")
		}
		if _, err := valueobjects.NewNodeIDFromString(input.ID); err != nil {
			return nil, pkgerrors.NewValidationError(err.Error())
		}
	}

	node, err := entities.NewNode(nodeType, input.Content)
	if err != nil {
		return nil, err
	}
	if input.ID != "" {
		node.ID = input.ID
	}
	node.ParentID = input.ParentID
	for k, v := range input.Properties {
		node.Properties[k] = v
	}
	return node, nil
}

// resolveContainer applies the container policy: an explicit container must
// exist and be a designated container type; otherwise the container is
// inferred from the parent, and a parent without one is a hard
// ContainerInferenceError rather than a silent default.
func (o *NodeOperations) resolveContainer(ctx context.Context, node *entities.Node, explicit *string) error {
	if explicit != nil {
		container, err := o.store.Get(ctx, *explicit)
		if err != nil {
			return err
		}
		if !container.IsContainer() {
			return pkgerrors.NewContainerConsistencyError(
				fmt.Sprintf("node %s is not a container type", *explicit))
		}
		node.ContainerID = explicit
		return nil
	}

	if node.IsContainer() {
		// Containers are root-level; they carry no container themselves.
		return nil
	}

	if node.ParentID == nil {
		return pkgerrors.NewContainerInferenceError(
			"node has neither parent nor container; non-container nodes must live inside a container")
	}

	parent, err := o.store.Get(ctx, *node.ParentID)
	if err != nil {
		return err
	}
	inferred := containerImpliedByParent(parent)
	if inferred == nil {
		return pkgerrors.NewContainerInferenceError(fmt.Sprintf(
			"parent %s has no container to inherit", parent.ID))
	}
	node.ContainerID = inferred
	return nil
}

// checkHierarchy enforces the parent/container consistency invariant: a
// parent, when set, must resolve to the same container as the node.
func (o *NodeOperations) checkHierarchy(ctx context.Context, parentID, containerID *string) error {
	if parentID == nil {
		return nil
	}
	parent, err := o.store.Get(ctx, *parentID)
	if err != nil {
		return err
	}
	expected := containerImpliedByParent(parent)
	if !entities.SameContainer(expected, containerID) {
		return pkgerrors.NewContainerConsistencyError(fmt.Sprintf(
			"parent %s implies container %s, node declares %s",
			*parentID, refString(expected), refString(containerID))).
			WithDetails(map[string]interface{}{
				"parent_id":    *parentID,
				"implied":      refString(expected),
				"container_id": refString(containerID),
			})
	}
	return nil
}

// checkNoCycle walks ancestors of the proposed parent; finding the node there
// would make it its own ancestor.
func (o *NodeOperations) checkNoCycle(ctx context.Context, nodeID string, newParent *entities.Node) error {
	cur := newParent
	for depth := 0; depth < maxAncestorDepth; depth++ {
		if cur.ID == nodeID {
			return pkgerrors.NewValidationError("cannot move a node under its own descendant")
		}
		if cur.ParentID == nil {
			return nil
		}
		next, err := o.store.Get(ctx, *cur.ParentID)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		cur = next
	}
	return pkgerrors.NewValidationError("ancestor chain exceeds maximum depth")
}

func (o *NodeOperations) siblingsOf(ctx context.Context, parentID string) ([]*entities.Node, error) {
	return o.store.Query(ctx, ports.Filter{ParentID: &parentID})
}

func (o *NodeOperations) planInsert(ctx context.Context, node *entities.Node, hint *string, hintGiven bool) (order.Plan, error) {
	if node.ParentID == nil {
		// Root-level nodes (containers) keep no sibling chain.
		return order.Plan{}, nil
	}
	siblings, err := o.siblingsOf(ctx, *node.ParentID)
	if err != nil {
		return order.Plan{}, err
	}
	return order.PlanInsert(siblings, node.ID, hint, hintGiven)
}

// applyRewires applies predecessor-pointer updates through the optimistic
// write path. A target that vanished mid-flight was deleted concurrently and
// its pointer no longer matters.
func (o *NodeOperations) applyRewires(ctx context.Context, rewires []order.Rewire) error {
	for _, rw := range rewires {
		node, err := o.store.Get(ctx, rw.NodeID)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				continue
			}
			return err
		}
		next := node.Clone()
		next.BeforeSiblingID = rw.NewBefore
		if _, err := o.store.Put(ctx, next, node.Version); err != nil {
			return err
		}
	}
	return nil
}

func (o *NodeOperations) syncMentions(ctx context.Context, node *entities.Node) error {
	return o.store.ReplaceMentions(ctx, node.ID, entities.ExtractMentions(node.Content))
}

// withRetry runs fn, retrying only version conflicts with exponential backoff
// plus jitter. Every other error surfaces immediately.
func (o *NodeOperations) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.baseBackoff << (attempt - 1)
			backoff += time.Duration(rand.Int63n(int64(o.baseBackoff)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return pkgerrors.NewTimeoutError(op).WithCause(ctx.Err())
			}
			o.logger.Debug("retrying after version conflict",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
			)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !pkgerrors.IsVersionConflict(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// containerImpliedByParent resolves which container a child of the given
// parent must declare: the parent itself when it is a container, otherwise the
// parent's own container.
func containerImpliedByParent(parent *entities.Node) *string {
	if parent.IsContainer() {
		id := parent.ID
		return &id
	}
	return parent.ContainerID
}

func withoutNode(siblings []*entities.Node, id string) []*entities.Node {
	out := siblings[:0:0]
	for _, s := range siblings {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func refString(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}
