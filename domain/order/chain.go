// Package order maintains the sibling chain: each child carries a single
// pointer to its predecessor, so insert and move are O(1) pointer rewrites
// instead of O(n) integer re-indexing. Planning is pure; the caller loads the
// sibling set, asks for a plan, and applies the rewires through the store's
// optimistic writes.
package order

import (
	"fmt"

	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

// Rewire is one predecessor-pointer update to apply to a sibling.
type Rewire struct {
	NodeID    string
	NewBefore *string
}

// Plan is the set of pointer updates that realizes one insert or reorder.
// TargetBefore is the predecessor the subject node itself ends up with.
type Plan struct {
	TargetBefore *string
	Rewires      []Rewire
}

// Head returns the sibling with no predecessor, or nil.
func Head(siblings []*entities.Node) *entities.Node {
	for _, s := range siblings {
		if s.BeforeSiblingID == nil {
			return s
		}
	}
	return nil
}

// SuccessorOf returns the sibling whose predecessor pointer names id, or nil.
func SuccessorOf(siblings []*entities.Node, id string) *entities.Node {
	for _, s := range siblings {
		if s.BeforeSiblingID != nil && *s.BeforeSiblingID == id {
			return s
		}
	}
	return nil
}

// Tail returns the last sibling, found by following successor links from the
// head until no successor exists.
func Tail(siblings []*entities.Node) *entities.Node {
	cur := Head(siblings)
	if cur == nil {
		return nil
	}
	for i := 0; i <= len(siblings); i++ {
		next := SuccessorOf(siblings, cur.ID)
		if next == nil {
			return cur
		}
		cur = next
	}
	// Cycle; Verify reports the detail.
	return cur
}

// Chain returns the siblings in order, head first. It fails on any shape that
// violates the single-linked-list invariant.
func Chain(siblings []*entities.Node) ([]*entities.Node, error) {
	if err := Verify(siblings); err != nil {
		return nil, err
	}

	out := make([]*entities.Node, 0, len(siblings))
	cur := Head(siblings)
	for cur != nil {
		out = append(out, cur)
		cur = SuccessorOf(siblings, cur.ID)
	}
	return out, nil
}

// Verify checks that the siblings form exactly one linked list with no
// branching and no cycles: at most one head, every predecessor pointer names a
// sibling, no two siblings share a predecessor, and traversal from the head
// reaches every node.
func Verify(siblings []*entities.Node) error {
	if len(siblings) == 0 {
		return nil
	}

	byID := make(map[string]*entities.Node, len(siblings))
	for _, s := range siblings {
		if _, dup := byID[s.ID]; dup {
			return pkgerrors.NewValidationError(fmt.Sprintf("duplicate sibling id %s", s.ID))
		}
		byID[s.ID] = s
	}

	heads := 0
	succCount := make(map[string]int, len(siblings))
	for _, s := range siblings {
		if s.BeforeSiblingID == nil {
			heads++
			continue
		}
		before := *s.BeforeSiblingID
		if _, ok := byID[before]; !ok {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("sibling %s points at %s which is not a sibling", s.ID, before))
		}
		if before == s.ID {
			return pkgerrors.NewValidationError(fmt.Sprintf("sibling %s points at itself", s.ID))
		}
		succCount[before]++
		if succCount[before] > 1 {
			return pkgerrors.NewValidationError(
				fmt.Sprintf("sibling %s has multiple successors", before))
		}
	}
	if heads != 1 {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("sibling chain has %d heads, want 1", heads))
	}

	visited := 0
	cur := Head(siblings)
	for cur != nil && visited <= len(siblings) {
		visited++
		cur = SuccessorOf(siblings, cur.ID)
	}
	if visited != len(siblings) {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("sibling chain covers %d of %d nodes", visited, len(siblings)))
	}
	return nil
}

// PlanInsert positions a new node among existing siblings.
//
// hintGiven=false appends after the current tail. hintGiven=true with a nil
// hint makes the node the new head; a non-nil hint places it directly after
// that sibling. When two writers race for the same predecessor the later write
// wins the pointer and the earlier node becomes the newcomer's successor —
// reordered, never lost.
func PlanInsert(siblings []*entities.Node, newID string, hint *string, hintGiven bool) (Plan, error) {
	if !hintGiven {
		tail := Tail(siblings)
		if tail == nil {
			return Plan{TargetBefore: nil}, nil
		}
		id := tail.ID
		return Plan{TargetBefore: &id}, nil
	}

	if hint == nil {
		plan := Plan{TargetBefore: nil}
		if oldHead := Head(siblings); oldHead != nil && oldHead.ID != newID {
			before := newID
			plan.Rewires = append(plan.Rewires, Rewire{NodeID: oldHead.ID, NewBefore: &before})
		}
		return plan, nil
	}

	if *hint == newID {
		return Plan{}, pkgerrors.NewValidationError("node cannot be its own sibling predecessor")
	}
	found := false
	for _, s := range siblings {
		if s.ID == *hint {
			found = true
			break
		}
	}
	if !found {
		return Plan{}, pkgerrors.NewNotFoundError(fmt.Sprintf("sibling %s", *hint))
	}

	before := *hint
	plan := Plan{TargetBefore: &before}
	if succ := SuccessorOf(siblings, *hint); succ != nil && succ.ID != newID {
		nb := newID
		plan.Rewires = append(plan.Rewires, Rewire{NodeID: succ.ID, NewBefore: &nb})
	}
	return plan, nil
}

// PlanDetach unlinks a node from its chain: its successor inherits the node's
// predecessor pointer.
func PlanDetach(siblings []*entities.Node, nodeID string) (Plan, error) {
	var node *entities.Node
	for _, s := range siblings {
		if s.ID == nodeID {
			node = s
			break
		}
	}
	if node == nil {
		return Plan{}, pkgerrors.NewNotFoundError(fmt.Sprintf("sibling %s", nodeID))
	}

	var plan Plan
	if succ := SuccessorOf(siblings, nodeID); succ != nil {
		plan.Rewires = append(plan.Rewires, Rewire{NodeID: succ.ID, NewBefore: node.BeforeSiblingID})
	}
	return plan, nil
}

// PlanReorder moves an existing sibling to a new position in the same chain.
// Exactly two neighbor links change hands: the old successor inherits the
// node's old predecessor, and the new predecessor's successor re-points at the
// node.
func PlanReorder(siblings []*entities.Node, nodeID string, newBefore *string) (Plan, error) {
	var node *entities.Node
	for _, s := range siblings {
		if s.ID == nodeID {
			node = s
			break
		}
	}
	if node == nil {
		return Plan{}, pkgerrors.NewNotFoundError(fmt.Sprintf("sibling %s", nodeID))
	}

	// No-op when the node already sits at the requested position.
	if sameRef(node.BeforeSiblingID, newBefore) {
		return Plan{TargetBefore: newBefore}, nil
	}

	detach, err := PlanDetach(siblings, nodeID)
	if err != nil {
		return Plan{}, err
	}

	attach, err := PlanInsert(siblings, nodeID, newBefore, true)
	if err != nil {
		return Plan{}, err
	}

	// Merge: later rewires win per node so detach and attach compose.
	final := make(map[string]*string)
	order := make([]string, 0, len(detach.Rewires)+len(attach.Rewires))
	for _, rw := range append(detach.Rewires, attach.Rewires...) {
		if rw.NodeID == nodeID {
			continue
		}
		if _, seen := final[rw.NodeID]; !seen {
			order = append(order, rw.NodeID)
		}
		final[rw.NodeID] = rw.NewBefore
	}

	plan := Plan{TargetBefore: attach.TargetBefore}
	for _, id := range order {
		plan.Rewires = append(plan.Rewires, Rewire{NodeID: id, NewBefore: final[id]})
	}
	return plan, nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
