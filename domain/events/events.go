// Package events carries change notifications from the storage engine to the
// UI collaborator. Emission is fire-and-forget: the engine never blocks on, or
// fails because of, a listener.
package events

import (
	"time"

	"go.uber.org/zap"
)

// Kind is the operation that produced a change.
type Kind string

const (
	KindCreated   Kind = "node_created"
	KindUpdated   Kind = "node_updated"
	KindMoved     Kind = "node_moved"
	KindReordered Kind = "node_reordered"
	KindDeleted   Kind = "node_deleted"
)

// Change identifies one committed mutation. It is emitted only after the
// storage layer has returned success, so listeners never observe a change that
// later rolled back.
type Change struct {
	NodeID     string    `json:"node_id"`
	Kind       Kind      `json:"kind"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewChange builds a change stamped with the current time
func NewChange(nodeID string, kind Kind, version int64) Change {
	return Change{
		NodeID:     nodeID,
		Kind:       kind,
		Version:    version,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher receives committed changes.
type Publisher interface {
	Publish(change Change)
}

// AsyncPublisher invokes a callback on its own goroutine. A panicking listener
// is logged and dropped rather than taking the engine down.
type AsyncPublisher struct {
	fn     func(Change)
	logger *zap.Logger
}

// NewAsyncPublisher wraps the UI notification callback
func NewAsyncPublisher(fn func(Change), logger *zap.Logger) *AsyncPublisher {
	return &AsyncPublisher{fn: fn, logger: logger}
}

// Publish implements Publisher
func (p *AsyncPublisher) Publish(change Change) {
	if p.fn == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("change listener panicked",
					zap.String("nodeID", change.NodeID),
					zap.Any("panic", r),
				)
			}
		}()
		p.fn(change)
	}()
}

// NopPublisher discards all changes.
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(Change) {}
