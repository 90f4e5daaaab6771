package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewChange(t *testing.T) {
	c := NewChange("node-1", KindUpdated, 3)
	assert.Equal(t, "node-1", c.NodeID)
	assert.Equal(t, KindUpdated, c.Kind)
	assert.Equal(t, int64(3), c.Version)
	assert.WithinDuration(t, time.Now().UTC(), c.OccurredAt, time.Second)
}

func TestAsyncPublisherDelivers(t *testing.T) {
	got := make(chan Change, 1)
	p := NewAsyncPublisher(func(c Change) { got <- c }, zap.NewNop())

	p.Publish(NewChange("node-1", KindCreated, 1))

	select {
	case c := <-got:
		assert.Equal(t, "node-1", c.NodeID)
		assert.Equal(t, KindCreated, c.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("change was not delivered")
	}
}

func TestAsyncPublisherSurvivesPanickingListener(t *testing.T) {
	calls := make(chan struct{}, 2)
	p := NewAsyncPublisher(func(c Change) {
		calls <- struct{}{}
		panic("listener bug")
	}, zap.NewNop())

	p.Publish(NewChange("node-1", KindDeleted, 0))
	p.Publish(NewChange("node-2", KindDeleted, 0))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("publisher stopped delivering after a panic")
		}
	}
}

func TestNilCallbackIsIgnored(t *testing.T) {
	p := NewAsyncPublisher(nil, zap.NewNop())
	require.NotPanics(t, func() {
		p.Publish(NewChange("node-1", KindMoved, 2))
	})
}
