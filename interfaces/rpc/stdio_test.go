package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// syncWriter collects whole response lines.
type syncWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (w *syncWriter) responses(t *testing.T) map[uint64]Response {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[uint64]Response, len(w.lines))
	for _, line := range w.lines {
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		require.NotNil(t, resp.ID)
		out[*resp.ID] = resp
	}
	return out
}

func TestStdioRoundTrip(t *testing.T) {
	server := newTestServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"create_node","params":{"node_type":"date","content":"2025-01-03","id":"2025-01-03"}}`,
	}, "\n") + "\n"

	out := &syncWriter{}
	transport := NewStdioTransport(server, strings.NewReader(input), out, zap.NewNop())
	require.NoError(t, transport.Run(context.Background()))

	responses := out.responses(t)
	require.Len(t, responses, 2)
	assert.Nil(t, responses[1].Error)
	assert.Nil(t, responses[2].Error)

	result, ok := responses[2].Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2025-01-03", result["id"])
}

func TestStdioCancellation(t *testing.T) {
	server := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	pr, pw := io.Pipe()
	out := &syncWriter{}
	transport := NewStdioTransport(server, pr, out, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- transport.Run(ctx) }()

	w := bufio.NewWriter(pw)
	_, err := w.WriteString(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	cancel()
	// A cancelled context stops the loop on the next read.
	_, err = w.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop after cancellation")
	}
	pw.Close()
}
