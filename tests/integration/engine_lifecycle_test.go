package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodebase/infrastructure/config"
	"nodebase/infrastructure/di"
	"nodebase/interfaces/rpc"
)

func testConfig(t *testing.T, dbPath string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		ServerAddress:  "127.0.0.1:0",
		Environment:    "development",
		DatabasePath:   dbPath,
		EnableHTTP:     true,
		EnableStdio:    true,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		LogLevel:       "error",
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func rpcCall(t *testing.T, server *rpc.Server, id uint64, method, params string) rpc.Response {
	t.Helper()
	raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"%s"`, id, method)
	if params != "" {
		raw += `,"params":` + params
	}
	raw += "}"

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(server.Handle(context.Background(), []byte(raw)), &resp))
	return resp
}

func result(t *testing.T, resp rpc.Response) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error, "rpc error: %+v", resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is %T", resp.Result)
	return m
}

// TestEngineLifecycle wires the whole stack through the injector and drives
// the protocol surface end to end against a real database file.
func TestEngineLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nodebase.db")
	cfg := testConfig(t, dbPath)

	container, cleanup, err := di.InitializeContainer(cfg)
	require.NoError(t, err)
	defer cleanup()
	server := container.RPCServer

	rpcCall(t, server, 1, "initialize", "")

	rpcCall(t, server, 2, "create_node",
		`{"node_type":"date","content":"2025-01-03","id":"2025-01-03"}`)

	imported := result(t, rpcCall(t, server, 3, "create_nodes_from_markdown",
		`{"parent_id":"2025-01-03","markdown":"- plan the week\n  - [ ] book flights\n- groceries"}`))
	assert.Equal(t, float64(3), imported["count"])

	queried := result(t, rpcCall(t, server, 4, "query_nodes", `{"container_id":"2025-01-03"}`))
	assert.Equal(t, float64(3), queried["count"])

	exported := result(t, rpcCall(t, server, 5, "get_markdown_from_node_id",
		`{"node_id":"2025-01-03"}`))
	assert.Equal(t, "- plan the week\n  - [ ] book flights\n- groceries\n", exported["markdown"])
}

// TestEnginePersistsAcrossRestart rebuilds the container on the same database
// file and checks the previous session's writes are still there.
func TestEnginePersistsAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nodebase.db")
	cfg := testConfig(t, dbPath)

	container, cleanup, err := di.InitializeContainer(cfg)
	require.NoError(t, err)
	server := container.RPCServer

	rpcCall(t, server, 1, "initialize", "")
	rpcCall(t, server, 2, "create_node",
		`{"node_type":"date","content":"2025-01-03","id":"2025-01-03"}`)
	created := result(t, rpcCall(t, server, 3, "create_node",
		`{"node_type":"task","content":"survive a restart","parent_id":"2025-01-03"}`))
	taskID, _ := created["id"].(string)
	require.NotEmpty(t, taskID)
	cleanup()

	container, cleanup, err = di.InitializeContainer(cfg)
	require.NoError(t, err)
	defer cleanup()
	server = container.RPCServer

	rpcCall(t, server, 1, "initialize", "")
	got := result(t, rpcCall(t, server, 2, "get_node", fmt.Sprintf(`{"id":"%s"}`, taskID)))
	assert.Equal(t, "survive a restart", got["content"])
	assert.Equal(t, "2025-01-03", got["container_id"])
	assert.Equal(t, float64(1), got["version"])
}
