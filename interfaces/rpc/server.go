package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"nodebase/application/ports"
	"nodebase/application/services"
	pkgerrors "nodebase/pkg/errors"
	"nodebase/pkg/utils"
)

// methodNames is the list advertised by initialize, in dispatch order.
var methodNames = []string{
	"initialize",
	"create_node",
	"get_node",
	"update_node",
	"move_node",
	"reorder_node",
	"delete_node",
	"query_nodes",
	"create_nodes_from_markdown",
	"get_markdown_from_node_id",
}

// Server dispatches JSON-RPC requests onto NodeOperations. Both transports
// share one Server, so the initialize gate and the request timeout apply
// identically to stdio and HTTP callers.
type Server struct {
	ops     *services.NodeOperations
	logger  *zap.Logger
	timeout time.Duration

	serverName    string
	serverVersion string

	initialized atomic.Bool
}

// NewServer creates a JSON-RPC server over the business-rule layer
func NewServer(ops *services.NodeOperations, logger *zap.Logger, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		ops:           ops,
		logger:        logger,
		timeout:       timeout,
		serverName:    "nodebase",
		serverVersion: "0.1.0",
	}
}

// Handle processes one raw JSON-RPC request and returns the encoded response.
// It never returns an error; every failure becomes a JSON-RPC error object.
func (s *Server) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeResponse(s.logger, errorResponse(nil, pkgerrors.RPCCodeParseError, "parse error"))
	}
	return encodeResponse(s.logger, s.dispatch(ctx, &req))
}

func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	if req.JSONRPC != "2.0" {
		return protocolFailure(req.ID, pkgerrors.NewProtocolError("jsonrpc must be \"2.0\""))
	}
	if req.Method == "" {
		return protocolFailure(req.ID, pkgerrors.NewProtocolError("method is required"))
	}

	// Capability negotiation must complete before anything else is accepted.
	if req.Method != "initialize" && !s.initialized.Load() {
		return protocolFailure(req.ID,
			pkgerrors.NewProtocolError("server not initialized: call initialize first"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.route(ctx, req)
	if err != nil {
		code := rpcCode(err)
		s.logger.Warn("rpc call failed",
			zap.String("method", req.Method),
			zap.Int("code", code),
			zap.Error(err),
		)
		resp := errorResponse(req.ID, code, errorMessage(err))
		if appErr := pkgerrors.GetAppError(err); appErr != nil && len(appErr.Details) > 0 {
			resp.Error.Data = appErr.Details
		}
		return resp
	}

	s.logger.Debug("rpc call",
		zap.String("method", req.Method),
		zap.Duration("duration", time.Since(start)),
	)
	return successResponse(req.ID, result)
}

func (s *Server) route(ctx context.Context, req *Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "create_node":
		return s.handleCreateNode(ctx, req.Params)
	case "get_node":
		return s.handleGetNode(ctx, req.Params)
	case "update_node":
		return s.handleUpdateNode(ctx, req.Params)
	case "move_node":
		return s.handleMoveNode(ctx, req.Params)
	case "reorder_node":
		return s.handleReorderNode(ctx, req.Params)
	case "delete_node":
		return s.handleDeleteNode(ctx, req.Params)
	case "query_nodes":
		return s.handleQueryNodes(ctx, req.Params)
	case "create_nodes_from_markdown":
		return s.handleCreateNodesFromMarkdown(ctx, req.Params)
	case "get_markdown_from_node_id":
		return s.handleGetMarkdown(ctx, req.Params)
	default:
		return nil, &methodNotFoundError{method: req.Method}
	}
}

func (s *Server) handleInitialize(raw json.RawMessage) (interface{}, error) {
	var params initializeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	s.initialized.Store(true)
	s.logger.Info("client initialized",
		zap.String("clientProtocol", params.ProtocolVersion),
	)
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      ServerInfo{Name: s.serverName, Version: s.serverVersion},
		Methods:         methodNames,
	}, nil
}

func (s *Server) handleCreateNode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params createNodeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.ops.CreateNode(ctx, services.CreateNodeInput{
		ID:                 params.ID,
		NodeType:           params.NodeType,
		Content:            params.Content,
		ParentID:           params.ParentID,
		ContainerID:        params.ContainerID,
		BeforeSiblingID:    params.BeforeSiblingID.Value,
		BeforeSiblingGiven: params.BeforeSiblingID.Set,
		Properties:         params.Properties,
	})
}

func (s *Server) handleGetNode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params getNodeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.ops.GetNode(ctx, params.ID)
}

func (s *Server) handleUpdateNode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params updateNodeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.ops.UpdateNode(ctx, params.ID, params.Content, params.Properties)
}

func (s *Server) handleMoveNode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params moveNodeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.ops.MoveNode(ctx, params.ID, params.NewParentID)
}

func (s *Server) handleReorderNode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params reorderNodeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.ops.ReorderNode(ctx, params.ID, params.NewBeforeSiblingID.Value)
}

func (s *Server) handleDeleteNode(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params deleteNodeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.ops.DeleteNode(ctx, params.ID)
}

func (s *Server) handleQueryNodes(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params queryNodesParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	nodes, err := s.ops.QueryNodes(ctx, ports.Filter{
		NodeType:    params.NodeType,
		ParentID:    params.ParentID,
		ContainerID: params.ContainerID,
		RootsOnly:   params.RootsOnly,
		Limit:       params.Limit,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	}, nil
}

func (s *Server) handleCreateNodesFromMarkdown(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params createNodesFromMarkdownParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	nodes, err := s.ops.CreateNodesFromMarkdown(ctx, params.ParentID, params.Markdown)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	}, nil
}

func (s *Server) handleGetMarkdown(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params getMarkdownParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	markdown, err := s.ops.MarkdownFromNode(ctx, params.NodeID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"markdown": markdown}, nil
}

// decodeParams strictly decodes params into dst. Unknown fields are rejected
// so a hierarchy field smuggled into update_node fails loudly instead of
// being dropped.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &invalidParamsError{cause: err}
	}
	if err := utils.ValidateStruct(dst); err != nil {
		return &invalidParamsError{cause: err}
	}
	return nil
}

type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) Error() string {
	return fmt.Sprintf("method not found: %s", e.method)
}

type invalidParamsError struct{ cause error }

func (e *invalidParamsError) Error() string {
	return fmt.Sprintf("invalid params: %v", e.cause)
}

func (e *invalidParamsError) Unwrap() error { return e.cause }

// rpcCode maps dispatch-level failures to the standard JSON-RPC codes and
// everything else to the application error range.
func rpcCode(err error) int {
	var mnf *methodNotFoundError
	if errors.As(err, &mnf) {
		return pkgerrors.RPCCodeMethodNotFound
	}
	var ip *invalidParamsError
	if errors.As(err, &ip) {
		return pkgerrors.RPCCodeInvalidParams
	}
	return pkgerrors.RPCCodeFor(err)
}

func protocolFailure(id *uint64, err *pkgerrors.AppError) Response {
	return errorResponse(id, err.RPCCode, err.Message)
}

func errorMessage(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return appErr.Message
	}
	return err.Error()
}

func encodeResponse(logger *zap.Logger, resp Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		logger.Error("response marshal failed", zap.Error(err))
		fallback, _ := json.Marshal(errorResponse(resp.ID, pkgerrors.RPCCodeInternal, "internal error"))
		return fallback
	}
	return out
}
