// Package rpc is the protocol surface: a JSON-RPC 2.0 dispatcher over the
// business-rule layer, served identically on a newline-delimited byte stream
// and on HTTP POST /mcp.
package rpc

import "encoding/json"

// ProtocolVersion is returned by initialize and identifies the wire contract.
const ProtocolVersion = "1.0"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *uint64     `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is the JSON-RPC error object. Code is stable per failure kind so
// calling agents can branch without string matching.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func successResponse(id *uint64, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id *uint64, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

// OptionalString distinguishes an absent JSON key from an explicit null.
// The sibling-position hint needs all three states: absent means append to
// tail, null means become head, a value means insert after that sibling.
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON implements json.Unmarshaler; it only runs when the key is
// present, which is what records Set.
func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// initializeParams is accepted for forward compatibility; the engine does not
// currently branch on client info.
type initializeParams struct {
	ProtocolVersion string                 `json:"protocol_version,omitempty"`
	ClientInfo      map[string]interface{} `json:"client_info,omitempty"`
}

// InitializeResult is the capability-negotiation payload.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocol_version"`
	ServerInfo      ServerInfo `json:"server_info"`
	Methods         []string   `json:"methods"`
}

// ServerInfo identifies the engine to the connecting agent.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type createNodeParams struct {
	ID              string                 `json:"id,omitempty"`
	NodeType        string                 `json:"node_type" validate:"required"`
	Content         string                 `json:"content"`
	ParentID        *string                `json:"parent_id,omitempty"`
	ContainerID     *string                `json:"container_id,omitempty"`
	BeforeSiblingID OptionalString         `json:"before_sibling_id,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
}

type getNodeParams struct {
	ID string `json:"id" validate:"required"`
}

// updateNodeParams deliberately has no hierarchy fields; passing parent_id,
// container_id or before_sibling_id here is an unknown-field decode error,
// which keeps content edits and structural changes on separate audit trails.
type updateNodeParams struct {
	ID         string                 `json:"id" validate:"required"`
	Content    *string                `json:"content,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type moveNodeParams struct {
	ID          string `json:"id" validate:"required"`
	NewParentID string `json:"new_parent_id" validate:"required"`
}

type reorderNodeParams struct {
	ID                 string         `json:"id" validate:"required"`
	NewBeforeSiblingID OptionalString `json:"new_before_sibling_id"`
}

type deleteNodeParams struct {
	ID string `json:"id" validate:"required"`
}

type queryNodesParams struct {
	NodeType    *string `json:"node_type,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
	ContainerID *string `json:"container_id,omitempty"`
	RootsOnly   bool    `json:"roots_only,omitempty"`
	Limit       int     `json:"limit,omitempty" validate:"gte=0"`
}

type createNodesFromMarkdownParams struct {
	ParentID string `json:"parent_id" validate:"required"`
	Markdown string `json:"markdown" validate:"required"`
}

type getMarkdownParams struct {
	NodeID string `json:"node_id" validate:"required"`
}
