package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/aivox/voxengine/model"
)

const jsonrpcVersion = "2.0"

// Request is an inbound JSON-RPC 2.0 call, carried inside the transport's
// {type:"mcp", payload:<rpc>} envelope. The engine is always the server
// and the remote model always the client, so Request models only what
// the server needs to read.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 result or error.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Message string `json:"message"`
}

// ParseRequest decodes data as a JSON-RPC request, rejecting any payload
// whose jsonrpc field isn't exactly "2.0".
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode mcp request: %w", err)
	}
	if req.JSONRPC != jsonrpcVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)
	}
	return &req, nil
}

// Handle dispatches a parsed request against reg. It returns a ready-made
// Response for "initialize" and "tools/list". For "tools/call" it returns
// no response — the host must eventually call BuildCallResponse or
// BuildCallError — and instead returns the PendingToolCall to surface as
// an McpToolCall observer event.
func Handle(reg *Registry, serverVersion string, req *Request) (*Response, *model.PendingToolCall, error) {
	switch req.Method {
	case "initialize":
		if req.ID == nil {
			return nil, nil, fmt.Errorf("initialize without id")
		}
		return &Response{
			JSONRPC: jsonrpcVersion,
			ID:      *req.ID,
			Result: map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo": map[string]any{
					"name":    "ai-vox",
					"version": serverVersion,
				},
			},
		}, nil, nil

	case "tools/list":
		if req.ID == nil {
			return nil, nil, fmt.Errorf("tools/list without id")
		}
		return &Response{
			JSONRPC: jsonrpcVersion,
			ID:      *req.ID,
			Result:  reg.ToolsListResult(),
		}, nil, nil

	case "tools/call":
		if req.ID == nil {
			return nil, nil, fmt.Errorf("tools/call without id")
		}
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, nil, fmt.Errorf("decode tools/call params: %w", err)
		}

		args := make(map[string]model.Variant, len(params.Arguments))
		for k, v := range params.Arguments {
			switch val := v.(type) {
			case string:
				args[k] = model.NewStringVariant(val)
			case bool:
				args[k] = model.NewBoolVariant(val)
			case float64:
				args[k] = model.NewIntVariant(int64(val)) // truncate toward zero
			default:
				// unknown kind (array/object/null): omitted, not coerced.
			}
		}

		return nil, &model.PendingToolCall{
			ID:        *req.ID,
			Name:      params.Name,
			Arguments: args,
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown mcp method %q", req.Method)
	}
}

// BuildCallResponse renders the JSON-RPC success envelope for a completed
// tool call, matching EngineImpl::SendMcpCallResponse: non-string values
// are stringified (decimal for integers, "true"/"false" for booleans).
func BuildCallResponse(id int64, value model.Variant) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Result: map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": value.AsText()},
			},
			"isError": false,
		},
	}
}

// BuildCallError renders the JSON-RPC error envelope for a failed tool
// call, matching EngineImpl::SendMcpCallError.
func BuildCallError(id int64, message string) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Message: message},
	}
}
