package gateway

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes. The -32000 range holds implementation-defined
// codes for timeouts and dropped connections.
const (
	codeParseError       = -32700
	codeInvalidRequest   = -32600
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeInternalError    = -32603
	codeRequestTimeout   = -32001
	codeConnectionClosed = -32002
)

// rpcRequest is one decoded JSON-RPC 2.0 request. ID keeps whatever JSON
// type the client sent (string or number); a client that omits it on
// initialize gets an empty-string id back.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func decodeRequest(body []byte) (*rpcRequest, error) {
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse json-rpc request: %w", err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("json-rpc request has no method")
	}
	if req.ID == nil {
		req.ID = ""
	}
	return &req, nil
}

type rpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcError struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      any          `json:"id"`
	Error   rpcErrorBody `json:"error"`
}

func newResponse(id, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func newError(id any, code int, message string) *rpcError {
	if id == nil {
		id = ""
	}
	return &rpcError{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErrorBody{Code: code, Message: message},
	}
}
