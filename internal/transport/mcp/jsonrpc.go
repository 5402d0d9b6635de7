package mcp

import (
	"encoding/json"
	"net/http"
)

const rpcVersion = "2.0"

// JSON-RPC 2.0 error codes. codeToolFailed is in the server-defined range.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func rpcOK(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: rpcVersion, ID: id, Result: result}
}

func rpcErr(id json.RawMessage, code int, msg string, data any) rpcResponse {
	return rpcResponse{JSONRPC: rpcVersion, ID: id, Error: &rpcError{Code: code, Message: msg, Data: data}}
}

// decodeRequest returns the request, or a ready-to-send error response when
// the body is not a usable call. A missing jsonrpc member is tolerated.
func decodeRequest(body []byte) (rpcRequest, *rpcResponse) {
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		resp := rpcErr(nil, codeParseError, "parse error", err.Error())
		return req, &resp
	}
	var resp rpcResponse
	switch {
	case req.JSONRPC != "" && req.JSONRPC != rpcVersion:
		resp = rpcErr(req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
	case req.Method == "":
		resp = rpcErr(req.ID, codeInvalidRequest, "missing method", nil)
	default:
		return req, nil
	}
	return req, &resp
}

func writeRPC(rw http.ResponseWriter, status int, resp rpcResponse) {
	rw.Header().Set("content-type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(resp)
}
