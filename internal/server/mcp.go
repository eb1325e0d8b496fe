package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/akashicode/docuquery/internal/session"
)

// MCPTool represents an MCP tool definition.
type MCPTool struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	InputSchema MCPSchema `json:"inputSchema"`
}

// MCPSchema represents a JSON schema for tool inputs.
type MCPSchema struct {
	Type       string             `json:"type"`
	Properties map[string]MCPProp `json:"properties"`
	Required   []string           `json:"required"`
}

// MCPProp represents a single parameter property.
type MCPProp struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// MCPRequest is an incoming MCP JSON-RPC request.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse is an outgoing MCP JSON-RPC response.
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes.
const (
	rpcParseError     = -32700
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

const (
	toolAskDocument = "ask_document"
	toolAskSession  = "ask_session"
)

// handleMCPSSE announces the JSON-RPC endpoint as a Server-Sent Events stream
// and keeps the connection open until the client leaves.
func (s *Server) handleMCPSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	infoJSON, _ := json.Marshal(map[string]interface{}{
		"type": "endpoint",
		"url":  "/mcp",
	})
	fmt.Fprintf(w, "data: %s\n\n", infoJSON)
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// handleMCPRPC processes MCP JSON-RPC requests.
func (s *Server) handleMCPRPC(w http.ResponseWriter, r *http.Request) {
	var req MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, rpcParseError, "parse error: "+err.Error())
		return
	}

	var result interface{}
	var rpcErr *MCPError

	switch req.Method {
	case "initialize":
		result = s.mcpInitialize()
	case "tools/list":
		result = map[string]interface{}{"tools": mcpTools()}
	case "tools/call":
		result, rpcErr = s.mcpCallTool(r, req.Params)
	default:
		rpcErr = &MCPError{Code: rpcMethodNotFound, Message: "method not found: " + req.Method}
	}

	writeJSON(w, http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   rpcErr,
	})
}

func (s *Server) mcpInitialize() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "docuquery",
			"version": "1.0.0",
		},
	}
}

func mcpTools() []MCPTool {
	question := MCPProp{Type: "string", Description: "The question to answer from the document"}
	return []MCPTool{
		{
			Name:        toolAskDocument,
			Description: "Answer a question strictly from the supplied document text. Says so when the document does not contain the answer.",
			InputSchema: MCPSchema{
				Type: "object",
				Properties: map[string]MCPProp{
					"document_text": {Type: "string", Description: "Full text of the document"},
					"question":      question,
				},
				Required: []string{"document_text", "question"},
			},
		},
		{
			Name:        toolAskSession,
			Description: "Ask a question about the PDF loaded in an existing docuquery session. The exchange is added to the session's conversation.",
			InputSchema: MCPSchema{
				Type: "object",
				Properties: map[string]MCPProp{
					"session_id": {Type: "string", Description: "Session id returned by POST /api/sessions"},
					"question":   question,
				},
				Required: []string{"session_id", "question"},
			},
		},
	}
}

func (s *Server) mcpCallTool(r *http.Request, params json.RawMessage) (interface{}, *MCPError) {
	if !gjson.ValidBytes(params) {
		return nil, &MCPError{Code: rpcInvalidParams, Message: "invalid params"}
	}
	p := gjson.ParseBytes(params)
	args := p.Get("arguments")
	question := args.Get("question").String()
	if question == "" {
		return nil, &MCPError{Code: rpcInvalidParams, Message: "question argument is required"}
	}

	switch name := p.Get("name").String(); name {
	case toolAskDocument:
		doc := args.Get("document_text").String()
		if doc == "" {
			return nil, &MCPError{Code: rpcInvalidParams, Message: "document_text argument is required"}
		}
		text, err := s.answerDirect(r, doc, question)
		if err != nil {
			return nil, &MCPError{Code: rpcInternalError, Message: err.Error()}
		}
		return toolText(text, false), nil

	case toolAskSession:
		entry, err := s.sessions.Get(args.Get("session_id").String())
		if err != nil {
			return nil, &MCPError{Code: rpcInvalidParams, Message: err.Error()}
		}
		h, err := entry.Controller.Ask(context.WithoutCancel(r.Context()), question)
		if err != nil {
			return nil, &MCPError{Code: rpcInvalidParams, Message: err.Error()}
		}
		ex, err := entry.Controller.Exchange(h)
		if err != nil {
			return nil, &MCPError{Code: rpcInternalError, Message: session.ErrSessionReset.Error()}
		}
		return toolText(ex.Answer, ex.IsError), nil

	default:
		return nil, &MCPError{Code: rpcInvalidParams, Message: "unknown tool: " + name}
	}
}

func (s *Server) answerDirect(r *http.Request, doc, question string) (string, error) {
	svc := newAnswerService(s)
	return svc.Answer(r.Context(), doc, question)
}

func toolText(text string, isError bool) map[string]interface{} {
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"isError": isError,
	}
}

func writeJSONRPCError(w http.ResponseWriter, id interface{}, code int, msg string) {
	writeJSON(w, http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &MCPError{Code: code, Message: msg},
	})
}
