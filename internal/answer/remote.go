package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Boundary messages returned in the "error" field of failed replies.
const (
	MsgMissingFields = "Missing document text or question in request body"
	MsgInternal      = "Internal Server Error processing your request"
)

// maxResponseBytes bounds how much of a reply body is read.
const maxResponseBytes = 8 << 20

// Completer is an opaque text-completion capability.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Complete runs req through c and encodes the result the way the HTTP chat
// boundary does: 200 {"answer"}, 400 or 500 {"error"}. The returned error is
// the raw cause, for logging only. It is also kept in Response.Cause.
func Complete(ctx context.Context, c Completer, req Request) (Response, error) {
	if req.DocumentText == "" || req.Question == "" {
		return jsonResponse(http.StatusBadRequest, map[string]string{"error": MsgMissingFields}), nil
	}

	text, err := c.Complete(ctx, "", BuildPrompt(req.DocumentText, req.Question))
	if err != nil {
		resp := jsonResponse(http.StatusInternalServerError, map[string]string{"error": MsgInternal})
		resp.Cause = err
		return resp, err
	}
	return jsonResponse(http.StatusOK, map[string]string{"answer": text}), nil
}

func jsonResponse(status int, v any) Response {
	body, _ := json.Marshal(v)
	return Response{Status: status, Body: body}
}

// LocalRemote answers in-process through a Completer.
type LocalRemote struct {
	Completer Completer
}

// Submit implements Remote.
func (l LocalRemote) Submit(ctx context.Context, req Request) (Response, error) {
	if l.Completer == nil {
		return Response{}, ErrNoRemote
	}
	// The raw cause travels in resp.Cause so the service can report it.
	resp, _ := Complete(ctx, l.Completer, req)
	return resp, nil
}

// HTTPRemote posts requests to a docuquery /api/chat endpoint.
type HTTPRemote struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRemote creates an HTTPRemote. A nil client gets a two minute timeout.
func NewHTTPRemote(endpoint string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPRemote{endpoint: endpoint, client: client}
}

// Submit implements Remote.
func (h *HTTPRemote) Submit(ctx context.Context, req Request) (Response, error) {
	if h.endpoint == "" {
		return Response{}, errors.New("remote endpoint is empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", h.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{Status: resp.StatusCode, Body: data}, nil
}
