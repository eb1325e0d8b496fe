package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/akashicode/docuquery/internal/answer"
	"github.com/akashicode/docuquery/internal/config"
)

// Boundary messages of the chat endpoint.
const (
	msgMethodNotAllowed = "Method Not Allowed"
	msgMisconfigured    = "Server misconfiguration: API Key not set"
	msgInvalidJSON      = "Invalid JSON body"
)

// maxChatBodyBytes bounds a /api/chat body. It carries a whole document's
// text, which can be larger than the PDF it came from.
const maxChatBodyBytes = 32 << 20

// ValidationError reports a malformed or incomplete request body.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// decodeBody decodes a JSON body into dst and runs struct validation on it.
// Decode failures carry invalidMsg, missing fields carry missingMsg.
func (s *Server) decodeBody(r *http.Request, dst interface{}, invalidMsg, missingMsg string) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ValidationError{Message: invalidMsg, Err: err}
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &ValidationError{Message: missingMsg, Err: verrs}
		}
		return &ValidationError{Message: missingMsg, Err: err}
	}
	return nil
}

// handleChat handles POST /api/chat: {"documentText","question"} -> {"answer"}.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}
	if s.cfg.Completer == nil {
		s.log.Error().Msg("chat request rejected: no API key configured")
		writeError(w, http.StatusInternalServerError, msgMisconfigured)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req answer.Request
	if err := s.decodeBody(r, &req, msgInvalidJSON, answer.MsgMissingFields); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		s.log.Debug().Err(err).Msg("chat request rejected")
		writeError(w, http.StatusBadRequest, verr.Message)
		return
	}

	resp := s.complete(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// complete answers req through the configured completer, encoding the reply
// like /api/chat does. Sessions use it in-process.
func (s *Server) complete(ctx context.Context, req answer.Request) answer.Response {
	if s.cfg.Completer == nil {
		body, _ := json.Marshal(map[string]string{"error": msgMisconfigured})
		return answer.Response{Status: http.StatusInternalServerError, Body: body, Cause: config.ErrMissingAPIKey}
	}

	resp, err := answer.Complete(ctx, s.cfg.Completer, req)
	if err != nil {
		s.log.Error().Err(err).Int("doc_chars", len(req.DocumentText)).Msg("completion failed")
	}
	return resp
}

// boundaryRemote lets sessions reach the chat boundary without a network hop.
type boundaryRemote struct {
	s *Server
}

func (b boundaryRemote) Submit(ctx context.Context, req answer.Request) (answer.Response, error) {
	return b.s.complete(ctx, req), nil
}
