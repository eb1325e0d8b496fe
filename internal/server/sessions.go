package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/akashicode/docuquery/internal/answer"
	"github.com/akashicode/docuquery/internal/conversation"
	"github.com/akashicode/docuquery/internal/reader"
	"github.com/akashicode/docuquery/internal/session"
)

// ErrTooManySessions is returned when the registry is full.
var ErrTooManySessions = errors.New("too many sessions")

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

const pdfMIME = "application/pdf"

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 1 << 20

// Entry is one registered session.
type Entry struct {
	ID         string
	Created    time.Time
	Controller *session.Controller

	seq uint64
}

// Registry holds the live sessions by id.
type Registry struct {
	mu      sync.RWMutex
	max     int
	seq     uint64
	entries map[string]*Entry
}

// NewRegistry creates a Registry holding at most limit sessions.
func NewRegistry(limit int) *Registry {
	return &Registry{max: limit, entries: make(map[string]*Entry)}
}

// Add registers a controller built by newCtrl under a fresh id.
func (r *Registry) Add(newCtrl func(id string) *session.Controller) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.entries) >= r.max {
		return nil, ErrTooManySessions
	}
	id := uuid.NewString()
	r.seq++
	e := &Entry{ID: id, Created: time.Now(), Controller: newCtrl(id), seq: r.seq}
	r.entries[id] = e
	return e, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Remove deletes a session. In-flight work of the session is discarded.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.Controller.Reset()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the session ids, oldest first.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

type sessionResponse struct {
	ID string `json:"id"`
	session.Snapshot
}

type askRequest struct {
	Question string `json:"question" validate:"required"`
}

type askResponse struct {
	sessionResponse
	Exchange int                   `json:"exchange"`
	Result   conversation.Exchange `json:"result"`
}

type sessionList struct {
	Sessions []string `json:"sessions"`
	Limit    int      `json:"limit"`
}

func newAnswerService(s *Server, opts ...answer.Option) *answer.Service {
	return answer.NewService(boundaryRemote{s: s}, opts...)
}

func (s *Server) newController(id string) *session.Controller {
	log := s.log.With().Str("session", id).Logger()
	svc := newAnswerService(s, answer.WithLogger(log))
	return session.New(s.cfg.Extractor, svc, session.WithLogger(log))
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionList{Sessions: s.sessions.IDs(), Limit: s.cfg.Server.MaxSessions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	entry, err := s.sessions.Add(s.newController)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Session limit reached")
		return
	}

	s.log.Info().Str("session", entry.ID).Msg("session created")
	writeJSON(w, http.StatusCreated, sessionResponse{ID: entry.ID, Snapshot: entry.Controller.Snapshot()})
}

// lookup resolves the {id} URL parameter, writing a 404 when unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Entry, bool) {
	entry, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return entry, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: entry.ID, Snapshot: entry.Controller.Snapshot()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	entry.Controller.Reset()
	writeJSON(w, http.StatusOK, sessionResponse{ID: entry.ID, Snapshot: entry.Controller.Snapshot()})
}

// handleUpload accepts a multipart "file" field. Size, MIME type and PDF
// structure are checked before the document reaches the session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !entry.Controller.Snapshot().CanUpload() {
		writeError(w, http.StatusConflict, session.ErrBusy.Error())
		return
	}

	limit := s.cfg.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Missing file field in multipart form")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read uploaded file")
		return
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	declared := header.Header.Get("Content-Type")
	if declared != "" && declared != pdfMIME && declared != "application/octet-stream" {
		writeError(w, http.StatusUnsupportedMediaType, "Only PDF files are accepted")
		return
	}
	if detected := mimetype.Detect(data); !detected.Is(pdfMIME) {
		s.log.Debug().Str("detected", detected.String()).Str("file", header.Filename).Msg("upload rejected")
		writeError(w, http.StatusUnsupportedMediaType, "Only PDF files are accepted")
		return
	}

	info, err := reader.Inspect(data)
	if err != nil || info.Encrypted {
		s.log.Warn().Err(err).Bool("encrypted", info.Encrypted).Str("file", header.Filename).Msg("upload failed inspection")
		writeError(w, http.StatusUnprocessableEntity, session.MsgExtractionFailed)
		return
	}

	// Extraction outlives a dropped client connection.
	ctx := context.WithoutCancel(r.Context())
	if err := entry.Controller.Upload(ctx, header.Filename, data); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	snap := entry.Controller.Snapshot()
	status := http.StatusOK
	if snap.State == session.ErrorState {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, sessionResponse{ID: entry.ID, Snapshot: snap})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := s.decodeBody(r, &req, msgInvalidJSON, "Missing question in request body"); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		writeError(w, http.StatusBadRequest, verr.Message)
		return
	}

	h, err := entry.Controller.Ask(context.WithoutCancel(r.Context()), req.Question)
	switch {
	case errors.Is(err, session.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrQuestionPending), errors.Is(err, session.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, answer.MsgInternal)
		return
	}

	ex, err := entry.Controller.Exchange(h)
	if err != nil {
		writeError(w, http.StatusConflict, session.ErrSessionReset.Error())
		return
	}
	writeJSON(w, http.StatusOK, askResponse{
		sessionResponse: sessionResponse{ID: entry.ID, Snapshot: entry.Controller.Snapshot()},
		Exchange:        h.Index(),
		Result:          ex,
	})
}
