package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akashicode/docuquery/internal/answer"
	"github.com/akashicode/docuquery/internal/config"
	"github.com/akashicode/docuquery/internal/reader"
)

type fakeCompleter struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, user)
	return f.text, f.err
}

// firstCallGate blocks the first completion until release is closed and
// answers every later call immediately.
type firstCallGate struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newFirstCallGate() *firstCallGate {
	return &firstCallGate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *firstCallGate) Complete(_ context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.started)
		<-g.release
		return "OLD answer for first doc", nil
	}
	return "NEW answer for second doc", nil
}

func newTestServer(t *testing.T, completer answer.Completer, mutate func(*Config)) *Server {
	t.Helper()
	d := config.Default()
	cfg := Config{
		Server:    d.Server,
		LLM:       d.LLM,
		Completer: completer,
		Extractor: reader.NewExtractor(reader.PDFOpener),
		Logger:    zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body []byte, contentType string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func makePDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		doc.AddPage()
		doc.Text(20, 30, text)
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func multipartFile(t *testing.T, name, contentType string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func chatBody(doc, question string) []byte {
	b, _ := json.Marshal(map[string]string{"documentText": doc, "question": question})
	return b
}

func TestChat(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       []byte
		completer  *fakeCompleter
		noKey      bool
		wantStatus int
		wantField  string
		wantValue  string
	}{
		{name: "wrong method", method: http.MethodGet, completer: &fakeCompleter{}, wantStatus: 405, wantField: "error", wantValue: "Method Not Allowed"},
		{name: "no api key", method: http.MethodPost, body: chatBody("doc", "q"), noKey: true, wantStatus: 500, wantField: "error", wantValue: "Server misconfiguration: API Key not set"},
		{name: "invalid json", method: http.MethodPost, body: []byte("{not json"), completer: &fakeCompleter{}, wantStatus: 400, wantField: "error", wantValue: "Invalid JSON body"},
		{name: "missing question", method: http.MethodPost, body: chatBody("doc", ""), completer: &fakeCompleter{}, wantStatus: 400, wantField: "error", wantValue: "Missing document text or question in request body"},
		{name: "missing document", method: http.MethodPost, body: []byte(`{"question":"q"}`), completer: &fakeCompleter{}, wantStatus: 400, wantField: "error", wantValue: "Missing document text or question in request body"},
		{name: "model failure", method: http.MethodPost, body: chatBody("doc", "q"), completer: &fakeCompleter{err: errors.New("quota exceeded")}, wantStatus: 500, wantField: "error", wantValue: "Internal Server Error processing your request"},
		{name: "answer", method: http.MethodPost, body: chatBody("Hello\n\nWorld\n\n", "What is page 1?"), completer: &fakeCompleter{text: "Hello"}, wantStatus: 200, wantField: "answer", wantValue: "Hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c answer.Completer
			if !tt.noKey {
				c = tt.completer
			}
			srv := newTestServer(t, c, nil)

			rec, out := do(t, srv, tt.method, "/api/chat", tt.body, "application/json")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantValue, out[tt.wantField])
			assert.NotContains(t, rec.Body.String(), "quota")
		})
	}
}

func TestChat_PromptEmbedsDocument(t *testing.T) {
	fc := &fakeCompleter{text: "ok"}
	srv := newTestServer(t, fc, nil)

	rec, _ := do(t, srv, http.MethodPost, "/api/chat", chatBody("Hello\n\nWorld\n\n", "What is page 1?"), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fc.prompts, 1)
	assert.Contains(t, fc.prompts[0], "Hello\n\nWorld\n\n")
	assert.Contains(t, fc.prompts[0], "QUESTION:\nWhat is page 1?")
}

func TestChat_RateLimited(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{text: "ok"}, func(c *Config) {
		c.Server.ChatRateLimit = 0.001
		c.Server.ChatBurst = 1
	})

	rec, _ := do(t, srv, http.MethodPost, "/api/chat", chatBody("d", "q"), "application/json")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, out := do(t, srv, http.MethodPost, "/api/chat", chatBody("d", "q"), "application/json")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too Many Requests", out["error"])
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	rec, out := do(t, srv, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "idle", out["state"])
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestSessionFlow(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{text: "Hello"}, nil)
	id := createSession(t, srv)
	base := "/api/sessions/" + id

	body, ct := multipartFile(t, "doc.pdf", "application/pdf", makePDF(t, "Hello", "World"))
	rec, out := do(t, srv, http.MethodPost, base+"/document", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ready", out["state"])
	assert.Equal(t, "doc.pdf", out["documentName"])
	assert.Equal(t, true, out["hasText"])
	assert.EqualValues(t, len("Hello\n\nWorld\n\n"), out["textLength"])

	rec, out = do(t, srv, http.MethodPost, base+"/questions", []byte(`{"question":"What is page 1?"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ready", out["state"])
	assert.EqualValues(t, 0, out["exchange"])
	exchanges, ok := out["exchanges"].([]interface{})
	require.True(t, ok)
	require.Len(t, exchanges, 1)
	ex := exchanges[0].(map[string]interface{})
	assert.Equal(t, "What is page 1?", ex["question"])
	assert.Equal(t, "Hello", ex["answer"])
	assert.Equal(t, false, ex["isError"])

	rec, out = do(t, srv, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["exchanges"], 1)

	rec, out = do(t, srv, http.MethodPost, base+"/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", out["state"])
	assert.Empty(t, out["exchanges"])

	rec, _ = do(t, srv, http.MethodDelete, base, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = do(t, srv, http.MethodGet, base, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession_AnswerFailureStaysReady(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{err: errors.New("upstream 503")}, nil)
	id := createSession(t, srv)

	body, ct := multipartFile(t, "doc.pdf", "application/pdf", makePDF(t, "Hello"))
	rec, _ := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/document", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/questions", []byte(`{"question":"q"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", out["state"])
	ex := out["exchanges"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, ex["isError"])
	assert.Equal(t, "Sorry, an error occurred while generating the answer. Please try again.", ex["answer"])
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		maxBytes    int64
		wantStatus  int
	}{
		{name: "not a pdf", filename: "notes.txt", contentType: "text/plain", data: []byte("hello"), wantStatus: http.StatusUnsupportedMediaType},
		{name: "pdf name but text bytes", filename: "fake.pdf", contentType: "application/pdf", data: []byte("just some text"), wantStatus: http.StatusUnsupportedMediaType},
		{name: "too large", filename: "big.pdf", contentType: "application/pdf", data: append([]byte("%PDF-1.4\n"), make([]byte, 4096)...), maxBytes: 1024, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "corrupted pdf", filename: "broken.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4\nthis is not really a pdf body\n"), wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeCompleter{text: "x"}, func(c *Config) {
				if tt.maxBytes > 0 {
					c.Server.MaxUploadBytes = tt.maxBytes
				}
			})
			id := createSession(t, srv)

			body, ct := multipartFile(t, tt.filename, tt.contentType, tt.data)
			rec, out := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/document", body, ct)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, out["error"])

			rec, out = do(t, srv, http.MethodGet, "/api/sessions/"+id, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "idle", out["state"], "rejected uploads never reach the session")
		})
	}
}

func TestUpload_MissingField(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{}, nil)
	id := createSession(t, srv)

	rec, _ := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/document", []byte("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskRejections(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{text: "x"}, nil)
	id := createSession(t, srv)
	path := "/api/sessions/" + id + "/questions"

	rec, _ := do(t, srv, http.MethodPost, path, []byte(`{"question":"q"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code, "no document yet")

	body, ct := multipartFile(t, "doc.pdf", "application/pdf", makePDF(t, "Hello"))
	rec, _ = do(t, srv, http.MethodPost, "/api/sessions/"+id+"/document", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, srv, http.MethodPost, path, []byte(`{"question":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, srv, http.MethodPost, path, []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, srv, http.MethodPost, path, []byte(`nope`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := do(t, srv, http.MethodGet, "/api/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, out["exchanges"])

	rec, _ = do(t, srv, http.MethodPost, "/api/sessions/unknown/questions", []byte(`{"question":"q"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionLimit(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{}, func(c *Config) { c.Server.MaxSessions = 1 })
	createSession(t, srv)

	rec, _ := do(t, srv, http.MethodPost, "/api/sessions", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, srv.Sessions().Len())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	createSession(t, srv)

	rec, out := do(t, srv, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "gemini", out["provider"])
	assert.Equal(t, "gemini-2.5-flash", out["model"])
	assert.Equal(t, false, out["configured"])
	assert.EqualValues(t, 1, out["sessions"])
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{}, func(c *Config) {
		c.Server.CORSOrigins = []string{"https://app.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Server: config.Default().Server})
	assert.Error(t, err, "extractor is required")

	bad := config.Default().Server
	bad.Port = 0
	_, err = New(Config{Server: bad, Extractor: reader.NewExtractor(reader.PDFOpener)})
	var cfgErr *config.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func rpc(t *testing.T, srv *Server, method string, params interface{}) MCPResponse {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	rec, _ := do(t, srv, http.MethodPost, "/mcp", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MCPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestMCP(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{text: "Hello"}, nil)

	resp := rpc(t, srv, "tools/list", nil)
	require.Nil(t, resp.Error)
	assert.Contains(t, mustJSON(t, resp.Result), `"ask_document"`)
	assert.Contains(t, mustJSON(t, resp.Result), `"ask_session"`)

	resp = rpc(t, srv, "tools/call", map[string]interface{}{
		"name":      "ask_document",
		"arguments": map[string]string{"document_text": "Hello\n\nWorld\n\n", "question": "What is page 1?"},
	})
	require.Nil(t, resp.Error)
	assert.Contains(t, mustJSON(t, resp.Result), `"text":"Hello"`)

	resp = rpc(t, srv, "tools/call", map[string]interface{}{
		"name":      "ask_document",
		"arguments": map[string]string{"question": "q"},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcInvalidParams, resp.Error.Code)

	resp = rpc(t, srv, "resources/list", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcMethodNotFound, resp.Error.Code)
}

func TestMCP_AskSession(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{text: "Hello"}, nil)
	id := createSession(t, srv)

	body, ct := multipartFile(t, "doc.pdf", "application/pdf", makePDF(t, "Hello"))
	rec, _ := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/document", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := rpc(t, srv, "tools/call", map[string]interface{}{
		"name":      "ask_session",
		"arguments": map[string]string{"session_id": id, "question": "What is page 1?"},
	})
	require.Nil(t, resp.Error)
	assert.Contains(t, mustJSON(t, resp.Result), `"text":"Hello"`)

	entry, err := srv.Sessions().Get(id)
	require.NoError(t, err)
	assert.Len(t, entry.Controller.Snapshot().Exchanges, 1)
}

// replaceDocument resets the session, loads a second PDF and answers one
// question about it while the first question is still in flight.
func replaceDocument(t *testing.T, srv *Server, id string) {
	t.Helper()
	base := "/api/sessions/" + id

	rec, _ := do(t, srv, http.MethodPost, base+"/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body, ct := multipartFile(t, "second.pdf", "application/pdf", makePDF(t, "Second"))
	rec, _ = do(t, srv, http.MethodPost, base+"/document", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, out := do(t, srv, http.MethodPost, base+"/questions", []byte(`{"question":"Q about second doc"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 0, out["exchange"])
	result, ok := out["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Q about second doc", result["question"])
	assert.Equal(t, "NEW answer for second doc", result["answer"])
}

func serveAsync(srv *Server, method, path string, body []byte, contentType string) <-chan *httptest.ResponseRecorder {
	out := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		out <- rec
	}()
	return out
}

func TestMCP_AskSessionResetWhileAnswering(t *testing.T) {
	gate := newFirstCallGate()
	srv := newTestServer(t, gate, nil)
	id := createSession(t, srv)

	body, ct := multipartFile(t, "first.pdf", "application/pdf", makePDF(t, "First"))
	rec, _ := do(t, srv, http.MethodPost, "/api/sessions/"+id+"/document", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	call, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]interface{}{
			"name":      "ask_session",
			"arguments": map[string]string{"session_id": id, "question": "Q about first doc"},
		},
	})
	require.NoError(t, err)
	pending := serveAsync(srv, http.MethodPost, "/mcp", call, "application/json")

	<-gate.started
	replaceDocument(t, srv, id)
	close(gate.release)

	rec = <-pending
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MCPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "session was reset")
	assert.NotContains(t, rec.Body.String(), "NEW answer")
}

func TestAsk_ResetWhileAnswering(t *testing.T) {
	gate := newFirstCallGate()
	srv := newTestServer(t, gate, nil)
	id := createSession(t, srv)
	base := "/api/sessions/" + id

	body, ct := multipartFile(t, "first.pdf", "application/pdf", makePDF(t, "First"))
	rec, _ := do(t, srv, http.MethodPost, base+"/document", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	pending := serveAsync(srv, http.MethodPost, base+"/questions", []byte(`{"question":"Q about first doc"}`), "application/json")

	<-gate.started
	replaceDocument(t, srv, id)
	close(gate.release)

	rec = <-pending
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "session was reset")
	assert.NotContains(t, rec.Body.String(), "NEW answer")

	rec, out := do(t, srv, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	exchanges := out["exchanges"].([]interface{})
	require.Len(t, exchanges, 1)
	assert.Equal(t, "Q about second doc", exchanges[0].(map[string]interface{})["question"])
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{}, func(c *Config) { c.Server.MaxSessions = 3 })
	first := createSession(t, srv)
	second := createSession(t, srv)

	rec, out := do(t, srv, http.MethodGet, "/api/sessions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{first, second}, out["sessions"])
	assert.EqualValues(t, 3, out["limit"])
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}
