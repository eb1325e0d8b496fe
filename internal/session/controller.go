// Package session drives one document through extraction and question answering.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/akashicode/docuquery/internal/conversation"
)

// User-facing messages. Raw causes only go to the log.
const (
	MsgExtractionFailed = "Failed to process the PDF file. It might be corrupted or in an unsupported format. Please try another file."
	MsgAnswerFailed     = "Sorry, an error occurred while generating the answer. Please try again."
)

// Rejections returned by Upload and Ask. A rejected call changes nothing.
var (
	ErrBusy            = errors.New("a document is already being processed")
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrQuestionPending = errors.New("a question is already pending")
	ErrNotReady        = errors.New("no document is ready")
)

// ErrSessionReset is returned when looking up an exchange that a reset or a
// new upload has discarded.
var ErrSessionReset = errors.New("session was reset while answering")

var errNoExtractor = errors.New("no text extractor configured")

// Extractor turns document bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Answerer answers a question about a document text.
type Answerer interface {
	Answer(ctx context.Context, documentText, question string) (string, error)
}

type document struct {
	name string
	size int
	text string
}

// Controller owns the state machine of a single session. It is safe for
// concurrent use; extraction and answering run without holding its lock.
type Controller struct {
	extractor Extractor
	answerer  Answerer
	log       zerolog.Logger
	onChange  func(Snapshot)

	mu         sync.Mutex
	state      State
	generation uint64
	doc        *document
	docName    string
	store      *conversation.Store
	errMsg     string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger that receives raw failure causes.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithOnChange registers fn to be called with a fresh snapshot after every
// transition.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// New creates an idle Controller.
func New(extractor Extractor, answerer Answerer, opts ...Option) *Controller {
	c := &Controller{
		extractor: extractor,
		answerer:  answerer,
		log:       zerolog.Nop(),
		state:     Idle,
		store:     conversation.NewStore(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload replaces the current document with data and extracts its text.
// It blocks until extraction finishes. Extraction failures move the session
// to ErrorState and are not returned; the only error is ErrBusy. If the
// session is reset while extracting, the result is dropped.
func (c *Controller) Upload(ctx context.Context, name string, data []byte) error {
	c.mu.Lock()
	if c.state == Extracting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.generation++
	gen := c.generation
	c.clearLocked()
	c.state = Extracting
	c.docName = name
	c.mu.Unlock()
	c.notify()

	log := c.log.With().Str("document", name).Int("bytes", len(data)).Logger()
	log.Info().Msg("extracting document")

	var (
		text string
		err  error
	)
	if c.extractor == nil {
		err = errNoExtractor
	} else {
		text, err = c.extractor.Extract(ctx, data)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		log.Debug().Msg("discarding extraction result of a reset session")
		return nil
	}
	if err != nil {
		c.state = ErrorState
		c.errMsg = MsgExtractionFailed
		c.mu.Unlock()
		log.Warn().Err(err).Msg("extraction failed")
		c.notify()
		return nil
	}
	c.doc = &document{name: name, size: len(data), text: text}
	c.state = Ready
	c.mu.Unlock()

	log.Info().Int("chars", len(text)).Msg("document ready")
	c.notify()
	return nil
}

// Ask records question as a pending exchange and answers it against the
// loaded document. It blocks until the answer is in. Answer failures are
// attached to the exchange and the session stays Ready.
func (c *Controller) Ask(ctx context.Context, question string) (conversation.Handle, error) {
	c.mu.Lock()
	if strings.TrimSpace(question) == "" {
		c.mu.Unlock()
		return conversation.Handle{}, ErrEmptyQuestion
	}
	switch c.state {
	case Ready:
	case Answering:
		c.mu.Unlock()
		return conversation.Handle{}, ErrQuestionPending
	default:
		c.mu.Unlock()
		return conversation.Handle{}, ErrNotReady
	}
	if _, pending := c.store.Pending(); pending {
		c.mu.Unlock()
		return conversation.Handle{}, ErrQuestionPending
	}

	gen := c.generation
	store := c.store
	text := c.doc.text
	h := store.Append(question)
	c.state = Answering
	c.mu.Unlock()
	c.notify()

	log := c.log.With().Stringer("exchange", h).Logger()

	var (
		answer string
		err    error
	)
	if c.answerer == nil {
		err = errors.New("no answer service configured")
	} else {
		answer, err = c.answerer.Answer(ctx, text, question)
	}
	isError := false
	if err != nil {
		log.Warn().Err(err).Msg("answer failed")
		answer, isError = MsgAnswerFailed, true
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		log.Debug().Msg("discarding answer for a reset session")
		return h, nil
	}
	if rerr := store.Resolve(h, answer, isError); rerr != nil {
		log.Error().Err(rerr).Msg("resolve exchange")
	}
	c.state = Ready
	c.mu.Unlock()

	c.notify()
	return h, nil
}

// Exchange returns the exchange h was issued for. It fails with
// ErrSessionReset once the conversation that held it has been discarded.
func (c *Controller) Exchange(h conversation.Handle) (conversation.Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ex, err := c.store.Get(h)
	if errors.Is(err, conversation.ErrUnknownHandle) {
		return conversation.Exchange{}, fmt.Errorf("%w: %v", ErrSessionReset, err)
	}
	return ex, err
}

// Reset discards the document and conversation and returns to Idle. Any
// operation still in flight will have its result dropped.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	c.clearLocked()
	c.state = Idle
	c.mu.Unlock()
	c.notify()
}

// Text returns the extracted document text. It is only present while the
// session is Ready or Answering.
func (c *Controller) Text() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil || (c.state != Ready && c.state != Answering) {
		return "", false
	}
	return c.doc.text, true
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a read-only view for a presentation layer.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:        c.state,
		DocumentName: c.docName,
		Error:        c.errMsg,
		Exchanges:    c.store.All(),
	}
	if c.doc != nil {
		s.DocumentBytes = c.doc.size
		s.TextLength = len(c.doc.text)
		s.HasText = c.state == Ready || c.state == Answering
	}
	return s
}

func (c *Controller) clearLocked() {
	c.doc = nil
	c.docName = ""
	c.errMsg = ""
	c.store = conversation.NewStore()
}

func (c *Controller) notify() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.Snapshot())
}
