// Package answer asks a remote completion capability questions about a
// document and normalizes whatever payload comes back into plain text.
package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// ErrEmptyAnswer is returned when a successful response carries no text at all.
var ErrEmptyAnswer = errors.New("empty answer payload")

// ErrNoRemote is returned when the service has no completion capability.
var ErrNoRemote = errors.New("no remote completion capability")

// Request is the body sent to the completion boundary.
type Request struct {
	DocumentText string `json:"documentText" validate:"required"`
	Question     string `json:"question" validate:"required"`
}

// Response is the raw reply of the completion boundary. Cause is only set by
// in-process remotes and holds the underlying failure of a non-2xx reply.
type Response struct {
	Status int
	Body   []byte
	Cause  error
}

// OK reports whether Status is in the 2xx range.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Remote submits one request to a completion boundary.
type Remote interface {
	Submit(ctx context.Context, req Request) (Response, error)
}

// ServiceError reports that no answer could be obtained. Status is 0 for
// transport failures.
type ServiceError struct {
	Status int
	Cause  error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("answer service: status %d: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("answer service: %v", e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// Service turns a (document, question) pair into an answer string.
type Service struct {
	remote     Remote
	strategies []Strategy
	log        zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithStrategies replaces the payload normalization strategies.
func WithStrategies(s ...Strategy) Option {
	return func(svc *Service) { svc.strategies = s }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(svc *Service) { svc.log = l }
}

// NewService creates a Service that submits to remote.
func NewService(remote Remote, opts ...Option) *Service {
	svc := &Service{
		remote:     remote,
		strategies: DefaultStrategies(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Answer submits the pair as a single request and normalizes the reply.
func (s *Service) Answer(ctx context.Context, documentText, question string) (string, error) {
	if s.remote == nil {
		return "", &ServiceError{Cause: ErrNoRemote}
	}

	resp, err := s.remote.Submit(ctx, Request{DocumentText: documentText, Question: question})
	if err != nil {
		return "", &ServiceError{Cause: err}
	}
	if !resp.OK() {
		cause := errors.New("non-success response")
		if msg := gjson.GetBytes(resp.Body, "error").String(); msg != "" {
			cause = errors.New(msg)
		}
		if resp.Cause != nil {
			cause = fmt.Errorf("%v: %w", cause, resp.Cause)
		}
		return "", &ServiceError{Status: resp.Status, Cause: cause}
	}

	text, via := Normalize(resp.Body, s.strategies)
	if text == "" {
		return "", &ServiceError{Status: resp.Status, Cause: ErrEmptyAnswer}
	}
	s.log.Debug().Str("strategy", via).Int("chars", len(text)).Msg("answer normalized")
	return text, nil
}
