// Package conversation keeps the ordered question/answer log of one document.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAlreadyResolved is returned when resolving an exchange a second time.
var ErrAlreadyResolved = errors.New("exchange already resolved")

// ErrUnknownHandle is returned for handles that do not belong to the store.
var ErrUnknownHandle = errors.New("unknown exchange handle")

var epochs atomic.Uint64

// Exchange is one question paired with its answer. Answer is empty while the
// exchange is pending.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	IsError  bool   `json:"isError"`
	Pending  bool   `json:"pending"`
}

// Handle identifies one exchange in the store that created it.
type Handle struct {
	epoch uint64
	index int
}

// Index returns the position of the exchange in the log.
func (h Handle) Index() int { return h.index }

// IsZero reports whether h was never issued by a store.
func (h Handle) IsZero() bool { return h.epoch == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("exchange#%d.%d", h.epoch, h.index)
}

// Store is an append-only log of exchanges. Each entry may be resolved once.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	epoch   uint64
	entries []Exchange
}

// NewStore returns an empty store. Handles issued by one store are never
// accepted by another.
func NewStore() *Store {
	return &Store{epoch: epochs.Add(1)}
}

// Append records a pending exchange and returns its handle.
func (s *Store) Append(question string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Exchange{Question: question, Pending: true})
	return Handle{epoch: s.epoch, index: len(s.entries) - 1}
}

// Resolve sets the answer of the exchange identified by h. Only that entry is
// touched.
func (s *Store) Resolve(h Handle, answer string, isError bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.epoch != s.epoch || h.index < 0 || h.index >= len(s.entries) {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	e := &s.entries[h.index]
	if !e.Pending {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, h)
	}
	e.Answer = answer
	e.IsError = isError
	e.Pending = false
	return nil
}

// Get returns the exchange identified by h. Handles issued by an earlier store
// yield ErrUnknownHandle, never the entry at the same position here.
func (s *Store) Get(h Handle) (Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h.IsZero() || h.epoch != s.epoch || h.index < 0 || h.index >= len(s.entries) {
		return Exchange{}, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return s.entries[h.index], nil
}

// All returns a copy of the log in insertion order.
func (s *Store) All() []Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Exchange, len(s.entries))
	copy(out, s.entries)
	return out
}

// Pending returns the handle of the most recent unresolved exchange.
func (s *Store) Pending() (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Pending {
			return Handle{epoch: s.epoch, index: i}, true
		}
	}
	return Handle{}, false
}

// Len returns the number of exchanges.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
