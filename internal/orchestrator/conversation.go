// Package orchestrator glues the query rewriter, retrieval pipeline,
// context builder, policy gate, and LLM generator into the answer-production
// flow: rewrite, retrieve, assemble, generate, audit. It is transport
// agnostic; HTTP and streaming surfaces live elsewhere.
package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mau5law/ragcore/internal/domain"
)

// DefaultConversationWindow is the ring buffer size a Store retains per
// conversation.
const DefaultConversationWindow = 20

// conversationEntry pairs a conversation's bounded message ring with its own
// lock, so concurrent turns on different conversations never contend, and
// concurrent turns on the same conversation append in order.
type conversationEntry struct {
	mu       sync.Mutex
	messages []domain.ConversationMessage
}

// Store is the process-local conversation store. Conversations live only as
// long as the process unless an implementation persists them.
type Store struct {
	window int

	mu            sync.Mutex
	conversations map[uuid.UUID]*conversationEntry
}

// NewStore builds a Store with the given ring-buffer window (defaults to
// DefaultConversationWindow if window <= 0).
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultConversationWindow
	}
	return &Store{window: window, conversations: make(map[uuid.UUID]*conversationEntry)}
}

func (s *Store) entry(id uuid.UUID) *conversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conversations[id]
	if !ok {
		e = &conversationEntry{}
		s.conversations[id] = e
	}
	return e
}

// Append adds a message to the conversation, trimming to the ring-buffer
// window under the conversation's own lock.
func (s *Store) Append(id uuid.UUID, msg domain.ConversationMessage) {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	if len(e.messages) > s.window {
		e.messages = e.messages[len(e.messages)-s.window:]
	}
}

// History returns a snapshot of the conversation's messages in order.
func (s *Store) History(id uuid.UUID) []domain.ConversationMessage {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ConversationMessage(nil), e.messages...)
}
