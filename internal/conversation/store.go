// Package conversation provides the in-memory conversation store used by
// the orchestrator. History lives for the lifetime of the process only.
package conversation

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/pkg/models"
)

// Store keeps per-conversation message history in memory. All methods are
// safe for concurrent use; reads return deep copies so callers can't mutate
// stored state.
type Store struct {
	mu            sync.RWMutex
	conversations map[string][]*models.ChatMessage
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewStore creates an empty store. metrics may be nil.
func NewStore(logger *slog.Logger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conversations: make(map[string][]*models.ChatMessage),
		logger:        logger,
		metrics:       metrics,
	}
}

// NewID mints a conversation id.
func NewID() string { return uuid.NewString() }

// Append adds msg to the conversation, creating it if needed. The stored
// copy carries the conversation id; the caller's message is not mutated.
func (s *Store) Append(conversationID string, msg *models.ChatMessage) {
	stored := msg.Clone()
	stored.ConversationID = conversationID

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.conversations[conversationID] = nil
		if s.metrics != nil {
			s.metrics.ActiveConversations.Inc()
		}
		s.logger.Debug("conversation created", "conversation_id", conversationID)
	}
	s.conversations[conversationID] = append(s.conversations[conversationID], stored)
}

// History returns a copy of the conversation's messages in append order.
// Unknown conversations yield an empty slice.
func (s *Store) History(conversationID string) []*models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.conversations[conversationID]
	out := make([]*models.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Count returns the number of messages in the conversation, zero when it
// does not exist.
func (s *Store) Count(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations[conversationID])
}

// Exists reports whether the conversation has been created.
func (s *Store) Exists(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID]
	return ok
}

// Clear removes a conversation and reports whether it existed.
func (s *Store) Clear(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return false
	}
	delete(s.conversations, conversationID)
	if s.metrics != nil {
		s.metrics.ActiveConversations.Dec()
	}
	s.logger.Debug("conversation cleared", "conversation_id", conversationID)
	return true
}

// IDs returns the ids of all live conversations, sorted for stable output.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
