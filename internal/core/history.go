package core

import (
	"context"
	"fmt"

	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/store"
)

const DefaultHistoryLimit = 5

type MessageStore interface {
	GetLastNMessagesByConversationID(ctx context.Context, conversationID int64, n int) ([]store.Message, error)
}

type HistoryLoader struct {
	messages MessageStore
}

func NewHistoryLoader(messages MessageStore) *HistoryLoader {
	return &HistoryLoader{messages: messages}
}

// Load returns up to limit turns (2*limit messages), oldest first.
func (h *HistoryLoader) Load(ctx context.Context, conversationID int64, limit int) ([]llm.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	recent, err := h.messages.GetLastNMessagesByConversationID(ctx, conversationID, limit*2)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	history := make([]llm.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		history = append(history, llm.Message{Role: recent[i].Role, Content: recent[i].Content})
	}
	return history, nil
}
