package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/store"
)

const (
	conversationTitleChars   = 50
	defaultConversationLimit = 10
)

type ChatStore interface {
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	CreateConversation(ctx context.Context, title string, documentID *int64) (*store.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	ListConversations(ctx context.Context, skip, limit int) ([]store.ConversationSummary, int, error)
	DeleteConversation(ctx context.Context, id int64) (bool, error)
	TouchConversation(ctx context.Context, id int64, updatedAt time.Time) error
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessagesByConversationID(ctx context.Context, conversationID int64) ([]store.Message, error)
}

// TurnProcessor answers one chat turn.
type TurnProcessor interface {
	Process(ctx context.Context, conversationID int64, message string, documentID *int64) Result
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id,omitempty"`
	DocumentID     *int64 `json:"document_id,omitempty"`
}

type ChatResponse struct {
	ConversationID int64    `json:"conversation_id"`
	MessageID      int64    `json:"message_id"`
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ProcessingTime float64  `json:"processing_time"`
}

type ConversationDetail struct {
	store.Conversation
	Messages []store.Message `json:"messages"`
}

type ConversationList struct {
	Conversations []store.ConversationSummary `json:"conversations"`
	Total         int                         `json:"total"`
}

type ChatService struct {
	dbStore      ChatStore
	orchestrator TurnProcessor
}

func NewChatService(db ChatStore, orchestrator TurnProcessor) *ChatService {
	return &ChatService{dbStore: db, orchestrator: orchestrator}
}

// SendMessage validates the request, records the user message, runs the
// chat pipeline and records the assistant reply.
func (s *ChatService) SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	if req.DocumentID != nil {
		doc, err := s.dbStore.GetDocument(ctx, *req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to verify document: %w", err)
		}
		if doc == nil {
			return nil, ErrDocumentNotFound
		}
		if doc.ProcessingStatus != store.StatusCompleted {
			return nil, &DocumentNotReadyError{DocumentID: doc.ID, Status: doc.ProcessingStatus}
		}
	}

	var conv *store.Conversation
	if req.ConversationID != nil {
		existing, err := s.dbStore.GetConversation(ctx, *req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to verify conversation: %w", err)
		}
		if existing == nil {
			return nil, ErrConversationNotFound
		}
		conv = existing
	} else {
		created, err := s.dbStore.CreateConversation(ctx, truncate(req.Message, conversationTitleChars), req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		conv = created
	}

	userMsg := store.Message{ConversationID: conv.ID, Role: store.RoleUser, Content: req.Message}
	if err := s.dbStore.CreateMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	documentID := req.DocumentID
	if documentID == nil {
		documentID = conv.DocumentID
	}
	result := s.orchestrator.Process(ctx, conv.ID, req.Message, documentID)

	sourcesJSON, err := json.Marshal(result.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sources: %w", err)
	}
	assistantMsg := store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        result.Answer,
		Sources:        sourcesJSON,
	}
	if err := s.dbStore.CreateMessage(ctx, &assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}
	if err := s.dbStore.TouchConversation(ctx, conv.ID, assistantMsg.CreatedAt); err != nil {
		log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("Failed to update conversation timestamp")
	}

	return &ChatResponse{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		Answer:         result.Answer,
		Sources:        result.Sources,
		ProcessingTime: result.ProcessingTime,
	}, nil
}

func (s *ChatService) ListConversations(ctx context.Context, skip, limit int) (*ConversationList, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	conversations, total, err := s.dbStore.ListConversations(ctx, skip, limit)
	if err != nil {
		return nil, err
	}
	return &ConversationList{Conversations: conversations, Total: total}, nil
}

func (s *ChatService) GetConversation(ctx context.Context, id int64) (*ConversationDetail, error) {
	conv, err := s.dbStore.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	messages, err := s.dbStore.GetMessagesByConversationID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for conversation: %w", err)
	}
	return &ConversationDetail{Conversation: *conv, Messages: messages}, nil
}

func (s *ChatService) DeleteConversation(ctx context.Context, id int64) error {
	deleted, err := s.dbStore.DeleteConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if !deleted {
		return ErrConversationNotFound
	}
	return nil
}
