package usecase

import (
	"context"
	"errors"
	"strings"

	"analytics-workspace/internal/domain"
	"analytics-workspace/internal/repository"
)

const (
	defaultMaxTurns    = 50
	defaultMaxQueryLen = 2000
)

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	SaveCompletedChat(ctx context.Context, rec repository.ChatRecord) error
}

type ChatService struct {
	opener      Opener
	sessions    SessionStore
	maxTurns    int
	maxQueryLen int
}

type ChatInput struct {
	Slug      string
	Query     string
	SessionID string
}

type ChatOutput struct {
	SessionID      string
	ConversationID string
	Code           string
	Outputs        []domain.Output
}

type HistoryOutput struct {
	SessionID      string
	Slug           string
	ConversationID string
	Turns          []domain.Turn
}

func NewChatService(o Opener, s SessionStore, maxTurns, maxQueryLen int) (*ChatService, error) {
	if o == nil {
		return nil, errors.New("usecase: workspace opener must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if maxQueryLen <= 0 {
		maxQueryLen = defaultMaxQueryLen
	}
	return &ChatService{opener: o, sessions: s, maxTurns: maxTurns, maxQueryLen: maxQueryLen}, nil
}

// Chat asks one question in a session. A new session is started when
// SessionID is empty; otherwise the stored conversation is resumed.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_slug", nil)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if len(query) > s.maxQueryLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	conversationID := ""
	existingTurns := 0
	if sessionID != "" {
		session, err := s.sessions.GetSession(ctx, sessionID)
		if err != nil {
			return ChatOutput{}, newError(ErrorInternal, "dynamodb_session_error", err)
		}
		if session == nil {
			return ChatOutput{}, newError(ErrorNotFound, "session_not_found", nil)
		}
		if session.Slug != slug {
			return ChatOutput{}, newError(ErrorInvalidInput, "session_slug_mismatch", nil)
		}
		if session.Turns >= s.maxTurns {
			return ChatOutput{}, newError(ErrorInvalidInput, "session_turn_limit", nil)
		}
		conversationID = session.ConversationID
		existingTurns = session.Turns
	} else {
		sessionID = newUUID()
	}

	ws, err := s.opener.Open(ctx, slug, conversationID)
	if err != nil {
		return ChatOutput{}, fromWorkspaceError(err)
	}
	res, err := ws.Chat(ctx, query)
	if err != nil {
		return ChatOutput{}, fromWorkspaceError(err)
	}

	if err := s.sessions.SaveCompletedChat(ctx, repository.ChatRecord{
		SessionID:      sessionID,
		Slug:           slug,
		SpaceID:        ws.ID(),
		ConversationID: res.ConversationID,
		Query:          query,
		Outputs:        len(res.Outputs),
		Turns:          existingTurns + 1,
	}); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	return ChatOutput{
		SessionID:      sessionID,
		ConversationID: res.ConversationID,
		Code:           res.Code,
		Outputs:        res.Outputs,
	}, nil
}

// History returns the stored turns of a session, oldest first.
func (s *ChatService) History(ctx context.Context, sessionID string) (HistoryOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return HistoryOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "dynamodb_session_error", err)
	}
	if session == nil {
		return HistoryOutput{}, newError(ErrorNotFound, "session_not_found", nil)
	}
	turns, err := s.sessions.GetTurns(ctx, sessionID, s.maxTurns)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	return HistoryOutput{
		SessionID:      sessionID,
		Slug:           session.Slug,
		ConversationID: session.ConversationID,
		Turns:          turns,
	}, nil
}
