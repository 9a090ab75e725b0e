package workspace

import (
	"context"
	"encoding/json"
	"strings"

	"analytics-workspace/internal/domain"
)

type chatRequest struct {
	Query          string `json:"query"`
	SpaceID        string `json:"space_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatData struct {
	ConversationID string          `json:"conversation_id"`
	Code           string          `json:"code"`
	Response       []domain.Output `json:"response"`
}

// Chat sends one query to the workspace assistant. The first successful call
// establishes the conversation; later calls continue it.
func (w *Workspace) Chat(ctx context.Context, query string) (*domain.ChatResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, newError(ErrorInvalidInput, "empty_query", nil)
	}

	raw, err := w.transport.PostJSON(ctx, pathChat, chatRequest{
		Query:          query,
		SpaceID:        w.id,
		ConversationID: w.ConversationID(),
	})
	if err != nil {
		return nil, newError(ErrorChatRequest, "chat_request_failed", err)
	}

	dataRaw, err := decodeData[json.RawMessage](raw)
	if err != nil {
		return nil, newError(ErrorChatRequest, "malformed_response", err)
	}
	var data chatData
	if err := json.Unmarshal(dataRaw, &data); err != nil {
		return nil, newError(ErrorChatRequest, "malformed_response", err)
	}

	w.mu.Lock()
	if data.ConversationID != "" {
		if w.conversationID != "" && w.conversationID != data.ConversationID {
			w.logger.Warn("conversation id changed by service",
				"space_id", w.id,
				"previous", w.conversationID,
				"current", data.ConversationID,
			)
		}
		w.conversationID = data.ConversationID
	}
	if data.Code != "" {
		w.lastCode = data.Code
	}
	conversationID := w.conversationID
	w.mu.Unlock()

	return &domain.ChatResult{
		ConversationID: conversationID,
		Code:           data.Code,
		Outputs:        data.Response,
		Raw:            dataRaw,
	}, nil
}
