package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"analytics-workspace/internal/domain"
	"analytics-workspace/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	sessionsPrefix    = "/sessions/"
	maxBodyBytes      = 6 << 20 // Lambda request payload limit
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	History(ctx context.Context, sessionID string) (usecase.HistoryOutput, error)
}

type PushUseCase interface {
	Push(ctx context.Context, in usecase.PushInput) (usecase.PushOutput, error)
}

type Handler struct {
	chat   ChatUseCase
	push   PushUseCase
	logger *slog.Logger
}

func NewHandler(chat ChatUseCase, push PushUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if push == nil {
		return nil, errors.New("handler: push use case must not be nil")
	}
	return &Handler{chat: chat, push: push, logger: slog.Default()}, nil
}

type chatRequest struct {
	Slug      string `json:"slug"`
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	SessionID      string          `json:"sessionId"`
	ConversationID string          `json:"conversationId"`
	Code           string          `json:"code,omitempty"`
	Outputs        []domain.Output `json:"outputs"`
}

type pushRequest struct {
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Table       json.RawMessage   `json:"table"`
	Connector   *connectorRequest `json:"connector"`
}

type connectorRequest struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

type pushResponse struct {
	Data json.RawMessage `json:"data"`
}

type turnResponse struct {
	Query     string `json:"query"`
	Outputs   int    `json:"outputs"`
	CreatedAt string `json:"createdAt"`
}

type historyResponse struct {
	SessionID      string         `json:"sessionId"`
	Slug           string         `json:"slug"`
	ConversationID string         `json:"conversationId"`
	Turns          []turnResponse `json:"turns"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDFrom(event.Headers)
	logger := h.logger.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path)

	status, body := h.route(ctx, event)
	if status >= http.StatusBadRequest {
		e, _ := body.(errorResponse)
		logger.Warn("request failed", "status", status, "error", e.Error, "reason", e.Reason)
	} else {
		logger.Info("request completed", "status", status)
	}
	return respond(status, correlationID, body), nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) (int, any) {
	path := strings.TrimRight(event.Path, "/")
	switch {
	case path == "/chat":
		if event.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		return h.handleChat(ctx, event)
	case path == "/push":
		if event.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		return h.handlePush(ctx, event)
	case strings.HasPrefix(path, sessionsPrefix):
		if event.HTTPMethod != http.MethodGet {
			return methodNotAllowed()
		}
		sessionID := event.PathParameters["sessionId"]
		if sessionID == "" {
			sessionID = strings.TrimPrefix(path, sessionsPrefix)
		}
		return h.handleHistory(ctx, sessionID)
	default:
		return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "unknown_route"}
	}
}

func (h *Handler) handleChat(ctx context.Context, event events.APIGatewayProxyRequest) (int, any) {
	var req chatRequest
	if resp, ok := decodeBody(event, &req); !ok {
		return http.StatusBadRequest, resp
	}
	out, err := h.chat.Chat(ctx, usecase.ChatInput{
		Slug:      req.Slug,
		Query:     req.Query,
		SessionID: req.SessionID,
	})
	if err != nil {
		return fromError(err)
	}
	outputs := out.Outputs
	if outputs == nil {
		outputs = []domain.Output{}
	}
	return http.StatusOK, chatResponse{
		SessionID:      out.SessionID,
		ConversationID: out.ConversationID,
		Code:           out.Code,
		Outputs:        outputs,
	}
}

func (h *Handler) handlePush(ctx context.Context, event events.APIGatewayProxyRequest) (int, any) {
	var req pushRequest
	if resp, ok := decodeBody(event, &req); !ok {
		return http.StatusBadRequest, resp
	}
	in := usecase.PushInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Table:       req.Table,
	}
	if req.Connector != nil {
		in.Connector = &usecase.ConnectorInput{Type: req.Connector.Type, Config: req.Connector.Config}
	}
	out, err := h.push.Push(ctx, in)
	if err != nil {
		return fromError(err)
	}
	data := out.Data
	if len(data) == 0 {
		data = json.RawMessage(`null`)
	}
	return http.StatusOK, pushResponse{Data: data}
}

func (h *Handler) handleHistory(ctx context.Context, sessionID string) (int, any) {
	out, err := h.chat.History(ctx, sessionID)
	if err != nil {
		return fromError(err)
	}
	turns := make([]turnResponse, 0, len(out.Turns))
	for _, t := range out.Turns {
		turns = append(turns, turnResponse{Query: t.Query, Outputs: t.Outputs, CreatedAt: t.CreatedAt})
	}
	return http.StatusOK, historyResponse{
		SessionID:      out.SessionID,
		Slug:           out.Slug,
		ConversationID: out.ConversationID,
		Turns:          turns,
	}
}

func decodeBody(event events.APIGatewayProxyRequest, v any) (errorResponse, bool) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body_encoding"}, false
		}
		body = decoded
	}
	if len(body) > maxBodyBytes {
		return errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "body_too_large"}, false
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}, false
	}
	return errorResponse{}, true
}

func fromError(err error) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	return statusFor(ucErr.Code), errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed() (int, any) {
	return http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}
}

func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func respond(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(payload),
	}
}
