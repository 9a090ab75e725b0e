package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"analytics-workspace/internal/domain"
	"analytics-workspace/internal/workspace"
)

// Workspace is the part of *workspace.Workspace the services use.
type Workspace interface {
	ID() string
	ConversationID() string
	Chat(ctx context.Context, query string) (*domain.ChatResult, error)
	Push(ctx context.Context, target any, name, description string) (json.RawMessage, error)
}

// Opener resolves a workspace by slug, optionally resuming a conversation.
type Opener interface {
	Open(ctx context.Context, slug, conversationID string) (Workspace, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// WorkspaceOpener opens workspaces over a shared transport.
type WorkspaceOpener struct {
	transport workspace.Transport
	logger    *slog.Logger
}

func NewWorkspaceOpener(transport workspace.Transport, logger *slog.Logger) (*WorkspaceOpener, error) {
	if transport == nil {
		return nil, errors.New("usecase: workspace transport must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceOpener{transport: transport, logger: logger}, nil
}

func (o *WorkspaceOpener) Open(ctx context.Context, slug, conversationID string) (Workspace, error) {
	opts := []workspace.Option{workspace.WithLogger(o.logger)}
	if conversationID != "" {
		opts = append(opts, workspace.WithConversationID(conversationID))
	}
	ws, err := workspace.New(ctx, o.transport, slug, opts...)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// fromWorkspaceError maps a workspace failure onto a use case error. Input
// problems stay INVALID_INPUT, a 429 from the service becomes RATE_LIMITED, and
// everything else the workspace reports is an upstream failure.
func fromWorkspaceError(err error) *Error {
	var wsErr *workspace.Error
	if !errors.As(err, &wsErr) {
		return newError(ErrorInternal, "unexpected_error", err)
	}
	if wsErr.Code == workspace.ErrorInvalidInput {
		return newError(ErrorInvalidInput, wsErr.Reason, err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, wsErr.Reason, err)
	}
	return newError(ErrorUpstream, wsErr.Reason, err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
