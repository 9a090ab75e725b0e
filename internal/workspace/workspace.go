// Package workspace is the client side of a remote analytics workspace. A
// Workspace is bound to one slug, resolves its remote id once at construction
// and then sequences the service calls behind Chat and Push.
//
// A Workspace is meant to be used by one caller at a time. Concurrent calls
// are memory-safe, but the order in which concurrent Chat calls link to the
// conversation is undefined.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"analytics-workspace/internal/integrations/platform"
)

const (
	pathInitialize   = "/spaces/initialize"
	pathChat         = "/chat"
	pathTable        = "/table"
	pathFileUploaded = "/table/file-uploaded"
	pathConnectorAdd = "/connector/add"

	uploadFileField = "file"
)

// Transport performs authenticated requests against the analytics API.
// *platform.Client satisfies it.
type Transport interface {
	APIKey(ctx context.Context) (string, error)
	PostJSON(ctx context.Context, path string, body any) (json.RawMessage, error)
	PostMultipart(ctx context.Context, path string, form platform.Form, header http.Header) (json.RawMessage, error)
	Upload(ctx context.Context, url string, form platform.Form) (int, error)
}

// Workspace is a handle on one remote workspace.
type Workspace struct {
	transport Transport
	logger    *slog.Logger
	slug      string
	id        string

	mu             sync.Mutex
	conversationID string
	lastCode       string
}

type Option func(*Workspace)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workspace) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithConversationID resumes an existing conversation instead of starting a new one.
func WithConversationID(conversationID string) Option {
	return func(w *Workspace) {
		w.conversationID = strings.TrimSpace(conversationID)
	}
}

type initializeRequest struct {
	Slug string `json:"slug"`
}

type initializeData struct {
	ID string `json:"id"`
}

// New resolves slug against the service, creating the workspace if it does
// not exist yet, and returns a ready Workspace. It issues exactly one request.
func New(ctx context.Context, transport Transport, slug string, opts ...Option) (*Workspace, error) {
	if transport == nil {
		return nil, newError(ErrorWorkspaceInitialization, "nil_transport", nil)
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, newError(ErrorWorkspaceInitialization, "empty_slug", nil)
	}

	w := &Workspace{
		transport: transport,
		logger:    slog.Default(),
		slug:      slug,
	}
	for _, opt := range opts {
		opt(w)
	}

	raw, err := transport.PostJSON(ctx, pathInitialize, initializeRequest{Slug: slug})
	if err != nil {
		return nil, newError(ErrorWorkspaceInitialization, "initialize_request_failed", err)
	}
	data, err := decodeData[initializeData](raw)
	if err != nil {
		return nil, newError(ErrorWorkspaceInitialization, "malformed_response", err)
	}
	if strings.TrimSpace(data.ID) == "" {
		return nil, newError(ErrorWorkspaceInitialization, "missing_workspace_id", nil)
	}
	w.id = data.ID

	w.logger.Debug("workspace resolved", "slug", slug, "space_id", w.id)
	return w, nil
}

// ID returns the server-assigned workspace id.
func (w *Workspace) ID() string { return w.id }

// Slug returns the slug the workspace was resolved from.
func (w *Workspace) Slug() string { return w.slug }

// ConversationID returns the current conversation id, or "" before the first chat.
func (w *Workspace) ConversationID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conversationID
}

// LastCodeGenerated returns the code the service reported for the latest answer.
func (w *Workspace) LastCodeGenerated() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCode
}

type envelope[T any] struct {
	Data *T `json:"data"`
}

func decodeData[T any](raw json.RawMessage) (T, error) {
	var zero T
	if len(bytes.TrimSpace(raw)) == 0 {
		return zero, errors.New("empty response body")
	}
	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("decode response: %w", err)
	}
	if env.Data == nil {
		return zero, errors.New("response has no data")
	}
	return *env.Data, nil
}
