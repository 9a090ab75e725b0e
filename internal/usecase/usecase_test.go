package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"analytics-workspace/internal/connector"
	"analytics-workspace/internal/domain"
	"analytics-workspace/internal/frame"
	"analytics-workspace/internal/integrations/platform"
	"analytics-workspace/internal/repository"
	"analytics-workspace/internal/workspace"
)

type fakeWorkspace struct {
	id         string
	chatResult *domain.ChatResult
	chatErr    error
	pushData   json.RawMessage
	pushErr    error

	chatQueries []string
	pushTarget  any
	pushName    string
	pushDesc    string
}

func (f *fakeWorkspace) ID() string { return f.id }

func (f *fakeWorkspace) ConversationID() string {
	if f.chatResult == nil {
		return ""
	}
	return f.chatResult.ConversationID
}

func (f *fakeWorkspace) Chat(_ context.Context, query string) (*domain.ChatResult, error) {
	f.chatQueries = append(f.chatQueries, query)
	return f.chatResult, f.chatErr
}

func (f *fakeWorkspace) Push(_ context.Context, target any, name, description string) (json.RawMessage, error) {
	f.pushTarget = target
	f.pushName = name
	f.pushDesc = description
	return f.pushData, f.pushErr
}

type fakeOpener struct {
	ws      *fakeWorkspace
	err     error
	calls   int
	slug    string
	resumed string
}

func (f *fakeOpener) Open(_ context.Context, slug, conversationID string) (Workspace, error) {
	f.calls++
	f.slug = slug
	f.resumed = conversationID
	if f.err != nil {
		return nil, f.err
	}
	return f.ws, nil
}

type fakeSessions struct {
	session  *domain.Session
	getErr   error
	turns    []domain.Turn
	turnsErr error
	saveErr  error

	saved      *repository.ChatRecord
	turnsLimit int
}

func (f *fakeSessions) GetSession(_ context.Context, _ string) (*domain.Session, error) {
	return f.session, f.getErr
}

func (f *fakeSessions) GetTurns(_ context.Context, _ string, limit int) ([]domain.Turn, error) {
	f.turnsLimit = limit
	return f.turns, f.turnsErr
}

func (f *fakeSessions) SaveCompletedChat(_ context.Context, rec repository.ChatRecord) error {
	f.saved = &rec
	return f.saveErr
}

func answer(conversationID string) *domain.ChatResult {
	return &domain.ChatResult{
		ConversationID: conversationID,
		Code:           "df.head()",
		Outputs:        []domain.Output{{Type: domain.OutputString, Value: json.RawMessage(`"hi"`)}},
	}
}

func newChatTestService(t *testing.T, o Opener, s SessionStore) *ChatService {
	t.Helper()
	svc, err := NewChatService(o, s, 3, 50)
	require.NoError(t, err)
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func withUUID(t *testing.T, id string) {
	t.Helper()
	prev := newUUID
	newUUID = func() string { return id }
	t.Cleanup(func() { newUUID = prev })
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &fakeSessions{}, 0, 0)
	require.Error(t, err)

	_, err = NewChatService(&fakeOpener{}, nil, 0, 0)
	require.Error(t, err)

	svc, err := NewChatService(&fakeOpener{}, &fakeSessions{}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, defaultMaxTurns, svc.maxTurns)
	require.Equal(t, defaultMaxQueryLen, svc.maxQueryLen)
}

func TestChat_NewSession(t *testing.T) {
	withUUID(t, "sess-new")
	ws := &fakeWorkspace{id: "space-1", chatResult: answer("conv-1")}
	opener := &fakeOpener{ws: ws}
	sessions := &fakeSessions{}
	svc := newChatTestService(t, opener, sessions)

	out, err := svc.Chat(context.Background(), ChatInput{Slug: " workspace1 ", Query: " top countries? "})
	require.NoError(t, err)
	require.Equal(t, "sess-new", out.SessionID)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, "df.head()", out.Code)
	require.Len(t, out.Outputs, 1)

	require.Equal(t, "workspace1", opener.slug)
	require.Empty(t, opener.resumed)
	require.Equal(t, []string{"top countries?"}, ws.chatQueries)
	require.Equal(t, &repository.ChatRecord{
		SessionID:      "sess-new",
		Slug:           "workspace1",
		SpaceID:        "space-1",
		ConversationID: "conv-1",
		Query:          "top countries?",
		Outputs:        1,
		Turns:          1,
	}, sessions.saved)
}

func TestChat_ResumesStoredConversation(t *testing.T) {
	ws := &fakeWorkspace{id: "space-1", chatResult: answer("conv-1")}
	opener := &fakeOpener{ws: ws}
	sessions := &fakeSessions{session: &domain.Session{SessionID: "sess-1", Slug: "workspace1", ConversationID: "conv-1", Turns: 2}}
	svc := newChatTestService(t, opener, sessions)

	out, err := svc.Chat(context.Background(), ChatInput{Slug: "workspace1", Query: "and now?", SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, "sess-1", out.SessionID)
	require.Equal(t, "conv-1", opener.resumed)
	require.Equal(t, 3, sessions.saved.Turns)
}

func TestChat_PersistsRotatedConversation(t *testing.T) {
	ws := &fakeWorkspace{id: "space-1", chatResult: answer("conv-2")}
	sessions := &fakeSessions{session: &domain.Session{SessionID: "sess-1", Slug: "workspace1", ConversationID: "conv-1", Turns: 1}}
	svc := newChatTestService(t, &fakeOpener{ws: ws}, sessions)

	out, err := svc.Chat(context.Background(), ChatInput{Slug: "workspace1", Query: "q", SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, "conv-2", out.ConversationID)
	require.Equal(t, "conv-2", sessions.saved.ConversationID)
}

func TestChat_ValidationErrors(t *testing.T) {
	opener := &fakeOpener{ws: &fakeWorkspace{}}
	svc := newChatTestService(t, opener, &fakeSessions{})

	_, err := svc.Chat(context.Background(), ChatInput{Query: "q"})
	expectError(t, err, ErrorInvalidInput, "empty_slug")

	_, err = svc.Chat(context.Background(), ChatInput{Slug: "w", Query: "   "})
	expectError(t, err, ErrorInvalidInput, "empty_query")

	_, err = svc.Chat(context.Background(), ChatInput{Slug: "w", Query: strings.Repeat("a", 51)})
	expectError(t, err, ErrorInvalidInput, "query_too_long")

	require.Zero(t, opener.calls)
}

func TestChat_SessionErrors(t *testing.T) {
	opener := &fakeOpener{ws: &fakeWorkspace{chatResult: answer("c")}}

	svc := newChatTestService(t, opener, &fakeSessions{getErr: errors.New("dynamodb down")})
	_, err := svc.Chat(context.Background(), ChatInput{Slug: "w", Query: "q", SessionID: "s"})
	expectError(t, err, ErrorInternal, "dynamodb_session_error")

	svc = newChatTestService(t, opener, &fakeSessions{})
	_, err = svc.Chat(context.Background(), ChatInput{Slug: "w", Query: "q", SessionID: "s"})
	expectError(t, err, ErrorNotFound, "session_not_found")

	svc = newChatTestService(t, opener, &fakeSessions{session: &domain.Session{Slug: "other"}})
	_, err = svc.Chat(context.Background(), ChatInput{Slug: "w", Query: "q", SessionID: "s"})
	expectError(t, err, ErrorInvalidInput, "session_slug_mismatch")

	svc = newChatTestService(t, opener, &fakeSessions{session: &domain.Session{Slug: "w", Turns: 3}})
	_, err = svc.Chat(context.Background(), ChatInput{Slug: "w", Query: "q", SessionID: "s"})
	expectError(t, err, ErrorInvalidInput, "session_turn_limit")

	require.Zero(t, opener.calls)

	svc = newChatTestService(t, opener, &fakeSessions{saveErr: errors.New("write failed")})
	_, err = svc.Chat(context.Background(), ChatInput{Slug: "w", Query: "q"})
	expectError(t, err, ErrorInternal, "dynamodb_write_error")
}

func TestChat_WorkspaceErrors(t *testing.T) {
	cases := []struct {
		name   string
		open   error
		chat   error
		code   ErrorCode
		reason string
	}{
		{
			name:   "initialization",
			open:   &workspace.Error{Code: workspace.ErrorWorkspaceInitialization, Reason: "initialize_request_failed", Err: &platform.HTTPStatusError{StatusCode: http.StatusUnauthorized}},
			code:   ErrorUpstream,
			reason: "initialize_request_failed",
		},
		{
			name:   "rate limited",
			chat:   &workspace.Error{Code: workspace.ErrorChatRequest, Reason: "chat_request_failed", Err: &platform.HTTPStatusError{StatusCode: http.StatusTooManyRequests}},
			code:   ErrorRateLimited,
			reason: "chat_request_failed",
		},
		{
			name:   "malformed",
			chat:   &workspace.Error{Code: workspace.ErrorChatRequest, Reason: "malformed_response"},
			code:   ErrorUpstream,
			reason: "malformed_response",
		},
		{
			name:   "invalid input",
			chat:   &workspace.Error{Code: workspace.ErrorInvalidInput, Reason: "empty_query"},
			code:   ErrorInvalidInput,
			reason: "empty_query",
		},
		{
			name:   "unexpected",
			chat:   errors.New("boom"),
			code:   ErrorInternal,
			reason: "unexpected_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := &fakeSessions{}
			opener := &fakeOpener{ws: &fakeWorkspace{chatErr: tc.chat}, err: tc.open}
			svc := newChatTestService(t, opener, sessions)

			_, err := svc.Chat(context.Background(), ChatInput{Slug: "w", Query: "q"})
			expectError(t, err, tc.code, tc.reason)
			require.Nil(t, sessions.saved)
		})
	}
}

func TestHistory(t *testing.T) {
	turns := []domain.Turn{{Query: "first"}, {Query: "second"}}
	sessions := &fakeSessions{
		session: &domain.Session{SessionID: "s", Slug: "w", ConversationID: "conv-1"},
		turns:   turns,
	}
	svc := newChatTestService(t, &fakeOpener{}, sessions)

	out, err := svc.History(context.Background(), " s ")
	require.NoError(t, err)
	require.Equal(t, HistoryOutput{SessionID: "s", Slug: "w", ConversationID: "conv-1", Turns: turns}, out)
	require.Equal(t, 3, sessions.turnsLimit)
}

func TestHistory_Errors(t *testing.T) {
	svc := newChatTestService(t, &fakeOpener{}, &fakeSessions{})
	_, err := svc.History(context.Background(), "")
	expectError(t, err, ErrorInvalidInput, "empty_session_id")

	_, err = svc.History(context.Background(), "s")
	expectError(t, err, ErrorNotFound, "session_not_found")

	svc = newChatTestService(t, &fakeOpener{}, &fakeSessions{getErr: errors.New("down")})
	_, err = svc.History(context.Background(), "s")
	expectError(t, err, ErrorInternal, "dynamodb_session_error")

	svc = newChatTestService(t, &fakeOpener{}, &fakeSessions{session: &domain.Session{}, turnsErr: errors.New("down")})
	_, err = svc.History(context.Background(), "s")
	expectError(t, err, ErrorInternal, "dynamodb_history_error")
}

// ---------------------------------------------------------------------------
// Push
// ---------------------------------------------------------------------------

func TestNewPushService_ValidatesDependency(t *testing.T) {
	_, err := NewPushService(nil)
	require.Error(t, err)
}

func TestPush_Table(t *testing.T) {
	ws := &fakeWorkspace{pushData: json.RawMessage(`{"id":"df-1"}`)}
	opener := &fakeOpener{ws: ws}
	svc, err := NewPushService(opener)
	require.NoError(t, err)

	out, err := svc.Push(context.Background(), PushInput{
		Slug:        "workspace1",
		Name:        "countries",
		Description: "gdp",
		Table:       json.RawMessage(`{"headers":["country","gdp"],"rows":[["Italy",2.1]]}`),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"df-1"}`, string(out.Data))
	require.Equal(t, "workspace1", opener.slug)
	require.Empty(t, opener.resumed)
	require.Equal(t, "countries", ws.pushName)
	require.Equal(t, "gdp", ws.pushDesc)

	f, ok := ws.pushTarget.(*frame.Frame)
	require.True(t, ok)
	require.Equal(t, []string{"country", "gdp"}, f.Headers)
}

func TestPush_Connector(t *testing.T) {
	ws := &fakeWorkspace{pushData: json.RawMessage(`{"id":"c-1"}`)}
	svc, err := NewPushService(&fakeOpener{ws: ws})
	require.NoError(t, err)

	_, err = svc.Push(context.Background(), PushInput{
		Slug: "w",
		Name: "bq",
		Connector: &ConnectorInput{
			Type:   "bigquery",
			Config: json.RawMessage(`{"projectID":"p","table":"t","credentials_base64":"e30="}`),
		},
	})
	require.NoError(t, err)
	_, ok := ws.pushTarget.(workspace.CredentialedConnector)
	require.True(t, ok)
	_, ok = ws.pushTarget.(*connector.BigQuery)
	require.True(t, ok)
}

func TestPush_ValidationErrors(t *testing.T) {
	opener := &fakeOpener{ws: &fakeWorkspace{}}
	svc, err := NewPushService(opener)
	require.NoError(t, err)
	table := json.RawMessage(`{"headers":["a"],"rows":[[1]]}`)
	conn := &ConnectorInput{Type: "postgres", Config: json.RawMessage(`{"host":"h","database":"d","table":"t"}`)}

	_, err = svc.Push(context.Background(), PushInput{Name: "n", Table: table})
	expectError(t, err, ErrorInvalidInput, "empty_slug")

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Table: table})
	expectError(t, err, ErrorInvalidInput, "empty_name")

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n"})
	expectError(t, err, ErrorInvalidInput, "missing_target")

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n", Table: json.RawMessage(`null`)})
	expectError(t, err, ErrorInvalidInput, "missing_target")

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n", Table: table, Connector: conn})
	expectError(t, err, ErrorInvalidInput, "ambiguous_target")

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n", Table: json.RawMessage(`{"headers":[],"rows":[]}`)})
	expectError(t, err, ErrorInvalidInput, "invalid_table")

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n", Connector: &ConnectorInput{Type: "oracle", Config: json.RawMessage(`{}`)}})
	expectError(t, err, ErrorInvalidInput, "invalid_connector")

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n", Connector: &ConnectorInput{Type: "bigquery", Config: json.RawMessage(`{"projectID":"p","table":"t","credentials_path":"/etc/passwd"}`)}})
	expectError(t, err, ErrorInvalidInput, "credentials_path_not_allowed")

	require.Zero(t, opener.calls)
}

func TestPush_WorkspaceErrors(t *testing.T) {
	uploadErr := &workspace.Error{Code: workspace.ErrorDatasetUploadFailed, Reason: "upload_rejected", Err: &workspace.UploadStatusError{StatusCode: http.StatusBadRequest}}
	svc, err := NewPushService(&fakeOpener{ws: &fakeWorkspace{pushErr: uploadErr}})
	require.NoError(t, err)

	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n", Table: json.RawMessage(`{"headers":["a"],"rows":[]}`)})
	expectError(t, err, ErrorUpstream, "upload_rejected")
	require.True(t, workspace.IsCode(err, workspace.ErrorDatasetUploadFailed))

	svc, err = NewPushService(&fakeOpener{err: &workspace.Error{Code: workspace.ErrorWorkspaceInitialization, Reason: "missing_workspace_id"}})
	require.NoError(t, err)
	_, err = svc.Push(context.Background(), PushInput{Slug: "w", Name: "n", Table: json.RawMessage(`{"headers":["a"],"rows":[]}`)})
	expectError(t, err, ErrorUpstream, "missing_workspace_id")
}

// ---------------------------------------------------------------------------
// WorkspaceOpener
// ---------------------------------------------------------------------------

type fakeTransport struct {
	paths []string
}

func (f *fakeTransport) APIKey(context.Context) (string, error) { return "k", nil }

func (f *fakeTransport) PostJSON(_ context.Context, path string, _ any) (json.RawMessage, error) {
	f.paths = append(f.paths, path)
	return json.RawMessage(`{"data":{"id":"space-9"}}`), nil
}

func (f *fakeTransport) PostMultipart(context.Context, string, platform.Form, http.Header) (json.RawMessage, error) {
	return nil, errors.New("not used")
}

func (f *fakeTransport) Upload(context.Context, string, platform.Form) (int, error) {
	return 0, errors.New("not used")
}

func TestWorkspaceOpener_Open(t *testing.T) {
	_, err := NewWorkspaceOpener(nil, nil)
	require.Error(t, err)

	tr := &fakeTransport{}
	opener, err := NewWorkspaceOpener(tr, nil)
	require.NoError(t, err)

	ws, err := opener.Open(context.Background(), "workspace1", "conv-5")
	require.NoError(t, err)
	require.Equal(t, "space-9", ws.ID())
	require.Equal(t, "conv-5", ws.ConversationID())
	require.Equal(t, []string{"/spaces/initialize"}, tr.paths)

	_, err = opener.Open(context.Background(), " ", "")
	require.True(t, workspace.IsCode(err, workspace.ErrorWorkspaceInitialization))
}
