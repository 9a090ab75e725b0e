package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.domer.ai"
	defaultTimeout = 300 * time.Second
	apiPrefix      = "/api"
	maxErrorBody   = 4096
	maxBody        = 8 << 20
)

// ErrMissingAPIKey is returned when no API key could be resolved.
var ErrMissingAPIKey = errors.New("platform: API key is not configured")

// HTTPStatusError captures non-2xx responses from the analytics API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("platform: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Field is a single multipart form value. Order is preserved on the wire.
type Field struct {
	Name  string
	Value string
}

// File is a multipart file part.
type File struct {
	Field    string
	Filename string
	Data     []byte
}

// Form is a multipart body: plain fields first, then files.
type Form struct {
	Fields []Field
	Files  []File
}

// FieldsFromMap turns a form-field mapping into fields sorted by name.
func FieldsFromMap(m map[string]string) []Field {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Value: m[name]})
	}
	return fields
}

// Client talks to the analytics API. Every request to the API base carries
// the bearer token from the configured KeySource; direct storage uploads do not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       KeySource

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. The API key is resolved from keys on the first
// request and reused afterwards; a failed lookup is retried on the next call.
func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("platform: key source must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		keys:       keys,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIKey returns the resolved API key.
func (c *Client) APIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrMissingAPIKey
	}
	c.apiKey = key
	return key, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func apiURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, apiPrefix) {
		base += apiPrefix
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// PostJSON sends body as JSON to the API path and returns the raw response body.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (json.RawMessage, error) {
	apiKey, err := c.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("platform: marshal request: %w", err)
	}

	url := apiURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("platform: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("platform: request failed: %w", err)
	}
	return raw, nil
}

// PostMultipart sends form as multipart/form-data to the API path. Values in
// header are set on the request after the default credentials, so callers
// may pass their own Authorization.
func (c *Client) PostMultipart(ctx context.Context, path string, form Form, header http.Header) (json.RawMessage, error) {
	apiKey, err := c.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeForm(form)
	if err != nil {
		return nil, err
	}

	url := apiURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("platform: create multipart request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	for name, values := range header {
		req.Header[name] = values
	}
	req.Header.Set("Content-Type", contentType)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("platform: multipart request failed: %w", err)
	}
	return raw, nil
}

// Upload posts form directly to a storage URL and returns the response status.
// It does not treat non-2xx as an error and sends no credentials.
func (c *Client) Upload(ctx context.Context, url string, form Form) (int, error) {
	if strings.TrimSpace(url) == "" {
		return 0, errors.New("platform: upload url must not be empty")
	}

	body, contentType, err := encodeForm(form)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, fmt.Errorf("platform: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("platform: upload failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBody))
	return res.StatusCode, nil
}

func encodeForm(form Form) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range form.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("platform: write field %q: %w", f.Name, err)
		}
	}
	for _, f := range form.Files {
		filename := f.Filename
		if filename == "" {
			filename = f.Field
		}
		part, err := w.CreateFormFile(f.Field, filename)
		if err != nil {
			return nil, "", fmt.Errorf("platform: create file part %q: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("platform: write file part %q: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("platform: close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) (json.RawMessage, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Message:    errorMessage(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// errorMessage prefers the service's "message" or "detail" field over the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(body))
}
