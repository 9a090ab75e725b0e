package paramstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the slice of the SSM client used here. *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client reads SecureString parameters. Names without a leading slash are
// resolved under the configured prefix. Values are cached for the life of the
// Client, which matches one Lambda execution environment.
type Client struct {
	api    ssmAPI
	prefix string

	mu    sync.Mutex
	cache map[string]string
}

type Option func(*Client)

// WithPrefix sets the path relative names are resolved under, e.g. "/analytics/prod".
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.TrimSpace(prefix)
	}
}

func New(api ssmAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	c := &Client{api: api, cache: map[string]string{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Resolve returns the absolute parameter name for name.
func (c *Client) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "/") || c.prefix == "" {
		return name
	}
	return path.Join("/", c.prefix, name)
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = c.Resolve(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	c.mu.Lock()
	v, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q has no value", name)
	}

	c.mu.Lock()
	if c.cache == nil {
		c.cache = map[string]string{}
	}
	c.cache[name] = *out.Parameter.Value
	c.mu.Unlock()
	return *out.Parameter.Value, nil
}
