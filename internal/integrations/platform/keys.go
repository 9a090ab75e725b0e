package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// KeySource resolves the API key used for bearer authorization.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a key supplied directly, e.g. from the environment.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", ErrMissingAPIKey
	}
	return string(k), nil
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamStoreKey reads the key from a parameter holding {"token": "..."}.
type ParamStoreKey struct {
	getter Getter
	name   string
}

func NewParamStoreKey(getter Getter, name string) (*ParamStoreKey, error) {
	if getter == nil {
		return nil, errors.New("platform: paramstore getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("platform: token parameter name is empty")
	}
	return &ParamStoreKey{getter: getter, name: name}, nil
}

func (k *ParamStoreKey) APIKey(ctx context.Context) (string, error) {
	raw, err := k.getter.GetParameter(ctx, k.name)
	if err != nil {
		return "", fmt.Errorf("platform: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("platform: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", ErrMissingAPIKey
	}
	return tp.Token, nil
}
