package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"analytics-workspace/internal/connector"
	"analytics-workspace/internal/frame"
)

type localFileReader interface {
	ReadsLocalFile() bool
}

type PushService struct {
	opener Opener
}

// PushInput carries exactly one of Table or Connector.
type PushInput struct {
	Slug        string
	Name        string
	Description string
	Table       json.RawMessage
	Connector   *ConnectorInput
}

type ConnectorInput struct {
	Type   string
	Config json.RawMessage
}

type PushOutput struct {
	Data json.RawMessage
}

func NewPushService(o Opener) (*PushService, error) {
	if o == nil {
		return nil, errors.New("usecase: workspace opener must not be nil")
	}
	return &PushService{opener: o}, nil
}

func (s *PushService) Push(ctx context.Context, in PushInput) (PushOutput, error) {
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		return PushOutput{}, newError(ErrorInvalidInput, "empty_slug", nil)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return PushOutput{}, newError(ErrorInvalidInput, "empty_name", nil)
	}

	target, err := pushTarget(in)
	if err != nil {
		return PushOutput{}, err
	}

	ws, err := s.opener.Open(ctx, slug, "")
	if err != nil {
		return PushOutput{}, fromWorkspaceError(err)
	}
	data, err := ws.Push(ctx, target, name, in.Description)
	if err != nil {
		return PushOutput{}, fromWorkspaceError(err)
	}
	return PushOutput{Data: data}, nil
}

func pushTarget(in PushInput) (any, error) {
	hasTable := len(bytes.TrimSpace(in.Table)) > 0 && string(bytes.TrimSpace(in.Table)) != "null"
	hasConnector := in.Connector != nil
	switch {
	case hasTable && hasConnector:
		return nil, newError(ErrorInvalidInput, "ambiguous_target", nil)
	case hasTable:
		f, err := frame.Decode(in.Table)
		if err != nil {
			return nil, newError(ErrorInvalidInput, "invalid_table", err)
		}
		return f, nil
	case hasConnector:
		c, err := connector.Parse(in.Connector.Type, in.Connector.Config)
		if err != nil {
			return nil, newError(ErrorInvalidInput, "invalid_connector", err)
		}
		// Requests must carry credentials inline; a path would read this host's files.
		if lf, ok := c.(localFileReader); ok && lf.ReadsLocalFile() {
			return nil, newError(ErrorInvalidInput, "credentials_path_not_allowed", nil)
		}
		return c, nil
	default:
		return nil, newError(ErrorInvalidInput, "missing_target", nil)
	}
}
