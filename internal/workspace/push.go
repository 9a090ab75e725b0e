package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"analytics-workspace/internal/integrations/platform"
)

// Table is a tabular push target.
type Table interface {
	CSV() ([]byte, error)
}

// Connector is a push target describing an external data source.
type Connector interface {
	Type() string
	Config() (string, error)
}

// CredentialedConnector is a Connector whose secret must be transferred as a
// file instead of inline config.
type CredentialedConnector interface {
	Connector
	Credentials() (filename string, data []byte, err error)
}

type tableRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type tableData struct {
	ID        string       `json:"id"`
	UploadURL uploadTicket `json:"upload_url"`
}

type uploadTicket struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

type fileUploadedRequest struct {
	SpaceID     string `json:"space_id"`
	DataframeID string `json:"dataframe_id"`
}

type connectorRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Config      string `json:"config"`
	SpaceID     string `json:"space_id"`
}

// Push publishes target into the workspace under name. Tables are uploaded
// through a storage ticket and acknowledged; connectors are registered. The
// returned value is the service's data object for the final call.
func (w *Workspace) Push(ctx context.Context, target any, name, description string) (json.RawMessage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, newError(ErrorInvalidInput, "empty_name", nil)
	}

	switch t := target.(type) {
	case Table:
		return w.pushTable(ctx, t, name, description)
	case CredentialedConnector:
		return w.pushCredentialedConnector(ctx, t, name, description)
	case Connector:
		return w.pushConnector(ctx, t, name, description)
	default:
		return nil, newError(ErrorInvalidInput, "unsupported_target", nil)
	}
}

func (w *Workspace) pushTable(ctx context.Context, t Table, name, description string) (json.RawMessage, error) {
	csv, err := t.CSV()
	if err != nil {
		return nil, newError(ErrorInvalidInput, "csv_encode_failed", err)
	}

	raw, err := w.transport.PostJSON(ctx, pathTable, tableRequest{Name: name, Description: description})
	if err != nil {
		return nil, newError(ErrorDatasetRegistration, "table_create_failed", err)
	}
	ticket, err := decodeData[tableData](raw)
	if err != nil {
		return nil, newError(ErrorDatasetRegistration, "malformed_response", err)
	}
	if ticket.ID == "" {
		return nil, newError(ErrorDatasetRegistration, "missing_dataset_id", nil)
	}
	if ticket.UploadURL.URL == "" {
		return nil, newError(ErrorDatasetRegistration, "missing_upload_url", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, newError(ErrorDatasetUploadFailed, "cancelled", err)
	}
	status, err := w.transport.Upload(ctx, ticket.UploadURL.URL, platform.Form{
		Fields: platform.FieldsFromMap(ticket.UploadURL.Fields),
		Files:  []platform.File{{Field: uploadFileField, Data: csv}},
	})
	if err != nil {
		return nil, newError(ErrorDatasetUploadFailed, "upload_request_failed", err)
	}
	if status < 200 || status >= 300 {
		return nil, newError(ErrorDatasetUploadFailed, "upload_rejected", &UploadStatusError{StatusCode: status})
	}

	if err := ctx.Err(); err != nil {
		return nil, newError(ErrorDatasetRegistration, "cancelled", err)
	}
	raw, err = w.transport.PostJSON(ctx, pathFileUploaded, fileUploadedRequest{
		SpaceID:     w.id,
		DataframeID: ticket.ID,
	})
	if err != nil {
		return nil, newError(ErrorDatasetRegistration, "file_uploaded_failed", err)
	}

	w.logger.Info("dataset pushed", "name", name, "space_id", w.id, "dataset_id", ticket.ID, "bytes", len(csv))
	return dataOrBody(raw), nil
}

func (w *Workspace) pushConnector(ctx context.Context, c Connector, name, description string) (json.RawMessage, error) {
	req, err := w.connectorRequest(c, name, description)
	if err != nil {
		return nil, err
	}

	raw, err := w.transport.PostJSON(ctx, pathConnectorAdd, req)
	if err != nil {
		return nil, newError(ErrorConnectorRegistration, "connector_add_failed", err)
	}

	w.logger.Info("connector pushed", "name", name, "type", req.Type, "space_id", w.id)
	return dataOrBody(raw), nil
}

func (w *Workspace) pushCredentialedConnector(ctx context.Context, c CredentialedConnector, name, description string) (json.RawMessage, error) {
	req, err := w.connectorRequest(c, name, description)
	if err != nil {
		return nil, err
	}
	filename, credentials, err := c.Credentials()
	if err != nil {
		return nil, newError(ErrorConnectorRegistration, "credentials_unavailable", err)
	}
	apiKey, err := w.transport.APIKey(ctx)
	if err != nil {
		return nil, newError(ErrorConnectorRegistration, "api_key_unavailable", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	raw, err := w.transport.PostMultipart(ctx, pathConnectorAdd, platform.Form{
		Fields: []platform.Field{
			{Name: "name", Value: req.Name},
			{Name: "type", Value: req.Type},
			{Name: "description", Value: req.Description},
			{Name: "config", Value: req.Config},
			{Name: "space_id", Value: req.SpaceID},
		},
		Files: []platform.File{{Field: uploadFileField, Filename: filename, Data: credentials}},
	}, header)
	if err != nil {
		return nil, newError(ErrorConnectorRegistration, "connector_add_failed", err)
	}

	w.logger.Info("connector pushed", "name", name, "type", req.Type, "space_id", w.id, "credentials", filename)
	return dataOrBody(raw), nil
}

func (w *Workspace) connectorRequest(c Connector, name, description string) (connectorRequest, error) {
	typeName := strings.TrimSpace(c.Type())
	if typeName == "" {
		return connectorRequest{}, newError(ErrorInvalidInput, "empty_connector_type", nil)
	}
	config, err := c.Config()
	if err != nil {
		return connectorRequest{}, newError(ErrorInvalidInput, "connector_config_failed", err)
	}
	return connectorRequest{
		Name:        name,
		Type:        typeName,
		Description: description,
		Config:      config,
		SpaceID:     w.id,
	}, nil
}

// dataOrBody returns the data member of a response, or the body itself when
// the service sent no data envelope.
func dataOrBody(raw json.RawMessage) json.RawMessage {
	data, err := decodeData[json.RawMessage](raw)
	if err != nil {
		return raw
	}
	return data
}
