package domain

import "encoding/json"

// Output is one item of a chat answer as returned by the analytics service.
// Value is kept raw so callers decide how to interpret each output type.
type Output struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Output types reported by the service.
const (
	OutputString    = "string"
	OutputNumber    = "number"
	OutputDataframe = "dataframe"
	OutputPlot      = "plot"
)

// String returns the value as text. String values are unquoted; everything
// else is returned as raw JSON.
func (o Output) String() string {
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s
	}
	return string(o.Value)
}

// ChatResult is the structured answer of a single chat call.
type ChatResult struct {
	ConversationID string
	Code           string
	Outputs        []Output
	Raw            json.RawMessage
}
