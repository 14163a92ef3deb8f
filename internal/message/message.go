package message

import (
	"time"
)

// TemplateKind determines how the rendered message should be presented
// by the delivery channel.
type TemplateKind string

const (
	KindText        TemplateKind = "text"
	KindTemplated   TemplateKind = "templated"
	KindInteractive TemplateKind = "interactive"
)

// ButtonType is a rendering hint for the delivery channel.
type ButtonType string

const (
	ButtonReply    ButtonType = "reply"
	ButtonListItem ButtonType = "list_item"
)

// Template is one renderable message definition for exactly one
// (event type, language) pair.
type Template struct {
	ID           string           `json:"id"`
	EventType    string           `json:"event_type"`
	LanguageCode string           `json:"language_code"`
	Kind         TemplateKind     `json:"kind"`
	Header       string           `json:"header,omitempty"`
	Body         string           `json:"body"`
	Footer       string           `json:"footer,omitempty"`
	Category     string           `json:"category,omitempty"`
	Priority     int              `json:"priority"`
	IsActive     bool             `json:"is_active"`
	Responses    []ResponseOption `json:"responses,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ResponseOption is one candidate quick-reply button belonging to a template.
// DisplayConditions maps payload-relative paths to expected literal values;
// the button is eligible only if every pair matches the event payload.
type ResponseOption struct {
	ID                string            `json:"id"`
	ButtonText        string            `json:"button_text"`
	ButtonPayload     string            `json:"button_payload"`
	ButtonType        ButtonType        `json:"button_type"`
	SortOrder         int               `json:"sort_order"`
	DisplayConditions map[string]string `json:"display_conditions,omitempty"`
}

// TemplateVariable is a named extraction rule scoped to an event type and
// shared across all languages of that event type. VariableName is the
// literal placeholder token including its delimiters, e.g. "{{pickup_location}}".
type TemplateVariable struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	VariableName string `json:"variable_name"`
	DataPath     string `json:"data_path"`
	DefaultValue string `json:"default_value,omitempty"`
}

// Event is an externally sourced fleet-platform notification. Data is the
// already-decoded JSON payload; the compiler treats it as opaque except for
// path traversal.
type Event struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

// PayloadRoot is the value variable data paths and display conditions are
// resolved against. Paths address the event envelope, so "data.stop.location"
// reaches into the nested payload.
func (e Event) PayloadRoot() map[string]interface{} {
	return map[string]interface{}{
		"eventType": e.EventType,
		"data":      e.Data,
	}
}

// RenderedMessage is the fully substituted, button-filtered compiler output,
// ready for hand-off to a chat delivery channel. It is ephemeral and never
// persisted by this package.
type RenderedMessage struct {
	Kind    TemplateKind     `json:"kind"`
	Header  string           `json:"header,omitempty"`
	Body    string           `json:"body"`
	Footer  string           `json:"footer,omitempty"`
	Buttons []RenderedButton `json:"buttons"`
}

// RenderedButton is one eligible quick-reply choice in store order.
type RenderedButton struct {
	Text    string     `json:"text"`
	Payload string     `json:"payload"`
	Type    ButtonType `json:"type"`
}
