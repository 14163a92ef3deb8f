package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned when no active template exists for the requested
// key, even after the single default-language fallback step. Callers decide
// whether to skip the event or send an untemplated notice; the compiler never
// invents content. Any other error from the store is a retrieval failure.
var ErrNotFound = errors.New("template not found")

// Store is the read side of the template store as the compiler consumes it.
// GetTemplate returns the single active template for the key, falling back
// once to the default language, with active response options ordered by sort
// order (ties by insertion order). GetVariables returns the extraction rules
// for an event type in a stable order.
type Store interface {
	GetTemplate(ctx context.Context, eventType, languageCode string) (*Template, error)
	GetVariables(ctx context.Context, eventType string) ([]TemplateVariable, error)
}

// Compiler turns a fleet event into a rendered chat message using
// database-defined templates. It is stateless between calls; the store is its
// only dependency and is read-only from the compiler's perspective.
type Compiler struct {
	store  Store
	logger *slog.Logger
}

func NewCompiler(store Store, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{store: store, logger: logger}
}

// Compile selects the template for the event and requested language,
// substitutes resolved variables into its text fields, filters response
// options by their display conditions, and returns the rendered message.
// Payload shape problems never fail the call; only ErrNotFound and store
// retrieval errors are propagated.
func (c *Compiler) Compile(ctx context.Context, event Event, languageCode string) (*RenderedMessage, error) {
	tmpl, err := c.store.GetTemplate(ctx, event.EventType, languageCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("template lookup for %q: %w", event.EventType, err)
	}

	vars, err := c.store.GetVariables(ctx, event.EventType)
	if err != nil {
		return nil, fmt.Errorf("variable lookup for %q: %w", event.EventType, err)
	}

	root := event.PayloadRoot()
	values := ResolveVariables(vars, root)

	rendered := &RenderedMessage{
		Kind:    tmpl.Kind,
		Buttons: []RenderedButton{},
	}

	var unknown []string
	rendered.Header, unknown = c.substituteField(tmpl.Header, values, unknown)
	rendered.Body, unknown = c.substituteField(tmpl.Body, values, unknown)
	rendered.Footer, unknown = c.substituteField(tmpl.Footer, values, unknown)
	if len(unknown) > 0 {
		c.logger.Warn("template references undeclared variables",
			"event_type", event.EventType,
			"language", tmpl.LanguageCode,
			"placeholders", unknown,
		)
	}

	for _, opt := range tmpl.Responses {
		if !conditionsMatch(opt.DisplayConditions, root) {
			continue
		}
		rendered.Buttons = append(rendered.Buttons, RenderedButton{
			Text:    opt.ButtonText,
			Payload: opt.ButtonPayload,
			Type:    opt.ButtonType,
		})
	}

	return rendered, nil
}

func (c *Compiler) substituteField(text string, values map[string]string, unknown []string) (string, []string) {
	out, missing := substitute(text, values)
	return out, append(unknown, missing...)
}

// conditionsMatch reports whether every declared (path, expected) pair
// matches the event payload. The value is compared as extracted, using the
// same traversal as variable resolution; an empty condition set always
// matches. A path miss never matches and never errors.
func conditionsMatch(conditions map[string]string, root map[string]interface{}) bool {
	for path, expected := range conditions {
		value, ok := lookupPath(root, path)
		if !ok || value == nil {
			return false
		}
		if stringifyValue(value) != expected {
			return false
		}
	}
	return true
}
