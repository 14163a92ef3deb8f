// Package store persists templates and their variable declarations. The
// write path belongs to the administration surface; rendering only reads.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/fleetwire/fleetrelay/internal/message"
)

// Store is the full template store contract: the compiler's read side plus
// the administrative write path. Writes must keep at most one active template
// per (event type, language) pair.
type Store interface {
	message.Store

	GetTemplateByID(ctx context.Context, id string) (*message.Template, error)
	ListTemplates(ctx context.Context, eventType string) ([]*message.Template, error)
	CreateTemplate(ctx context.Context, tmpl *message.Template) error
	UpdateTemplate(ctx context.Context, tmpl *message.Template) error
	DeactivateTemplate(ctx context.Context, id string) error
	DeleteTemplate(ctx context.Context, id string) error

	PutVariable(ctx context.Context, v *message.TemplateVariable) error
	DeleteVariable(ctx context.Context, eventType, variableName string) error
}

// pickActive selects the template to serve from the active candidates for
// one key. Multiple active templates violate the authoring invariant but are
// tolerated: the pick is deterministic, lowest priority value first, then
// earliest creation time.
func pickActive(candidates []*message.Template) *message.Template {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority < best.Priority ||
			(c.Priority == best.Priority && c.CreatedAt.Before(best.CreatedAt)) {
			best = c
		}
	}
	return best
}

// orderResponses sorts response options by sort order, keeping insertion
// order for ties.
func orderResponses(responses []message.ResponseOption) {
	sort.SliceStable(responses, func(i, j int) bool {
		return responses[i].SortOrder < responses[j].SortOrder
	})
}

func now() time.Time {
	return time.Now().UTC()
}
