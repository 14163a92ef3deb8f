package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/metrics"
)

// MemoryStore is a map-backed Store for tests and local development. It
// mirrors BoltStore semantics, including the single language fallback and
// duplicate-active tolerance.
type MemoryStore struct {
	mu          sync.RWMutex
	templates   map[string]*message.Template        // by ID
	variables   map[string]message.TemplateVariable // by eventType\x00name
	insertOrder []string                            // template IDs in creation order
	defaultLang string
	logger      *slog.Logger

	// FailReads simulates a backing-store outage so callers can exercise
	// the retrieval-error path.
	FailReads bool
}

func NewMemory(defaultLang string, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		templates:   make(map[string]*message.Template),
		variables:   make(map[string]message.TemplateVariable),
		defaultLang: defaultLang,
		logger:      logger,
	}
}

func (s *MemoryStore) GetTemplate(ctx context.Context, eventType, languageCode string) (*message.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailReads {
		return nil, fmt.Errorf("template store unavailable")
	}

	candidates := s.activeByKey(eventType, languageCode)
	if len(candidates) == 0 && languageCode != s.defaultLang {
		candidates = s.activeByKey(eventType, s.defaultLang)
		if len(candidates) > 0 {
			metrics.IncRenderFallbacks(eventType, languageCode)
		}
	}
	if len(candidates) > 1 {
		s.logger.Warn("multiple active templates for one key",
			"event_type", eventType,
			"language", candidates[0].LanguageCode,
			"count", len(candidates),
		)
	}

	tmpl := pickActive(candidates)
	if tmpl == nil {
		return nil, message.ErrNotFound
	}

	out := cloneTemplate(tmpl)
	orderResponses(out.Responses)
	return out, nil
}

func (s *MemoryStore) activeByKey(eventType, languageCode string) []*message.Template {
	var out []*message.Template
	for _, id := range s.insertOrder {
		tmpl := s.templates[id]
		if tmpl != nil && tmpl.IsActive && tmpl.EventType == eventType && tmpl.LanguageCode == languageCode {
			out = append(out, tmpl)
		}
	}
	return out
}

func (s *MemoryStore) GetVariables(ctx context.Context, eventType string) ([]message.TemplateVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailReads {
		return nil, fmt.Errorf("template store unavailable")
	}

	var vars []message.TemplateVariable
	for key, v := range s.variables {
		if strings.HasPrefix(key, eventType+keySep) {
			vars = append(vars, v)
		}
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].VariableName < vars[j].VariableName })
	return vars, nil
}

func (s *MemoryStore) GetTemplateByID(ctx context.Context, id string) (*message.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.templates[id]
	if !ok {
		return nil, message.ErrNotFound
	}
	out := cloneTemplate(tmpl)
	orderResponses(out.Responses)
	return out, nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context, eventType string) ([]*message.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*message.Template
	for _, id := range s.insertOrder {
		tmpl := s.templates[id]
		if tmpl == nil {
			continue
		}
		if eventType != "" && tmpl.EventType != eventType {
			continue
		}
		out = append(out, cloneTemplate(tmpl))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EventType != out[j].EventType {
			return out[i].EventType < out[j].EventType
		}
		return out[i].LanguageCode < out[j].LanguageCode
	})
	return out, nil
}

func (s *MemoryStore) CreateTemplate(ctx context.Context, tmpl *message.Template) error {
	if err := validateTemplate(tmpl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tmpl.IsActive {
		for _, existing := range s.activeByKey(tmpl.EventType, tmpl.LanguageCode) {
			if existing.ID != tmpl.ID {
				return ErrConflict
			}
		}
	}

	tmpl.ID = uuid.New().String()
	tmpl.CreatedAt = now()
	tmpl.UpdatedAt = tmpl.CreatedAt
	for i := range tmpl.Responses {
		if tmpl.Responses[i].ID == "" {
			tmpl.Responses[i].ID = uuid.New().String()
		}
	}

	s.templates[tmpl.ID] = cloneTemplate(tmpl)
	s.insertOrder = append(s.insertOrder, tmpl.ID)
	return nil
}

func (s *MemoryStore) UpdateTemplate(ctx context.Context, tmpl *message.Template) error {
	if tmpl.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if err := validateTemplate(tmpl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.templates[tmpl.ID]
	if !ok {
		return message.ErrNotFound
	}
	if tmpl.IsActive {
		for _, active := range s.activeByKey(tmpl.EventType, tmpl.LanguageCode) {
			if active.ID != tmpl.ID {
				return ErrConflict
			}
		}
	}

	tmpl.CreatedAt = existing.CreatedAt
	tmpl.UpdatedAt = now()
	for i := range tmpl.Responses {
		if tmpl.Responses[i].ID == "" {
			tmpl.Responses[i].ID = uuid.New().String()
		}
	}
	s.templates[tmpl.ID] = cloneTemplate(tmpl)
	return nil
}

func (s *MemoryStore) DeactivateTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpl, ok := s.templates[id]
	if !ok {
		return message.ErrNotFound
	}
	tmpl.IsActive = false
	tmpl.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return message.ErrNotFound
	}
	delete(s.templates, id)
	for i, existing := range s.insertOrder {
		if existing == id {
			s.insertOrder = append(s.insertOrder[:i], s.insertOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) PutVariable(ctx context.Context, v *message.TemplateVariable) error {
	if v.EventType == "" {
		return fmt.Errorf("variable event type is required")
	}
	if v.VariableName == "" {
		return fmt.Errorf("variable name is required")
	}
	if v.DataPath == "" {
		return fmt.Errorf("variable data path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	s.variables[v.EventType+keySep+v.VariableName] = *v
	return nil
}

func (s *MemoryStore) DeleteVariable(ctx context.Context, eventType, variableName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.variables, eventType+keySep+variableName)
	return nil
}

func cloneTemplate(tmpl *message.Template) *message.Template {
	out := *tmpl
	out.Responses = make([]message.ResponseOption, len(tmpl.Responses))
	copy(out.Responses, tmpl.Responses)
	return &out
}
