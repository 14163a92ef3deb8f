package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/metrics"
)

var (
	bucketTemplates   = []byte("templates")
	bucketTemplateKey = []byte("template_keys")
	bucketVariables   = []byte("variables")
)

// ErrConflict is returned when a write would leave more than one active
// template for the same (event type, language) pair.
var ErrConflict = errors.New("active template already exists for this event type and language")

const keySep = "\x00"

// BoltStore persists templates and variables in BoltDB. Template records are
// JSON values keyed by ID; a secondary index keyed by
// eventType\x00language\x00id supports key lookups and tolerates duplicates.
type BoltStore struct {
	db          *bolt.DB
	defaultLang string
	logger      *slog.Logger
}

// NewBolt prepares the template buckets on an open database. defaultLang is
// the language GetTemplate falls back to, once, when the requested language
// has no active template.
func NewBolt(db *bolt.DB, defaultLang string, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTemplates, bucketTemplateKey, bucketVariables} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db, defaultLang: defaultLang, logger: logger}, nil
}

func indexKey(eventType, languageCode, id string) []byte {
	return []byte(eventType + keySep + languageCode + keySep + id)
}

func indexPrefix(eventType, languageCode string) []byte {
	return []byte(eventType + keySep + languageCode + keySep)
}

func variableKey(eventType, variableName string) []byte {
	return []byte(eventType + keySep + variableName)
}

// GetTemplate returns the active template for the key, falling back once to
// the default language. Response options come back ordered by sort order.
func (s *BoltStore) GetTemplate(ctx context.Context, eventType, languageCode string) (*message.Template, error) {
	var tmpl *message.Template
	fellBack := false

	err := s.db.View(func(tx *bolt.Tx) error {
		candidates, err := activeByKey(tx, eventType, languageCode)
		if err != nil {
			return err
		}
		if len(candidates) == 0 && languageCode != s.defaultLang {
			candidates, err = activeByKey(tx, eventType, s.defaultLang)
			if err != nil {
				return err
			}
			fellBack = len(candidates) > 0
		}
		if len(candidates) > 1 {
			s.logger.Warn("multiple active templates for one key",
				"event_type", eventType,
				"language", candidates[0].LanguageCode,
				"count", len(candidates),
			)
		}
		tmpl = pickActive(candidates)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}
	if tmpl == nil {
		return nil, message.ErrNotFound
	}
	if fellBack {
		metrics.IncRenderFallbacks(eventType, languageCode)
	}

	orderResponses(tmpl.Responses)
	return tmpl, nil
}

func activeByKey(tx *bolt.Tx, eventType, languageCode string) ([]*message.Template, error) {
	templates := tx.Bucket(bucketTemplates)
	index := tx.Bucket(bucketTemplateKey)

	var out []*message.Template
	prefix := indexPrefix(eventType, languageCode)
	c := index.Cursor()
	for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
		data := templates.Get(id)
		if data == nil {
			continue
		}
		var tmpl message.Template
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
		}
		if !tmpl.IsActive {
			continue
		}
		out = append(out, &tmpl)
	}
	return out, nil
}

// GetVariables returns the extraction rules for an event type. Order is
// stable: ascending by variable name.
func (s *BoltStore) GetVariables(ctx context.Context, eventType string) ([]message.TemplateVariable, error) {
	var vars []message.TemplateVariable

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketVariables)
		prefix := []byte(eventType + keySep)
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var tv message.TemplateVariable
			if err := json.Unmarshal(v, &tv); err != nil {
				return fmt.Errorf("failed to unmarshal variable %s: %w", k, err)
			}
			vars = append(vars, tv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading variables: %w", err)
	}
	return vars, nil
}

// GetTemplateByID retrieves a template regardless of its active flag.
func (s *BoltStore) GetTemplateByID(ctx context.Context, id string) (*message.Template, error) {
	var tmpl *message.Template

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return nil
		}
		tmpl = &message.Template{}
		return json.Unmarshal(data, tmpl)
	})
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", id, err)
	}
	if tmpl == nil {
		return nil, message.ErrNotFound
	}
	orderResponses(tmpl.Responses)
	return tmpl, nil
}

// ListTemplates returns all templates, active or not, optionally filtered by
// event type, ordered by event type then language.
func (s *BoltStore) ListTemplates(ctx context.Context, eventType string) ([]*message.Template, error) {
	var out []*message.Template

	err := s.db.View(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)
		index := tx.Bucket(bucketTemplateKey)

		c := index.Cursor()
		prefix := []byte{}
		if eventType != "" {
			prefix = []byte(eventType + keySep)
		}
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			data := templates.Get(id)
			if data == nil {
				continue
			}
			var tmpl message.Template
			if err := json.Unmarshal(data, &tmpl); err != nil {
				continue
			}
			out = append(out, &tmpl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return out, nil
}

// CreateTemplate stores a new template, enforcing the one-active-template
// invariant for its key. IDs and timestamps are assigned here.
func (s *BoltStore) CreateTemplate(ctx context.Context, tmpl *message.Template) error {
	if err := validateTemplate(tmpl); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if tmpl.IsActive {
			if err := checkNoActive(tx, tmpl.EventType, tmpl.LanguageCode, ""); err != nil {
				return err
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

		return writeTemplate(tx, tmpl)
	})
}

// UpdateTemplate replaces an existing template record, moving its key index
// entry when the event type or language changed.
func (s *BoltStore) UpdateTemplate(ctx context.Context, tmpl *message.Template) error {
	if tmpl.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if err := validateTemplate(tmpl); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := readTemplate(tx, tmpl.ID)
		if err != nil {
			return err
		}

		if tmpl.IsActive {
			if err := checkNoActive(tx, tmpl.EventType, tmpl.LanguageCode, tmpl.ID); err != nil {
				return err
			}
		}

		if existing.EventType != tmpl.EventType || existing.LanguageCode != tmpl.LanguageCode {
			index := tx.Bucket(bucketTemplateKey)
			if err := index.Delete(indexKey(existing.EventType, existing.LanguageCode, tmpl.ID)); err != nil {
				return err
			}
		}

		tmpl.CreatedAt = existing.CreatedAt
		tmpl.UpdatedAt = now()
		for i := range tmpl.Responses {
			if tmpl.Responses[i].ID == "" {
				tmpl.Responses[i].ID = uuid.New().String()
			}
		}

		return writeTemplate(tx, tmpl)
	})
}

// DeactivateTemplate soft-deletes a template; it stays listable but becomes
// invisible to GetTemplate.
func (s *BoltStore) DeactivateTemplate(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tmpl, err := readTemplate(tx, id)
		if err != nil {
			return err
		}
		tmpl.IsActive = false
		tmpl.UpdatedAt = now()
		return writeTemplate(tx, tmpl)
	})
}

// DeleteTemplate removes a template record and its index entry.
func (s *BoltStore) DeleteTemplate(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tmpl, err := readTemplate(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTemplateKey).Delete(indexKey(tmpl.EventType, tmpl.LanguageCode, id)); err != nil {
			return err
		}
		return tx.Bucket(bucketTemplates).Delete([]byte(id))
	})
}

// PutVariable upserts an extraction rule, keyed by event type and
// placeholder token.
func (s *BoltStore) PutVariable(ctx context.Context, v *message.TemplateVariable) error {
	if v.EventType == "" {
		return fmt.Errorf("variable event type is required")
	}
	if v.VariableName == "" {
		return fmt.Errorf("variable name is required")
	}
	if v.DataPath == "" {
		return fmt.Errorf("variable data path is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal variable: %w", err)
		}
		return tx.Bucket(bucketVariables).Put(variableKey(v.EventType, v.VariableName), data)
	})
}

// DeleteVariable removes one extraction rule.
func (s *BoltStore) DeleteVariable(ctx context.Context, eventType, variableName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVariables).Delete(variableKey(eventType, variableName))
	})
}

func validateTemplate(tmpl *message.Template) error {
	if tmpl.EventType == "" {
		return fmt.Errorf("template event type is required")
	}
	if tmpl.LanguageCode == "" {
		return fmt.Errorf("template language code is required")
	}
	if tmpl.Body == "" {
		return fmt.Errorf("template body is required")
	}
	if tmpl.Kind == "" {
		tmpl.Kind = message.KindText
	}
	return nil
}

func readTemplate(tx *bolt.Tx, id string) (*message.Template, error) {
	data := tx.Bucket(bucketTemplates).Get([]byte(id))
	if data == nil {
		return nil, message.ErrNotFound
	}
	tmpl := &message.Template{}
	if err := json.Unmarshal(data, tmpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}
	return tmpl, nil
}

func writeTemplate(tx *bolt.Tx, tmpl *message.Template) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	if err := tx.Bucket(bucketTemplates).Put([]byte(tmpl.ID), data); err != nil {
		return err
	}
	return tx.Bucket(bucketTemplateKey).Put(indexKey(tmpl.EventType, tmpl.LanguageCode, tmpl.ID), []byte(tmpl.ID))
}

func checkNoActive(tx *bolt.Tx, eventType, languageCode, excludeID string) error {
	existing, err := activeByKey(tx, eventType, languageCode)
	if err != nil {
		return err
	}
	for _, tmpl := range existing {
		if tmpl.ID != excludeID {
			return ErrConflict
		}
	}
	return nil
}
