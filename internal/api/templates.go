package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/store"
)

// TemplateServer handles the template administration endpoints: the only
// write path into the template store.
type TemplateServer struct {
	store    store.Store
	compiler *message.Compiler
	validate *validator.Validate
	logger   *slog.Logger
}

// NewTemplateServer creates a new template administration server
func NewTemplateServer(st store.Store, logger *slog.Logger) *TemplateServer {
	return &TemplateServer{
		store:    st,
		compiler: message.NewCompiler(st, logger),
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes registers template API routes
func (s *TemplateServer) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Post("/preview", s.handlePreview)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	r.Route("/variables", func(r chi.Router) {
		r.Get("/{eventType}", s.handleListVariables)
		r.Put("/", s.handlePutVariable)
		r.Delete("/{eventType}/{name}", s.handleDeleteVariable)
	})
}

// Request/Response types

// ResponseOptionRequest is one quick-reply button in a template request
type ResponseOptionRequest struct {
	ButtonText        string            `json:"button_text" validate:"required"`
	ButtonPayload     string            `json:"button_payload" validate:"required"`
	ButtonType        string            `json:"button_type" validate:"omitempty,oneof=reply list_item"`
	SortOrder         int               `json:"sort_order"`
	DisplayConditions map[string]string `json:"display_conditions,omitempty"`
}

// TemplateRequest is the request for creating or updating a template
type TemplateRequest struct {
	EventType    string                  `json:"event_type" validate:"required"`
	LanguageCode string                  `json:"language_code" validate:"required,len=3"`
	Kind         string                  `json:"kind" validate:"omitempty,oneof=text templated interactive"`
	Header       string                  `json:"header,omitempty"`
	Body         string                  `json:"body" validate:"required"`
	Footer       string                  `json:"footer,omitempty"`
	Category     string                  `json:"category,omitempty"`
	Priority     int                     `json:"priority"`
	IsActive     bool                    `json:"is_active"`
	Responses    []ResponseOptionRequest `json:"responses,omitempty" validate:"dive"`
}

// TemplateResponse is the response for a template. Warnings lists
// placeholders used in the text that have no variable declaration yet.
type TemplateResponse struct {
	*message.Template
	Warnings []string `json:"warnings,omitempty"`
}

// TemplateListResponse is the response for listing templates
type TemplateListResponse struct {
	Templates []*message.Template `json:"templates"`
	Total     int                 `json:"total"`
}

// VariableRequest is the request for upserting a variable declaration
type VariableRequest struct {
	EventType    string `json:"event_type" validate:"required"`
	VariableName string `json:"variable_name" validate:"required"`
	DataPath     string `json:"data_path" validate:"required"`
	DefaultValue string `json:"default_value,omitempty"`
}

// VariableListResponse is the response for listing variables
type VariableListResponse struct {
	Variables []message.TemplateVariable `json:"variables"`
}

// PreviewRequest renders a template against a sample payload without
// queueing anything
type PreviewRequest struct {
	EventType    string                 `json:"event_type" validate:"required"`
	LanguageCode string                 `json:"language_code" validate:"required"`
	Data         map[string]interface{} `json:"data"`
}

func (s *TemplateServer) handleList(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates(r.Context(), r.URL.Query().Get("event_type"))
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		sendError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}

	sendJSON(w, http.StatusOK, TemplateListResponse{
		Templates: templates,
		Total:     len(templates),
	})
}

func (s *TemplateServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	tmpl := req.toTemplate()
	if err := s.store.CreateTemplate(r.Context(), tmpl); err != nil {
		s.writeStoreError(w, err, "failed to create template")
		return
	}

	sendJSON(w, http.StatusCreated, s.templateResponse(r, tmpl))
}

func (s *TemplateServer) handleGet(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.store.GetTemplateByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "failed to get template")
		return
	}
	sendJSON(w, http.StatusOK, s.templateResponse(r, tmpl))
}

func (s *TemplateServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	tmpl := req.toTemplate()
	tmpl.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateTemplate(r.Context(), tmpl); err != nil {
		s.writeStoreError(w, err, "failed to update template")
		return
	}

	sendJSON(w, http.StatusOK, s.templateResponse(r, tmpl))
}

// handleDelete soft-deactivates a template; ?purge=true removes the record
func (s *TemplateServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var err error
	if r.URL.Query().Get("purge") == "true" {
		err = s.store.DeleteTemplate(r.Context(), id)
	} else {
		err = s.store.DeactivateTemplate(r.Context(), id)
	}
	if err != nil {
		s.writeStoreError(w, err, "failed to delete template")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *TemplateServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	event := message.Event{EventType: req.EventType, Data: req.Data}
	rendered, err := s.compiler.Compile(r.Context(), event, req.LanguageCode)
	if err != nil {
		s.writeStoreError(w, err, "failed to render preview")
		return
	}

	sendJSON(w, http.StatusOK, rendered)
}

func (s *TemplateServer) handleListVariables(w http.ResponseWriter, r *http.Request) {
	vars, err := s.store.GetVariables(r.Context(), chi.URLParam(r, "eventType"))
	if err != nil {
		s.logger.Error("failed to list variables", "error", err)
		sendError(w, http.StatusInternalServerError, "failed to list variables")
		return
	}
	sendJSON(w, http.StatusOK, VariableListResponse{Variables: vars})
}

func (s *TemplateServer) handlePutVariable(w http.ResponseWriter, r *http.Request) {
	var req VariableRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	v := &message.TemplateVariable{
		EventType:    req.EventType,
		VariableName: message.PlaceholderToken(req.VariableName),
		DataPath:     req.DataPath,
		DefaultValue: req.DefaultValue,
	}
	if err := s.store.PutVariable(r.Context(), v); err != nil {
		s.logger.Error("failed to store variable", "error", err)
		sendError(w, http.StatusInternalServerError, "failed to store variable")
		return
	}

	sendJSON(w, http.StatusOK, v)
}

func (s *TemplateServer) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "eventType")
	name := message.PlaceholderToken(chi.URLParam(r, "name"))

	if err := s.store.DeleteVariable(r.Context(), eventType, name); err != nil {
		s.logger.Error("failed to delete variable", "error", err)
		sendError(w, http.StatusInternalServerError, "failed to delete variable")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (req *TemplateRequest) toTemplate() *message.Template {
	tmpl := &message.Template{
		EventType:    req.EventType,
		LanguageCode: req.LanguageCode,
		Kind:         message.TemplateKind(req.Kind),
		Header:       req.Header,
		Body:         req.Body,
		Footer:       req.Footer,
		Category:     req.Category,
		Priority:     req.Priority,
		IsActive:     req.IsActive,
	}
	for _, opt := range req.Responses {
		buttonType := message.ButtonType(opt.ButtonType)
		if buttonType == "" {
			buttonType = message.ButtonReply
		}
		tmpl.Responses = append(tmpl.Responses, message.ResponseOption{
			ButtonText:        opt.ButtonText,
			ButtonPayload:     opt.ButtonPayload,
			ButtonType:        buttonType,
			SortOrder:         opt.SortOrder,
			DisplayConditions: opt.DisplayConditions,
		})
	}
	return tmpl
}

// templateResponse attaches authoring warnings for placeholders that lack a
// variable declaration. Rendering tolerates them; authors should not.
func (s *TemplateServer) templateResponse(r *http.Request, tmpl *message.Template) TemplateResponse {
	resp := TemplateResponse{Template: tmpl}

	vars, err := s.store.GetVariables(r.Context(), tmpl.EventType)
	if err != nil {
		s.logger.Warn("could not check template variables", "error", err)
		return resp
	}
	for _, token := range message.MissingVariables(tmpl, vars) {
		resp.Warnings = append(resp.Warnings, "no variable declared for "+token)
	}
	return resp
}

func (s *TemplateServer) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *TemplateServer) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, message.ErrNotFound):
		sendError(w, http.StatusNotFound, "template not found")
	case errors.Is(err, store.ErrConflict):
		sendError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		sendError(w, http.StatusInternalServerError, fallback)
	}
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, ErrorResponse{Error: msg})
}
