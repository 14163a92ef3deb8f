package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fleetwire/fleetrelay/internal/config"
	"github.com/fleetwire/fleetrelay/internal/fleet"
	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/relay"
	"github.com/fleetwire/fleetrelay/internal/store"
	"github.com/fleetwire/fleetrelay/internal/whatsapp"
)

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	queue  *relay.BoltStorage
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	queue, err := relay.NewBoltStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	st := store.NewMemory("ENG", logger)
	compiler := message.NewCompiler(st, logger)
	updater := fleet.NewUpdater(logger)
	rel := relay.New(compiler, queue, updater, "ENG", logger)

	cfg := &config.Config{}
	if mutate != nil {
		mutate(cfg)
	}

	waWebhook := whatsapp.NewWebhookHandler("verify-secret", rel.HandleReply, logger)
	server := NewServer(rel, queue, st, waWebhook, cfg, logger)

	return &testEnv{server: server, store: st, queue: queue}
}

func (e *testEnv) seedRouteTemplate(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	tmpl := &message.Template{
		EventType:    "route.assigned",
		LanguageCode: "ENG",
		Kind:         message.KindInteractive,
		Body:         "Route: {{route_name}}",
		Priority:     1,
		IsActive:     true,
		Responses: []message.ResponseOption{
			{ButtonText: "Acknowledge", ButtonPayload: "acknowledge_route", ButtonType: message.ButtonReply, SortOrder: 1},
		},
	}
	if err := e.store.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	v := &message.TemplateVariable{
		EventType:    "route.assigned",
		VariableName: "{{route_name}}",
		DataPath:     "data.route.name",
		DefaultValue: "your route",
	}
	if err := e.store.PutVariable(ctx, v); err != nil {
		t.Fatalf("seed variable: %v", err)
	}
}

func (e *testEnv) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

const samsaraBody = `{
	"eventType": "route.assigned",
	"data": {
		"route": {"name": "Morning Run"},
		"driver": {"phone": "+15550001111"}
	}
}`

func TestFleetWebhookQueuesDelivery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedRouteTemplate(t)

	rec := env.do(http.MethodPost, "/webhooks/fleet/samsara", samsaraBody, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp WebhookResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "queued" || resp.DeliveryID == "" {
		t.Fatalf("response = %+v", resp)
	}

	d, err := env.queue.Get(context.Background(), resp.DeliveryID)
	if err != nil || d == nil {
		t.Fatalf("delivery not stored: %v", err)
	}
	if d.Message.Body != "Route: Morning Run" {
		t.Errorf("rendered body = %q", d.Message.Body)
	}
	if len(d.Message.Buttons) != 1 || d.Message.Buttons[0].Payload != "acknowledge_route" {
		t.Errorf("buttons = %v", d.Message.Buttons)
	}
}

func TestFleetWebhookNoRecipient(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedRouteTemplate(t)

	body := `{"eventType":"route.assigned","data":{"route":{"name":"R-7"}}}`
	rec := env.do(http.MethodPost, "/webhooks/fleet/samsara", body, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp WebhookResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "skipped" || resp.Reason != "no_recipient" {
		t.Errorf("response = %+v", resp)
	}
}

func TestFleetWebhookNoTemplate(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/webhooks/fleet/samsara", samsaraBody, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp WebhookResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "skipped" || resp.Reason != "no_template" {
		t.Errorf("response = %+v", resp)
	}
}

func TestFleetWebhookStoreFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.FailReads = true

	rec := env.do(http.MethodPost, "/webhooks/fleet/samsara", samsaraBody, nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestFleetWebhookBadRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/webhooks/fleet/unknown-provider", samsaraBody, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d, want 400", rec.Code)
	}

	rec = env.do(http.MethodPost, "/webhooks/fleet/samsara", "not json", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestFleetWebhookTokenAuth(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Fleet.WebhookTokens = map[string]string{"samsara": "sam-secret"}
	})
	env.seedRouteTemplate(t)

	rec := env.do(http.MethodPost, "/webhooks/fleet/samsara", samsaraBody, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}

	rec = env.do(http.MethodPost, "/webhooks/fleet/samsara", samsaraBody,
		map[string]string{"X-Webhook-Token": "sam-secret"})
	if rec.Code != http.StatusAccepted {
		t.Errorf("valid token status = %d, want 202", rec.Code)
	}

	rec = env.do(http.MethodPost, "/webhooks/fleet/samsara?token=sam-secret", samsaraBody, nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("query token status = %d, want 202", rec.Code)
	}

	// Provider without a configured token is open.
	rec = env.do(http.MethodPost, "/webhooks/fleet/motive",
		`{"action":"route.assigned","payload":{"driver":{"phone":"+15550001111"}}}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("unconfigured provider status = %d, want 202", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ok" || resp.Queue == nil {
		t.Errorf("response = %+v", resp)
	}
}

func TestWhatsAppVerifyRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=777", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "777" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.API.APIKey = "admin-key"
	})

	rec := env.do(http.MethodGet, "/api/v1/queue", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/queue", "",
		map[string]string{"Authorization": "Bearer admin-key"})
	if rec.Code != http.StatusOK {
		t.Errorf("bearer key status = %d, want 200", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/queue", "",
		map[string]string{"X-API-Key": "admin-key"})
	if rec.Code != http.StatusOK {
		t.Errorf("header key status = %d, want 200", rec.Code)
	}
}

func TestQueueEndpointList(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedRouteTemplate(t)

	if rec := env.do(http.MethodPost, "/webhooks/fleet/samsara", samsaraBody, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("webhook status = %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/api/v1/queue?list=true", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp QueueResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", resp.Stats.Pending)
	}
	if len(resp.Deliveries) != 1 || resp.Deliveries[0].EventType != "route.assigned" {
		t.Errorf("deliveries = %v", resp.Deliveries)
	}
}

func TestTemplateAPICreateAndGet(t *testing.T) {
	env := newTestEnv(t, nil)

	createBody := `{
		"event_type": "route.assigned",
		"language_code": "ENG",
		"kind": "interactive",
		"body": "Route: {{route_name}}",
		"is_active": true,
		"responses": [
			{"button_text": "Acknowledge", "button_payload": "acknowledge_route", "sort_order": 1}
		]
	}`

	rec := env.do(http.MethodPost, "/api/v1/templates/", createBody, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created TemplateResponse
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.ID == "" {
		t.Fatal("expected template ID")
	}
	// Undeclared placeholder surfaces as an authoring warning.
	if len(created.Warnings) != 1 || !strings.Contains(created.Warnings[0], "{{route_name}}") {
		t.Errorf("warnings = %v", created.Warnings)
	}

	rec = env.do(http.MethodGet, "/api/v1/templates/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Duplicate active template for the same key conflicts.
	rec = env.do(http.MethodPost, "/api/v1/templates/", createBody, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/templates/nonexistent", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing template status = %d, want 404", rec.Code)
	}
}

func TestTemplateAPIValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing event type", `{"language_code":"ENG","body":"x"}`},
		{"bad language length", `{"event_type":"e","language_code":"EN","body":"x"}`},
		{"missing body", `{"event_type":"e","language_code":"ENG"}`},
		{"bad kind", `{"event_type":"e","language_code":"ENG","kind":"video","body":"x"}`},
		{"not json", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/templates/", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestTemplateAPIDeleteAndPurge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedRouteTemplate(t)

	templates, _ := env.store.ListTemplates(context.Background(), "")
	id := templates[0].ID

	rec := env.do(http.MethodDelete, "/api/v1/templates/"+id, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate status = %d", rec.Code)
	}
	tmpl, err := env.store.GetTemplateByID(context.Background(), id)
	if err != nil {
		t.Fatalf("template should survive deactivation: %v", err)
	}
	if tmpl.IsActive {
		t.Error("template should be inactive")
	}

	rec = env.do(http.MethodDelete, "/api/v1/templates/"+id+"?purge=true", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("purge status = %d", rec.Code)
	}
	if _, err := env.store.GetTemplateByID(context.Background(), id); err == nil {
		t.Error("purged template should be gone")
	}
}

func TestTemplateAPIPreview(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedRouteTemplate(t)

	body := `{
		"event_type": "route.assigned",
		"language_code": "ENG",
		"data": {"route": {"name": "Evening Run"}}
	}`
	rec := env.do(http.MethodPost, "/api/v1/templates/preview", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rendered message.RenderedMessage
	json.Unmarshal(rec.Body.Bytes(), &rendered)
	if rendered.Body != "Route: Evening Run" {
		t.Errorf("body = %q", rendered.Body)
	}
}

func TestVariableAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	putBody := `{
		"event_type": "route.assigned",
		"variable_name": "route_name",
		"data_path": "data.route.name",
		"default_value": "your route"
	}`
	rec := env.do(http.MethodPut, "/api/v1/variables/", putBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/v1/variables/route.assigned", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listResp VariableListResponse
	json.Unmarshal(rec.Body.Bytes(), &listResp)
	if len(listResp.Variables) != 1 {
		t.Fatalf("got %d variables, want 1", len(listResp.Variables))
	}
	// Bare names are normalized to placeholder tokens.
	if listResp.Variables[0].VariableName != "{{route_name}}" {
		t.Errorf("variable name = %q", listResp.Variables[0].VariableName)
	}

	rec = env.do(http.MethodDelete, "/api/v1/variables/route.assigned/route_name", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	vars, _ := env.store.GetVariables(context.Background(), "route.assigned")
	if len(vars) != 0 {
		t.Errorf("variables remaining: %v", vars)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	env := newTestEnv(t, nil)

	// Oversized bodies are truncated at 1MB; the decoder then rejects the
	// partial JSON.
	big := bytes.Repeat([]byte("a"), 2<<20)
	body := `{"eventType":"route.assigned","data":{"blob":"` + string(big) + `"}}`
	rec := env.do(http.MethodPost, "/webhooks/fleet/samsara", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
