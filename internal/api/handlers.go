package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetwire/fleetrelay/internal/fleet"
	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/relay"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Queue  *relay.QueueStats `json:"queue"`
}

// WebhookResponse is the response for POST /webhooks/fleet/{provider}
type WebhookResponse struct {
	Status     string `json:"status"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// QueueResponse is the response for GET /api/v1/queue
type QueueResponse struct {
	Stats      *relay.QueueStats  `json:"stats"`
	Deliveries []*DeliverySummary `json:"deliveries,omitempty"`
}

// DeliverySummary is a summary of a queued delivery
type DeliverySummary struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Provider  string    `json:"provider"`
	To        string    `json:"to"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleFleetWebhook handles POST /webhooks/fleet/{provider}. A missing
// template or driver produces an accepted-but-skipped response so fleet
// platforms do not retry authoring problems; store failures return 503 to
// request a retry.
func (s *Server) handleFleetWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	if !s.checkWebhookToken(provider, r) {
		sendError(w, http.StatusUnauthorized, "invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		sendError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := fleet.Normalize(provider, body)
	if err != nil {
		s.logger.Warn("rejected fleet webhook", "provider", provider, "error", err)
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivery, err := s.relay.IngestEvent(r.Context(), provider, event)
	switch {
	case err == nil:
		sendJSON(w, http.StatusAccepted, WebhookResponse{
			Status:     "queued",
			DeliveryID: delivery.ID,
		})
	case errors.Is(err, relay.ErrNoRecipient):
		sendJSON(w, http.StatusAccepted, WebhookResponse{Status: "skipped", Reason: "no_recipient"})
	case errors.Is(err, message.ErrNotFound):
		sendJSON(w, http.StatusAccepted, WebhookResponse{Status: "skipped", Reason: "no_template"})
	default:
		s.logger.Error("failed to ingest fleet event", "provider", provider, "error", err)
		sendError(w, http.StatusServiceUnavailable, "event processing unavailable")
	}
}

func (s *Server) checkWebhookToken(provider string, r *http.Request) bool {
	expected, ok := s.config.Fleet.WebhookTokens[provider]
	if !ok || expected == "" {
		// No token configured for this provider, allow
		return true
	}
	token := r.Header.Get("X-Webhook-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == expected
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get queue stats", "error", err)
		sendError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Queue:  stats,
	})
}

// handleQueue handles GET /api/v1/queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get queue stats", "error", err)
		sendError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	resp := QueueResponse{Stats: stats}

	if r.URL.Query().Get("list") == "true" {
		deliveries, err := s.queue.List(r.Context(), relay.ListFilter{Limit: 100})
		if err != nil {
			s.logger.Error("failed to list deliveries", "error", err)
			sendError(w, http.StatusInternalServerError, "failed to list deliveries")
			return
		}
		for _, d := range deliveries {
			resp.Deliveries = append(resp.Deliveries, &DeliverySummary{
				ID:        d.ID,
				EventType: d.EventType,
				Provider:  d.Provider,
				To:        d.To,
				Status:    string(d.Status),
				CreatedAt: d.CreatedAt,
			})
		}
	}

	sendJSON(w, http.StatusOK, resp)
}
