package whatsapp

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ReplyHandler is called for each driver quick-reply tap with the sender's
// phone number and the opaque button payload the message carried.
type ReplyHandler func(phone, messageID, buttonPayload string)

// WebhookHandler processes the Meta webhook: the GET verification handshake
// and POST notifications carrying driver replies.
type WebhookHandler struct {
	verifyToken string
	onReply     ReplyHandler
	logger      *slog.Logger
}

func NewWebhookHandler(verifyToken string, onReply ReplyHandler, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		onReply:     onReply,
		logger:      logger,
	}
}

// HandleVerify handles the GET webhook verification from Meta.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/get-started#webhook-verification
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleIncoming processes incoming webhook POST notifications. Meta expects
// a fast 200 regardless of processing outcome; only interactive replies are
// relayed, free-text messages and delivery statuses are logged and dropped.
func (h *WebhookHandler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("failed to decode whatsapp webhook", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				h.handleMessage(msg)
			}
			for _, status := range change.Value.Statuses {
				h.logger.Debug("message status update",
					"message_id", status.ID,
					"status", status.Status,
				)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleMessage(msg Message) {
	if msg.Type != "interactive" || msg.Interactive == nil {
		h.logger.Debug("ignoring non-interactive message", "type", msg.Type, "from", msg.From)
		return
	}

	switch msg.Interactive.Type {
	case "button_reply":
		if msg.Interactive.ButtonReply != nil {
			h.onReply(msg.From, msg.ID, msg.Interactive.ButtonReply.ID)
		}
	case "list_reply":
		if msg.Interactive.ListReply != nil {
			h.onReply(msg.From, msg.ID, msg.Interactive.ListReply.ID)
		}
	}
}
