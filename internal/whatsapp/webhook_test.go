package whatsapp

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestWebhook(onReply ReplyHandler) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookHandler("secret-token", onReply, logger)
}

func TestHandleVerify(t *testing.T) {
	h := newTestWebhook(nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "valid handshake",
			query:      "hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345",
			wantStatus: http.StatusOK,
			wantBody:   "12345",
		},
		{
			name:       "wrong token",
			query:      "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "wrong mode",
			query:      "hub.mode=unsubscribe&hub.verify_token=secret-token&hub.challenge=12345",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?"+tt.query, nil)
			rec := httptest.NewRecorder()

			h.HandleVerify(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleIncomingButtonReply(t *testing.T) {
	var gotPhone, gotMessageID, gotPayload string
	h := newTestWebhook(func(phone, messageID, buttonPayload string) {
		gotPhone, gotMessageID, gotPayload = phone, messageID, buttonPayload
	})

	body := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"messages": [{
						"from": "15550001111",
						"id": "wamid.abc",
						"type": "interactive",
						"interactive": {
							"type": "button_reply",
							"button_reply": {"id": "acknowledge_route", "title": "Acknowledge Route"}
						}
					}]
				}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleIncoming(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotPhone != "15550001111" || gotMessageID != "wamid.abc" || gotPayload != "acknowledge_route" {
		t.Errorf("reply = (%q, %q, %q)", gotPhone, gotMessageID, gotPayload)
	}
}

func TestHandleIncomingListReply(t *testing.T) {
	var gotPayload string
	h := newTestWebhook(func(phone, messageID, buttonPayload string) {
		gotPayload = buttonPayload
	})

	body := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "15550001111",
						"id": "wamid.def",
						"type": "interactive",
						"interactive": {
							"type": "list_reply",
							"list_reply": {"id": "start_loading", "title": "Start Loading"}
						}
					}]
				}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleIncoming(rec, req)

	if gotPayload != "start_loading" {
		t.Errorf("payload = %q, want start_loading", gotPayload)
	}
}

func TestHandleIncomingIgnoresNonInteractive(t *testing.T) {
	called := false
	h := newTestWebhook(func(phone, messageID, buttonPayload string) {
		called = true
	})

	body := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"from": "15550001111",
						"id": "wamid.ghi",
						"type": "text",
						"text": {"body": "hello"}
					}],
					"statuses": [{"id": "wamid.abc", "status": "delivered"}]
				}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleIncoming(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if called {
		t.Error("free-text message should not trigger the reply handler")
	}
}

func TestHandleIncomingMalformedBody(t *testing.T) {
	h := newTestWebhook(func(phone, messageID, buttonPayload string) {
		t.Error("handler should not fire on malformed body")
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	h.HandleIncoming(rec, req)

	// Meta expects 200 even when the body cannot be processed.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
