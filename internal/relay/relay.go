package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetwire/fleetrelay/internal/fleet"
	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/metrics"
)

// ErrNoRecipient marks an event that carries no reachable driver.
var ErrNoRecipient = errors.New("event has no driver phone number")

// Compiler renders a fleet event into a message. Satisfied by
// message.Compiler.
type Compiler interface {
	Compile(ctx context.Context, event message.Event, languageCode string) (*message.RenderedMessage, error)
}

// FleetUpdater applies a driver's button response back to the fleet
// platform as a status update. Implementations own the provider API calls.
type FleetUpdater interface {
	ApplyResponse(ctx context.Context, phone, buttonPayload string) error
}

// Relay connects fleet events to the delivery queue and driver replies back
// to the fleet platform. Compilation failures never reach the driver: a
// missing template drops the event with a log line, a store failure is
// surfaced so the webhook caller can signal a retry.
type Relay struct {
	compiler    Compiler
	queue       Queue
	updater     FleetUpdater
	defaultLang string
	logger      *slog.Logger
}

func New(compiler Compiler, queue Queue, updater FleetUpdater, defaultLang string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		compiler:    compiler,
		queue:       queue,
		updater:     updater,
		defaultLang: defaultLang,
		logger:      logger,
	}
}

// IngestEvent compiles a normalized fleet event and queues the rendered
// message for the event's driver. Returns ErrNoRecipient when the payload
// names no driver, message.ErrNotFound when no template is configured, and a
// wrapped retrieval error when the store is unavailable.
func (r *Relay) IngestEvent(ctx context.Context, provider string, event message.Event) (*Delivery, error) {
	metrics.IncEventsReceived(provider)

	phone := fleet.DriverPhone(event)
	if phone == "" {
		metrics.IncEventsSkipped(provider, "no_recipient")
		r.logger.Info("event skipped, no driver phone",
			"provider", provider,
			"event_type", event.EventType,
		)
		return nil, ErrNoRecipient
	}

	language := fleet.DriverLanguage(event, r.defaultLang)
	rendered, err := r.compiler.Compile(ctx, event, language)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			metrics.IncEventsSkipped(provider, "no_template")
			r.logger.Warn("event skipped, no template configured",
				"provider", provider,
				"event_type", event.EventType,
				"language", language,
			)
			return nil, err
		}
		return nil, fmt.Errorf("compiling event: %w", err)
	}
	metrics.IncRenders(event.EventType, language)

	delivery := &Delivery{
		ID:        uuid.New().String(),
		EventType: event.EventType,
		Provider:  provider,
		To:        phone,
		Language:  language,
		Message:   rendered,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := r.queue.Enqueue(ctx, delivery); err != nil {
		return nil, fmt.Errorf("queueing delivery: %w", err)
	}

	r.logger.Info("event queued for delivery",
		"delivery_id", delivery.ID,
		"provider", provider,
		"event_type", event.EventType,
		"language", language,
	)
	return delivery, nil
}

// HandleReply relays a driver's button tap back to the fleet platform. The
// button payload is the opaque token the compiler emitted; the updater owns
// mapping it to a provider action. The update runs in the background so the
// webhook handler can acknowledge the callback immediately.
func (r *Relay) HandleReply(phone, messageID, buttonPayload string) {
	logger := r.logger.With("phone", phone, "payload", buttonPayload)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := r.updater.ApplyResponse(ctx, phone, buttonPayload); err != nil {
			logger.Error("failed to relay driver response", "error", err)
			return
		}

		metrics.IncRepliesRelayed(buttonPayload)
		logger.Info("driver response relayed")
	}()
}
