package relay

import (
	"context"
	"time"

	"github.com/fleetwire/fleetrelay/internal/message"
)

// DeliveryStatus represents the status of a delivery in the queue
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSending   DeliveryStatus = "sending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusDeferred  DeliveryStatus = "deferred"
)

// Delivery is one rendered message queued for a driver. The rendered content
// is frozen at compile time; a retry resends the same message even if the
// template changed since.
type Delivery struct {
	ID          string                   `json:"id"`
	EventType   string                   `json:"event_type"`
	Provider    string                   `json:"provider"`
	To          string                   `json:"to"`
	Language    string                   `json:"language"`
	Message     *message.RenderedMessage `json:"message"`
	Status      DeliveryStatus           `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	NextRetryAt time.Time                `json:"next_retry_at"`
	RetryCount  int                      `json:"retry_count"`
	LastError   string                   `json:"last_error,omitempty"`
}

// QueueStats represents delivery queue statistics
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Sending   int64 `json:"sending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Deferred  int64 `json:"deferred"`
	Total     int64 `json:"total"`
}

// ListFilter represents filter options for listing deliveries
type ListFilter struct {
	Status DeliveryStatus
	Limit  int
	Offset int
}

// Queue defines the interface for delivery queue operations
type Queue interface {
	// Enqueue adds a delivery to the queue
	Enqueue(ctx context.Context, d *Delivery) error

	// Dequeue gets the next delivery for processing.
	// Returns nil, nil if the queue is empty.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Update updates the delivery status
	Update(ctx context.Context, d *Delivery) error

	// Get retrieves a delivery by ID
	Get(ctx context.Context, id string) (*Delivery, error)

	// List returns deliveries with optional filtering
	List(ctx context.Context, filter ListFilter) ([]*Delivery, error)

	// Stats returns queue statistics
	Stats(ctx context.Context) (*QueueStats, error)
}
