package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/metrics"
)

// Sender delivers a rendered message to a driver's chat number.
type Sender interface {
	Send(ctx context.Context, to string, rendered *message.RenderedMessage) error
}

// Processor drains the delivery queue with a pool of workers, retrying
// failures with exponential backoff.
type Processor struct {
	queue           Queue
	sender          Sender
	workers         int
	retryInterval   time.Duration
	maxRetries      int
	processInterval time.Duration
	logger          *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	ProcessInterval time.Duration
}

// NewProcessor creates a new delivery processor
func NewProcessor(q Queue, sender Sender, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 1 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		queue:           q,
		sender:          sender,
		workers:         cfg.Workers,
		retryInterval:   cfg.RetryInterval,
		maxRetries:      cfg.MaxRetries,
		processInterval: cfg.ProcessInterval,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

// Start starts the processor workers
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting delivery processor", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.statsLoop(ctx)
}

// Stop stops the processor gracefully
func (p *Processor) Stop() {
	p.logger.Info("stopping delivery processor")
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("delivery processor stopped")
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
			p.processOne(ctx, logger)
		}
	}
}

// statsLoop keeps the queue gauges current.
func (p *Processor) statsLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			m := metrics.Global()
			if m == nil {
				continue
			}
			stats, err := p.queue.Stats(ctx)
			if err != nil {
				p.logger.Warn("failed to read queue stats", "error", err)
				continue
			}
			m.QueueSize.Set(float64(stats.Pending + stats.Deferred))
			m.QueueDeferred.Set(float64(stats.Deferred))
		}
	}
}

func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) {
	d, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue delivery", "error", err)
		return
	}
	if d == nil {
		return // Queue is empty
	}

	logger = logger.With("delivery_id", d.ID)
	logger.Debug("processing delivery")

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = p.sender.Send(sendCtx, d.To, d.Message)
	cancel()

	if err == nil {
		d.Status = StatusDelivered
		if err := p.queue.Update(ctx, d); err != nil {
			logger.Error("failed to update delivery status", "error", err)
		}
		metrics.IncDeliveriesSent(d.EventType)
		logger.Info("message delivered", "to", d.To, "event_type", d.EventType)
		return
	}

	logger.Warn("delivery failed", "error", err, "retry_count", d.RetryCount)

	d.RetryCount++
	d.LastError = err.Error()

	if d.RetryCount < p.maxRetries {
		backoff := p.calculateBackoff(d.RetryCount)
		d.Status = StatusDeferred
		d.NextRetryAt = time.Now().Add(backoff)

		metrics.IncDeliveriesDeferred(d.EventType)
		logger.Info("delivery deferred",
			"retry_count", d.RetryCount,
			"next_retry_at", d.NextRetryAt,
			"backoff", backoff,
		)
	} else {
		d.Status = StatusFailed
		metrics.IncDeliveriesFailed(d.EventType)
		logger.Error("delivery failed permanently",
			"retry_count", d.RetryCount,
			"max_retries", p.maxRetries,
		)
	}

	if err := p.queue.Update(ctx, d); err != nil {
		logger.Error("failed to update delivery status", "error", err)
	}
}

// calculateBackoff returns the exponential backoff for a retry, capped at
// one hour.
func (p *Processor) calculateBackoff(retryCount int) time.Duration {
	multiplier := 1 << (retryCount - 1) // 2^(n-1)
	if multiplier > 12 {
		multiplier = 12
	}

	backoff := time.Duration(multiplier) * p.retryInterval
	if backoff > time.Hour {
		return time.Hour
	}
	return backoff
}
