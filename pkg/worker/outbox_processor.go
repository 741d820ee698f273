package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
	"github.com/jwalitptl/labcase-api/pkg/logger"
	"github.com/jwalitptl/labcase-api/pkg/messaging"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	Channel       string
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxRetries bounds how many polls may retry one event before it is
	// marked failed for good.
	MaxRetries int
}

// HandlerFunc reacts to an event after it has been published.
type HandlerFunc func(ctx context.Context, event *model.OutboxEvent) error

type OutboxProcessor struct {
	repo     repository.OutboxRepository
	broker   messaging.Broker
	config   OutboxProcessorConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
	handlers map[string][]HandlerFunc
	now      func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) (*OutboxProcessor, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		return nil, fmt.Errorf("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		return nil, fmt.Errorf("RetryDelay must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}

	return &OutboxProcessor{
		repo:     repo,
		broker:   broker,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		handlers: map[string][]HandlerFunc{},
		now:      time.Now,
	}, nil
}

// Handle registers fn for one event type. Handler errors are logged only.
func (p *OutboxProcessor) Handle(eventType string, fn HandlerFunc) {
	p.handlers[eventType] = append(p.handlers[eventType], fn)
}

// Start polls until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "channel", p.config.Channel)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return nil
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch publishes one batch of due events.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEvents(ctx, p.config.BatchSize)
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}

	if n, err := p.repo.CountPending(ctx); err == nil {
		p.metrics.OutboxQueueSize.Set(float64(n))
	}
	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	msg := messaging.Message{
		ID:         event.ID.String(),
		Type:       event.EventType,
		Payload:    event.Payload,
		OccurredAt: event.CreatedAt,
	}
	err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		return p.broker.Publish(ctx, p.config.Channel, msg)
	})

	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()

		var retryAt *time.Time
		if event.RetryCount+1 < p.config.MaxRetries {
			at := p.now().Add(p.config.RetryDelay * time.Duration(event.RetryCount+1))
			retryAt = &at
		}
		if updateErr := p.repo.MarkFailed(ctx, event.ID, err.Error(), retryAt); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}

	for _, fn := range p.handlers[event.EventType] {
		if err := fn(ctx, event); err != nil {
			p.logger.Error(err, "Event handler failed",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}
	return nil
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
