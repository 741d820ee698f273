package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository/memory"
	"github.com/jwalitptl/labcase-api/pkg/logger"
	"github.com/jwalitptl/labcase-api/pkg/messaging"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []messaging.Message
	fail      error
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.published = append(b.published, message.(messaging.Message))
	return nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBroker) Close() error { return nil }

func setup(t *testing.T, broker *fakeBroker, maxRetries int) (*memory.Store, *OutboxProcessor) {
	t.Helper()
	store := memory.New()
	p, err := NewOutboxProcessor(store.Outbox(), broker, OutboxProcessorConfig{
		Channel:       "labcase.events",
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
		MaxRetries:    maxRetries,
	}, logger.Nop(), metrics.NewMetrics("test", prometheus.NewRegistry()))
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]string{"code": "LAB-1"})
	err = store.Cases().Create(context.Background(), &model.Case{}, []*model.OutboxEvent{
		{EventType: model.EventCaseDelivered, Payload: payload},
	})
	require.NoError(t, err)
	return store, p
}

func TestOutboxProcessor_PublishesAndMarksProcessed(t *testing.T) {
	broker := &fakeBroker{}
	store, p := setup(t, broker, 3)

	var handled []string
	p.Handle(model.EventCaseDelivered, func(ctx context.Context, e *model.OutboxEvent) error {
		handled = append(handled, e.EventType)
		return nil
	})

	require.NoError(t, p.ProcessBatch(context.Background()))

	require.Len(t, broker.published, 1)
	assert.Equal(t, model.EventCaseDelivered, broker.published[0].Type)
	assert.JSONEq(t, `{"code":"LAB-1"}`, string(broker.published[0].Payload))
	assert.Equal(t, []string{model.EventCaseDelivered}, handled)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusProcessed), events[0].Status)
	assert.NotNil(t, events[0].ProcessedAt)

	n, err := store.Outbox().CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxProcessor_FailureSchedulesRetry(t *testing.T) {
	broker := &fakeBroker{fail: errors.New("connection refused")}
	store, p := setup(t, broker, 3)

	require.NoError(t, p.ProcessBatch(context.Background()))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusPending), events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
	require.NotNil(t, events[0].RetryAt)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Equal(t, "connection refused", *events[0].ErrorMessage)

	// not due yet
	due, err := store.Outbox().GetPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestOutboxProcessor_FailureAfterMaxRetriesIsTerminal(t *testing.T) {
	broker := &fakeBroker{fail: errors.New("boom")}
	store, p := setup(t, broker, 1)

	require.NoError(t, p.ProcessBatch(context.Background()))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusFailed), events[0].Status)
	assert.Nil(t, events[0].RetryAt)
}

func TestOutboxProcessor_HandlerErrorDoesNotFailEvent(t *testing.T) {
	broker := &fakeBroker{}
	store, p := setup(t, broker, 3)
	p.Handle(model.EventCaseDelivered, func(ctx context.Context, e *model.OutboxEvent) error {
		return errors.New("smtp down")
	})

	require.NoError(t, p.ProcessBatch(context.Background()))
	assert.Equal(t, string(model.OutboxStatusProcessed), store.Events()[0].Status)
}

func TestNewOutboxProcessor_Validation(t *testing.T) {
	_, err := NewOutboxProcessor(nil, nil, OutboxProcessorConfig{}, logger.Nop(), nil)
	assert.Error(t, err)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retry(ctx, 5, time.Hour, func() error {
		calls++
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
