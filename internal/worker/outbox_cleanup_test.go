package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository/memory"
)

func TestOutboxCleanupWorker_DeletesOnlyOldProcessed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Cases().Create(ctx, &model.Case{}, []*model.OutboxEvent{
		{EventType: model.EventCaseAdvanced},
		{EventType: model.EventCaseApproved},
	}))

	events := store.Events()
	require.Len(t, events, 2)
	require.NoError(t, store.Outbox().MarkProcessed(ctx, events[0].ID))

	w := NewOutboxCleanupWorker(store.Outbox(), time.Hour, time.Minute)

	n, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "processed event is still inside the retention window")

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left := store.Events()
	require.Len(t, left, 1)
	assert.Equal(t, events[1].ID, left[0].ID)
}
