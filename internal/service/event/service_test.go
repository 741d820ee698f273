package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
)

func TestCaseEventsAddsDelivered(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := &model.Case{Code: "LAB-000001", CurrentStageOrder: 2}
	c.ID = uuid.New()
	c.Stages = model.StageRows{{Order: 1}, {Order: 2}}
	c.Delivery.Status = model.DeliveryStatusDelivered

	events, err := CaseEvents(model.EventCaseAdvanced, c, model.AuditActionStageAdvanced, true, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCaseAdvanced, events[0].EventType)
	assert.Equal(t, model.EventCaseDelivered, events[1].EventType)

	var payload model.CaseEventPayload
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, c.ID, payload.CaseID)
	assert.Equal(t, 2, payload.TotalStages)
	assert.Equal(t, model.DeliveryStatusDelivered, payload.DeliveryStatus)
	assert.Equal(t, model.AuditActionStageAdvanced, payload.Action)

	events, err = CaseEvents(model.EventCaseAdvanced, c, model.AuditActionStageAdvanced, false, now)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStageRemoved(t *testing.T) {
	stage := &model.StageTemplate{ID: uuid.New(), Name: "Scan", Order: 3}
	e, err := StageRemoved(uuid.New(), stage, 4, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.EventCatalogStageRemoved, e.EventType)
	assert.Equal(t, string(model.OutboxStatusPending), e.Status)

	var payload StageRemovedPayload
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	assert.Equal(t, 4, payload.AffectedCases)
	assert.Equal(t, "Scan", payload.StageName)
}
