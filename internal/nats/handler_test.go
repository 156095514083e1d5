package nats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/causeway/internal/messaging"
	"github.com/telhawk-systems/causeway/internal/models"
)

// fakeAdmitter scripts Admit responses in order, holding the last one.
type fakeAdmitter struct {
	mu       sync.Mutex
	script   []error
	admitted []*models.NormalizedEvent
}

func (f *fakeAdmitter) Admit(ev *models.NormalizedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.script) > 0 {
		err = f.script[0]
		if len(f.script) > 1 {
			f.script = f.script[1:]
		}
	}
	if err == nil {
		f.admitted = append(f.admitted, ev)
	}
	return err
}

func (f *fakeAdmitter) admittedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.admitted))
	for i, ev := range f.admitted {
		ids[i] = ev.ID
	}
	return ids
}

func testHandler(adm Admitter) *Handler {
	h := NewHandler(nil, adm, nil)
	h.retryWait = time.Millisecond
	return h
}

func eventMessage(t *testing.T, ev *models.NormalizedEvent) *messaging.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return &messaging.Message{Subject: messaging.EventSubject(ev.Source), Data: data}
}

func TestHandler_AdmitsNormalizedEvent(t *testing.T) {
	adm := &fakeAdmitter{}
	h := testHandler(adm)

	ev := &models.NormalizedEvent{
		ID:        "evt-1",
		Timestamp: time.Now().UTC(),
		Source:    "ingest",
		Type:      "metric_threshold",
		Severity:  models.SeverityMedium,
	}
	err := h.handleNormalizedEvent(context.Background(), eventMessage(t, ev))
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-1"}, adm.admittedIDs())
}

func TestHandler_DropsUndecodablePayload(t *testing.T) {
	adm := &fakeAdmitter{}
	h := testHandler(adm)

	err := h.handleNormalizedEvent(context.Background(), &messaging.Message{
		Subject: messaging.SubjectEventsNormalized,
		Data:    []byte("{not json"),
	})
	require.NoError(t, err)
	assert.Empty(t, adm.admittedIDs())
}

func TestHandler_DropsInvalidEvent(t *testing.T) {
	adm := &fakeAdmitter{script: []error{&models.ValidationError{Field: "id", Reason: "missing"}}}
	h := testHandler(adm)

	ev := &models.NormalizedEvent{Timestamp: time.Now().UTC(), Source: "ingest", Type: "x"}
	err := h.handleNormalizedEvent(context.Background(), eventMessage(t, ev))
	require.NoError(t, err)
	assert.Empty(t, adm.admittedIDs())
}

func TestHandler_RetriesOnCapacity(t *testing.T) {
	adm := &fakeAdmitter{script: []error{
		&models.CapacityError{Resource: "partition 0 inbox", Capacity: 1},
		&models.CapacityError{Resource: "partition 0 inbox", Capacity: 1},
		nil,
	}}
	h := testHandler(adm)

	ev := &models.NormalizedEvent{
		ID:        "evt-retry",
		Timestamp: time.Now().UTC(),
		Source:    "ingest",
		Type:      "metric_threshold",
		Severity:  models.SeverityLow,
	}
	err := h.handleNormalizedEvent(context.Background(), eventMessage(t, ev))
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-retry"}, adm.admittedIDs())
}

func TestHandler_CapacityRetryStopsWithContext(t *testing.T) {
	adm := &fakeAdmitter{script: []error{
		&models.CapacityError{Resource: "partition 0 inbox", Capacity: 1},
	}}
	h := testHandler(adm)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ev := &models.NormalizedEvent{
		ID:        "evt-stuck",
		Timestamp: time.Now().UTC(),
		Source:    "ingest",
		Type:      "metric_threshold",
		Severity:  models.SeverityLow,
	}
	err := h.handleNormalizedEvent(ctx, eventMessage(t, ev))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, adm.admittedIDs())
}

func TestHandler_SurfacesHaltedPartition(t *testing.T) {
	adm := &fakeAdmitter{script: []error{
		&models.InconsistentStateError{Subject: "partition 2", Reason: "halted"},
	}}
	h := testHandler(adm)

	ev := &models.NormalizedEvent{
		ID:        "evt-halted",
		Timestamp: time.Now().UTC(),
		Source:    "ingest",
		Type:      "metric_threshold",
		Severity:  models.SeverityLow,
	}
	err := h.handleNormalizedEvent(context.Background(), eventMessage(t, ev))
	require.Error(t, err)
	assert.True(t, models.IsInconsistentState(err))
}
