package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/idempotency"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

type fakeIdempotencyStore struct {
	mtx  sync.Mutex
	keys map[string]string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: make(map[string]string)}
}

func (f *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.keys[key], nil
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func newTestConsumer(t *testing.T, h *sagaHarness) *Consumer {
	t.Helper()
	manager, err := idempotency.NewManager(newFakeIdempotencyStore(), time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "consumer-test", Output: io.Discard})
	// the subscriber is only touched by Run; process is exercised directly
	consumer := &Consumer{saga: h.saga, idempotency: manager, logg: logg}
	return consumer
}

func approvalMessage(t *testing.T, eventID uuid.UUID, approved payloads.RequestApprovedEvent) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(approved)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(enums.EventRequestApproved)},
	}
}

func TestConsumerProcessesApproval(t *testing.T) {
	h := newSagaHarness(t)
	consumer := newTestConsumer(t, h)
	tenantID := uuid.New()
	approved := h.approvedRequest(t, tenantID, "atlas-build-01")

	result := consumer.process(context.Background(), approvalMessage(t, uuid.New(), approved))
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	req := h.requestProjection(t, tenantID, approved.RequestID)
	if req.Status != enums.RequestStatusReady {
		t.Fatalf("expected READY, got %s", req.Status)
	}
}

func TestConsumerSkipsOtherEventTypes(t *testing.T) {
	h := newSagaHarness(t)
	consumer := newTestConsumer(t, h)

	msg := &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       []byte(`{}`),
		Attributes: map[string]string{"event_type": string(enums.EventRequestSubmitted)},
	}
	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("non-approval events should ack, got %+v", result)
	}
}

func TestConsumerDropsDuplicateDeliveries(t *testing.T) {
	h := newSagaHarness(t)
	consumer := newTestConsumer(t, h)
	tenantID := uuid.New()
	approved := h.approvedRequest(t, tenantID, "atlas-build-01")

	eventID := uuid.New()
	first := consumer.process(context.Background(), approvalMessage(t, eventID, approved))
	if !first.ack {
		t.Fatalf("first delivery should ack, got %+v", first)
	}
	second := consumer.process(context.Background(), approvalMessage(t, eventID, approved))
	if !second.ack {
		t.Fatalf("duplicate delivery should ack, got %+v", second)
	}

	var starts int64
	err := h.db.Model(&models.DomainEvent{}).
		Where("event_type = ?", enums.EventProvisioningStarted).
		Count(&starts).Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if starts != 1 {
		t.Fatalf("expected one provisioning start, got %d", starts)
	}
}

func TestConsumerAcksMalformedApprovalPayloads(t *testing.T) {
	h := newSagaHarness(t)
	consumer := newTestConsumer(t, h)

	eventID := uuid.New()
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`"not an approval"`),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg := &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(enums.EventRequestApproved)},
	}

	// a broken payload never repairs itself; nacking would redeliver forever
	first := consumer.process(context.Background(), msg)
	if !first.ack || first.nack {
		t.Fatalf("malformed payloads should ack, got %+v", first)
	}
	second := consumer.process(context.Background(), msg)
	if !second.ack {
		t.Fatalf("redelivery should still ack, got %+v", second)
	}
}

func TestConsumerAcksMalformedEnvelopes(t *testing.T) {
	h := newSagaHarness(t)
	consumer := newTestConsumer(t, h)

	msg := &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       []byte("not json"),
		Attributes: map[string]string{"event_type": string(enums.EventRequestApproved)},
	}
	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("malformed envelopes should ack, got %+v", result)
	}
}
