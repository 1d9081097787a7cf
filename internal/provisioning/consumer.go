package provisioning

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/idempotency"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

const provisionConsumer = "provision-worker"

// Consumer watches the domain stream and hands approved requests to the
// saga. Redeliveries are dropped through the idempotency marker; failed runs
// clear the marker and nack so the broker redelivers.
type Consumer struct {
	saga         *Saga
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the provisioning consumer.
func NewConsumer(saga *Saga, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if saga == nil {
		return nil, fmt.Errorf("saga is required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("provision subscription is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Consumer{saga: saga, subscription: subscription, idempotency: manager, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventRequestApproved) {
		c.logg.Debug(logCtx, "skipping non-approval event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, provisionConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "approval already processed")
		return processResult{ack: true}
	}

	// A malformed payload never improves on redelivery; keep the marker and
	// drop the message like the envelope case.
	var approved payloads.RequestApprovedEvent
	if err := json.Unmarshal(envelope.Data, &approved); err != nil {
		c.logg.Error(logCtx, "failed to parse approval payload", err)
		return processResult{ack: true}
	}

	correlationID := uuid.Nil
	if envelope.CorrelationID != "" {
		if parsed, parseErr := uuid.Parse(envelope.CorrelationID); parseErr == nil {
			correlationID = parsed
		}
	}
	if correlationID == uuid.Nil {
		correlationID = eventID
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"request_id": approved.RequestID.String(),
		"tenant_id":  approved.TenantID.String(),
	})
	if err := c.saga.Provision(logCtx, approved, correlationID); err != nil {
		c.logg.Error(logCtx, "provisioning run failed", err)
		_ = c.idempotency.Delete(ctx, provisionConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}
