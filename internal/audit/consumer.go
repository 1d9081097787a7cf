package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
)

const auditConsumerName = "audit-archiver"

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer archives every domain event into BigQuery. Unlike the
// provisioning worker it has no event filter: the audit table is the full
// history, approvals and rejections included.
type Consumer struct {
	client       tableInserter
	table        string
	subscription *pubsub.Subscriber
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds the audit archiver. The subscription may be nil when
// the caller drives Process directly.
func NewConsumer(client tableInserter, table string, subscription *pubsub.Subscriber, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		client:       client,
		table:        strings.TrimSpace(table),
		subscription: subscription,
		manager:      manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("audit subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		eventType := enums.EventType(msg.Attributes["event_type"])
		var envelope outbox.PayloadEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			c.logg.Error(c.logg.WithField(ctx, "message_id", msg.ID), "failed to decode envelope", err)
			msg.Ack()
			return
		}
		if err := c.Process(ctx, eventType, envelope); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process archives one envelope.
func (c *Consumer) Process(ctx context.Context, eventType enums.EventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": string(eventType),
	})

	if envelope.EventID == "" {
		c.logg.Warn(logCtx, "envelope without event id dropped")
		return nil
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return nil
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, auditConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already archived")
		return nil
	}

	row, err := buildRow(eventType, envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to build audit row", err)
		_ = c.manager.Delete(ctx, auditConsumerName, eventID)
		return err
	}

	if err := c.client.InsertRows(ctx, c.table, []any{row}); err != nil {
		c.logg.Error(logCtx, "failed to insert audit row", err)
		_ = c.manager.Delete(ctx, auditConsumerName, eventID)
		return err
	}

	c.logg.Info(logCtx, "domain event archived")
	return nil
}

type auditEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	TenantID      *string            `bigquery:"tenant_id"`
	RequestID     *string            `bigquery:"request_id"`
	ResourceID    *string            `bigquery:"resource_id"`
	ActorUserID   *string            `bigquery:"actor_user_id"`
	ActorRole     *string            `bigquery:"actor_role"`
	CorrelationID *string            `bigquery:"correlation_id"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

func buildRow(eventType enums.EventType, envelope outbox.PayloadEnvelope) (*auditEventRow, error) {
	payload := map[string]any{}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}

	payloadJSON := cbigquery.NullJSON{}
	if len(envelope.Data) > 0 {
		payloadJSON.Valid = true
		payloadJSON.JSONVal = string(envelope.Data)
	}

	row := &auditEventRow{
		EventID:    envelope.EventID,
		EventType:  string(eventType),
		OccurredAt: envelope.OccurredAt,
		TenantID:   stringValue(payload, "tenant_id"),
		RequestID:  stringValue(payload, "request_id"),
		ResourceID: stringValue(payload, "resource_id"),
		Payload:    payloadJSON,
	}
	if envelope.CorrelationID != "" {
		correlation := envelope.CorrelationID
		row.CorrelationID = &correlation
	}
	if envelope.Actor != nil {
		userID := envelope.Actor.UserID.String()
		row.ActorUserID = &userID
		if envelope.Actor.Role != "" {
			role := envelope.Actor.Role
			row.ActorRole = &role
		}
	}
	return row, nil
}

func stringValue(payload map[string]any, key string) *string {
	if payload == nil {
		return nil
	}
	if raw, ok := payload[key]; ok {
		if str, ok := raw.(string); ok {
			trimmed := strings.TrimSpace(str)
			if trimmed != "" {
				return &trimmed
			}
		}
	}
	return nil
}
