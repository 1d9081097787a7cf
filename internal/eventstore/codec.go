package eventstore

import (
	"encoding/json"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/registry"
)

func decodeInto[T any](payload json.RawMessage) (interface{}, error) {
	var decoded T
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// DefaultDecoders returns a registry covering every v1 event schema.
func DefaultDecoders() *registry.DecoderRegistry {
	reg := registry.NewDecoderRegistry()

	reg.Register(enums.EventRequestSubmitted, 1, decodeInto[payloads.RequestSubmittedEvent])
	reg.Register(enums.EventRequestApproved, 1, decodeInto[payloads.RequestApprovedEvent])
	reg.Register(enums.EventRequestRejected, 1, decodeInto[payloads.RequestRejectedEvent])
	reg.Register(enums.EventRequestCancelled, 1, decodeInto[payloads.RequestCancelledEvent])
	reg.Register(enums.EventProvisioningStarted, 1, decodeInto[payloads.ProvisioningStartedEvent])
	reg.Register(enums.EventRequestReady, 1, decodeInto[payloads.RequestReadyEvent])
	reg.Register(enums.EventRequestFailed, 1, decodeInto[payloads.RequestFailedEvent])

	reg.Register(enums.EventResourceCreated, 1, decodeInto[payloads.ResourceCreatedEvent])
	reg.Register(enums.EventProvisioningProgressed, 1, decodeInto[payloads.ProvisioningProgressedEvent])
	reg.Register(enums.EventResourceProvisioned, 1, decodeInto[payloads.ResourceProvisionedEvent])
	reg.Register(enums.EventResourceProvisioningFailed, 1, decodeInto[payloads.ResourceProvisioningFailedEvent])

	return reg
}
