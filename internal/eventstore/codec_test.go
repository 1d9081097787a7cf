package eventstore

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

// Every registered event type must survive encode plus registry decode with
// all fields intact.
func TestDefaultDecodersRoundTripEveryEventType(t *testing.T) {
	requestID := uuid.New()
	tenantID := uuid.New()
	resourceID := uuid.New()
	actorID := uuid.New()
	address := "10.20.30.40"

	cases := []struct {
		eventType enums.EventType
		payload   interface{}
	}{
		{enums.EventRequestSubmitted, &payloads.RequestSubmittedEvent{
			RequestID: requestID, TenantID: tenantID, RequesterID: actorID,
			RequesterName: "Dana Feld", ProjectName: "atlas", VMName: "atlas-build-01",
			Size: enums.VMSizeLarge, Justification: "load test rig",
		}},
		{enums.EventRequestApproved, &payloads.RequestApprovedEvent{
			RequestID: requestID, TenantID: tenantID, ApproverID: actorID, Reason: "capacity available",
		}},
		{enums.EventRequestRejected, &payloads.RequestRejectedEvent{
			RequestID: requestID, TenantID: tenantID, ApproverID: actorID, Reason: "quota exhausted",
		}},
		{enums.EventRequestCancelled, &payloads.RequestCancelledEvent{
			RequestID: requestID, TenantID: tenantID, CancelledBy: actorID,
		}},
		{enums.EventProvisioningStarted, &payloads.ProvisioningStartedEvent{
			RequestID: requestID, TenantID: tenantID, ProjectName: "atlas",
			VMName: "atlas-build-01", Size: enums.VMSizeMedium,
		}},
		{enums.EventRequestReady, &payloads.RequestReadyEvent{
			RequestID: requestID, TenantID: tenantID, ResourceID: resourceID,
			Address: &address, Degraded: false,
		}},
		{enums.EventRequestFailed, &payloads.RequestFailedEvent{
			RequestID: requestID, TenantID: tenantID, ResourceID: resourceID, Reason: "clone failed",
		}},
		{enums.EventResourceCreated, &payloads.ResourceCreatedEvent{
			ResourceID: resourceID, RequestID: requestID, TenantID: tenantID,
			VMName: "atlas-build-01", Size: enums.VMSizeSmall,
		}},
		{enums.EventProvisioningProgressed, &payloads.ProvisioningProgressedEvent{
			ResourceID: resourceID, RequestID: requestID, TenantID: tenantID,
			Stage: enums.ProgressStagePoweringOn,
		}},
		{enums.EventResourceProvisioned, &payloads.ResourceProvisionedEvent{
			ResourceID: resourceID, RequestID: requestID, TenantID: tenantID,
			ExternalRef: "vm-123", AddressPending: true,
		}},
		{enums.EventResourceProvisioningFailed, &payloads.ResourceProvisioningFailedEvent{
			ResourceID: resourceID, RequestID: requestID, TenantID: tenantID, Reason: "timed out",
		}},
	}

	reg := DefaultDecoders()
	seen := make(map[enums.EventType]bool, len(cases))
	for _, tc := range cases {
		t.Run(string(tc.eventType), func(t *testing.T) {
			raw, err := json.Marshal(tc.payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := reg.Decode(tc.eventType, 1, raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(decoded, tc.payload) {
				t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", decoded, tc.payload)
			}
		})
		seen[tc.eventType] = true
	}

	for _, eventType := range enums.AllEventTypes() {
		if !seen[eventType] {
			t.Fatalf("event type %s has no round-trip coverage", eventType)
		}
	}
}
