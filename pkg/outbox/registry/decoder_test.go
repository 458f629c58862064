package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderStateChanged, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"to":"AWAITING_SELLER"}`)
	output, err := reg.Decode(enums.EventOrderStateChanged, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["to"] != "AWAITING_SELLER" {
		t.Fatalf("unexpected output %+v", output)
	}

	if _, err := reg.Decode(enums.EventOrderStateChanged, 2, input); err == nil {
		t.Fatal("expected missing version to fail")
	}
}

func TestJSONDecoder(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventPaymentReconciled, 1, JSONDecoder[payloads.PaymentReconciledEvent]())

	out, err := reg.Decode(enums.EventPaymentReconciled, 1, json.RawMessage(`{"external_payment_id":"pay_123","outcome":"applied"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	event, ok := out.(*payloads.PaymentReconciledEvent)
	if !ok || event.ExternalPaymentID != "pay_123" || event.Outcome != enums.OutcomeApplied {
		t.Fatalf("unexpected decoded payload %+v", out)
	}

	reg.Register(enums.EventOrderCreated, 1, JSONDecoder[payloads.OrderCreatedEvent]())
	if _, err := reg.Decode(enums.EventOrderCreated, 1, json.RawMessage(`{"order_id":"`+uuid.NewString()+`"`)); err == nil {
		t.Fatal("expected truncated json to fail")
	}
}
