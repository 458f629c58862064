package mpwebhook

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trademon/trademon-backend/internal/reconciliation"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/mercadopago"
)

const testSecret = "whsec_mp"

var fixedNow = time.Unix(1_700_000_000, 0)

type fakeGateway struct {
	payment *mercadopago.Payment
	err     error
	calls   int
}

func (g *fakeGateway) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.payment, nil
}

type fakeReconciler struct {
	events []reconciliation.PaymentEvent
}

func (r *fakeReconciler) HandlePaymentEvent(_ context.Context, event reconciliation.PaymentEvent) (*reconciliation.Result, error) {
	r.events = append(r.events, event)
	return &reconciliation.Result{Outcome: enums.OutcomeApplied, ExternalPaymentID: event.ExternalPaymentID}, nil
}

func newTestService(t *testing.T, gw *fakeGateway, rec *fakeReconciler) *Service {
	t.Helper()
	svc, err := NewService(gw, rec, Config{Secret: testSecret, MaxAge: 15 * time.Minute}, logger.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func signed(topic, dataID, requestID string) *Notification {
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	return &Notification{
		Topic:     topic,
		DataID:    dataID,
		RequestID: requestID,
		Signature: "ts=" + ts + ",v1=" + mercadopago.Sign(testSecret, mercadopago.SignatureManifest(dataID, requestID, ts)),
	}
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"action":"payment.updated","type":"payment","data":{"id":"123"}}`), url.Values{}, "sig", "req")
	require.NoError(t, err)
	assert.Equal(t, "payment", n.Topic)
	assert.Equal(t, "123", n.DataID)
	assert.Equal(t, "payment.updated", n.Action)
	assert.Equal(t, "sig", n.Signature)

	n, err = ParseNotification([]byte(`{"type":"payment","data":{"id":456}}`), url.Values{}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "456", n.DataID)

	n, err = ParseNotification(nil, url.Values{"topic": {"payment"}, "id": {"789"}}, "", "")
	require.NoError(t, err)
	assert.True(t, n.IsPayment())
	assert.Equal(t, "789", n.DataID)

	n, err = ParseNotification([]byte(`{"type":"payment","data":{"id":"1"}}`), url.Values{"data.id": {"2"}}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "2", n.DataID, "query data.id is the signed value")

	n, err = ParseNotification([]byte(`{"topic":"merchant_order","resource":"https://api.mercadolibre.com/merchant_orders/99"}`), url.Values{}, "", "")
	require.NoError(t, err)
	assert.False(t, n.IsPayment())
	assert.Equal(t, "99", n.DataID)
}

func TestParseNotificationRejectsMalformedInput(t *testing.T) {
	cases := map[string]struct {
		body  string
		query url.Values
	}{
		"bad json":   {`{"type":`, url.Values{}},
		"no topic":   {`{"data":{"id":"1"}}`, url.Values{}},
		"payment id": {`{"type":"payment","data":{}}`, url.Values{}},
	}
	for name, tc := range cases {
		_, err := ParseNotification([]byte(tc.body), tc.query, "", "")
		assert.Truef(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "%s: expected validation error, got %v", name, err)
	}
}

func TestHandleReconcilesAuthoritativePayment(t *testing.T) {
	gw := &fakeGateway{payment: &mercadopago.Payment{
		ID:                "pay_123",
		Status:            "approved",
		ExternalReference: "4b1f6a38-0a5d-4d7e-9a8e-0f3f2c9f1a11",
		Amount:            decimal.RequireFromString("150.00"),
		CurrencyID:        "BRL",
	}}
	rec := &fakeReconciler{}
	svc := newTestService(t, gw, rec)

	result, err := svc.Handle(context.Background(), signed("payment", "pay_123", "req-1"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, enums.OutcomeApplied, result.Outcome)

	require.Len(t, rec.events, 1)
	assert.Equal(t, reconciliation.PaymentEvent{
		ExternalPaymentID: "pay_123",
		OrderReference:    "4b1f6a38-0a5d-4d7e-9a8e-0f3f2c9f1a11",
		Status:            enums.PaymentStatusApproved,
		RawStatus:         "approved",
		Amount:            15000,
	}, rec.events[0])
}

func TestHandleRejectsBadSignatureBeforeFetching(t *testing.T) {
	gw := &fakeGateway{}
	rec := &fakeReconciler{}
	svc := newTestService(t, gw, rec)

	n := signed("payment", "pay_123", "req-1")
	n.DataID = "pay_999"
	_, err := svc.Handle(context.Background(), n)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
	assert.True(t, errors.Is(err, mercadopago.ErrSignatureMismatch))

	n = signed("payment", "pay_123", "req-1")
	n.Signature = ""
	_, err = svc.Handle(context.Background(), n)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))

	assert.Zero(t, gw.calls)
	assert.Empty(t, rec.events)
}

func TestHandleIgnoresOtherTopics(t *testing.T) {
	gw := &fakeGateway{}
	rec := &fakeReconciler{}
	svc := newTestService(t, gw, rec)

	result, err := svc.Handle(context.Background(), signed("merchant_order", "99", "req"))
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Zero(t, gw.calls)
}

func TestHandleGatewayErrors(t *testing.T) {
	rec := &fakeReconciler{}

	svc := newTestService(t, &fakeGateway{err: pkgerrors.New(pkgerrors.CodeDependency, "timeout")}, rec)
	_, err := svc.Handle(context.Background(), signed("payment", "1", ""))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	svc = newTestService(t, &fakeGateway{err: pkgerrors.New(pkgerrors.CodeNotFound, "missing")}, rec)
	_, err = svc.Handle(context.Background(), signed("payment", "1", ""))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	svc = newTestService(t, &fakeGateway{payment: &mercadopago.Payment{ID: "1", Status: "approved", Amount: decimal.RequireFromString("150.005")}}, rec)
	_, err = svc.Handle(context.Background(), signed("payment", "1", ""))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	assert.Empty(t, rec.events)
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]enums.PaymentStatus{
		"approved":     enums.PaymentStatusApproved,
		"APPROVED":     enums.PaymentStatusApproved,
		"pending":      enums.PaymentStatusPending,
		"in_process":   enums.PaymentStatusPending,
		"authorized":   enums.PaymentStatusPending,
		"rejected":     enums.PaymentStatusRejected,
		"cancelled":    enums.PaymentStatusCancelled,
		"refunded":     enums.PaymentStatusUnsupported,
		"charged_back": enums.PaymentStatusUnsupported,
		"":             enums.PaymentStatusUnsupported,
	}
	for raw, want := range cases {
		assert.Equalf(t, want, NormalizeStatus(raw), "status %q", raw)
	}
}

func TestToPaymentEventCurrencyExponent(t *testing.T) {
	event, err := ToPaymentEvent(&mercadopago.Payment{ID: "1", Status: "approved", Amount: decimal.RequireFromString("15000"), CurrencyID: "CLP"})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), event.Amount)

	_, err = ToPaymentEvent(&mercadopago.Payment{ID: "1", Status: "approved", Amount: decimal.RequireFromString("1"), CurrencyID: "XYZ"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = ToPaymentEvent(&mercadopago.Payment{ID: "1", Status: "approved", Amount: decimal.RequireFromString("-1")})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
