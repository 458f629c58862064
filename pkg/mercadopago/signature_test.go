package mercadopago

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func signedHeader(secret, dataID, requestID string, ts int64) string {
	raw := strconv.FormatInt(ts, 10)
	return fmt.Sprintf("ts=%s,v1=%s", raw, Sign(secret, SignatureManifest(dataID, requestID, raw)))
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := signedHeader("s3cret", "pay_123", "req-1", now.Unix())

	cases := []struct {
		name string
		in   SignatureInput
		key  string
		at   time.Time
		want error
	}{
		{"valid", SignatureInput{Header: header, RequestID: "req-1", DataID: "pay_123"}, "s3cret", now, nil},
		{"data id case folded", SignatureInput{Header: header, RequestID: "req-1", DataID: "PAY_123"}, "s3cret", now, nil},
		{"tampered id", SignatureInput{Header: header, RequestID: "req-1", DataID: "pay_124"}, "s3cret", now, ErrSignatureMismatch},
		{"tampered request id", SignatureInput{Header: header, RequestID: "req-2", DataID: "pay_123"}, "s3cret", now, ErrSignatureMismatch},
		{"wrong secret", SignatureInput{Header: header, RequestID: "req-1", DataID: "pay_123"}, "other", now, ErrSignatureMismatch},
		{"stale", SignatureInput{Header: header, RequestID: "req-1", DataID: "pay_123"}, "s3cret", now.Add(time.Hour), ErrSignatureExpired},
		{"missing", SignatureInput{RequestID: "req-1", DataID: "pay_123"}, "s3cret", now, ErrSignatureMissing},
		{"no ts", SignatureInput{Header: "v1=abc", DataID: "pay_123"}, "s3cret", now, ErrSignatureMalformed},
		{"garbage ts", SignatureInput{Header: "ts=abc,v1=abc", DataID: "pay_123"}, "s3cret", now, ErrSignatureMalformed},
	}
	for _, tc := range cases {
		err := VerifySignature(tc.key, tc.in, 15*time.Minute, tc.at)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, err)
		}
	}
}

func TestVerifySignatureAcceptsMillisecondTimestamps(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	header := signedHeader("s3cret", "77", "", now.UnixMilli())
	if err := VerifySignature("s3cret", SignatureInput{Header: header, DataID: "77"}, time.Minute, now.Add(30*time.Second)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestSignatureManifestOmitsEmptyParts(t *testing.T) {
	if got := SignatureManifest("ABC", "", "10"); got != "id:abc;ts:10;" {
		t.Fatalf("unexpected manifest %q", got)
	}
	if got := SignatureManifest("1", "r", "10"); got != "id:1;request-id:r;ts:10;" {
		t.Fatalf("unexpected manifest %q", got)
	}
}

func TestToMinorUnits(t *testing.T) {
	cases := map[string]int64{"150": 15000, "150.00": 15000, "0.01": 1, "138.5": 13850}
	for raw, want := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(raw), 2)
		if err != nil || got != want {
			t.Fatalf("%s: expected %d got %d (%v)", raw, want, got, err)
		}
	}
	if _, err := ToMinorUnits(decimal.RequireFromString("150.005"), 2); err == nil {
		t.Fatal("sub-centavo amounts must be rejected")
	}
	if got := FromMinorUnits(15000, 2).StringFixed(2); got != "150.00" {
		t.Fatalf("unexpected decimal %s", got)
	}
	if got, err := ToMinorUnits(decimal.RequireFromString("15000"), 0); err != nil || got != 15000 {
		t.Fatalf("zero exponent currencies keep whole units, got %d (%v)", got, err)
	}
	if _, err := ToMinorUnits(decimal.RequireFromString("10.5"), 0); err == nil {
		t.Fatal("fractional amount in a zero exponent currency must be rejected")
	}
}
