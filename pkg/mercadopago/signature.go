package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureMissing   = errors.New("signature header missing")
	ErrSignatureMalformed = errors.New("signature header malformed")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
)

// millisecondThreshold separates second and millisecond epoch timestamps.
const millisecondThreshold = 1_000_000_000_000

// SignatureInput is what the gateway signs for one notification.
type SignatureInput struct {
	Header    string
	RequestID string
	DataID    string
}

// ParsedSignature is the decoded x-signature header.
type ParsedSignature struct {
	Timestamp time.Time
	RawTS     string
	V1        string
}

// ParseSignatureHeader decodes "ts=<epoch>,v1=<hex>".
func ParseSignatureHeader(header string) (*ParsedSignature, error) {
	if strings.TrimSpace(header) == "" {
		return nil, ErrSignatureMissing
	}
	parsed := &ParsedSignature{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			parsed.RawTS = strings.TrimSpace(value)
		case "v1":
			parsed.V1 = strings.ToLower(strings.TrimSpace(value))
		}
	}
	if parsed.RawTS == "" || parsed.V1 == "" {
		return nil, ErrSignatureMalformed
	}
	epoch, err := strconv.ParseInt(parsed.RawTS, 10, 64)
	if err != nil || epoch <= 0 {
		return nil, ErrSignatureMalformed
	}
	if epoch > millisecondThreshold {
		parsed.Timestamp = time.UnixMilli(epoch).UTC()
	} else {
		parsed.Timestamp = time.Unix(epoch, 0).UTC()
	}
	return parsed, nil
}

// SignatureManifest is the string the gateway HMACs. Alphanumeric data ids are
// lowercased; empty parts are omitted.
func SignatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		fmt.Fprintf(&b, "id:%s;", strings.ToLower(dataID))
	}
	if requestID != "" {
		fmt.Fprintf(&b, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&b, "ts:%s;", ts)
	return b.String()
}

// Sign computes the hex v1 value for a manifest.
func Sign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature authenticates a notification. maxAge <= 0 disables the
// freshness check.
func VerifySignature(secret string, in SignatureInput, maxAge time.Duration, now time.Time) error {
	if secret == "" {
		return errors.New("webhook secret not configured")
	}
	parsed, err := ParseSignatureHeader(in.Header)
	if err != nil {
		return err
	}
	expected := Sign(secret, SignatureManifest(in.DataID, in.RequestID, parsed.RawTS))
	if !hmac.Equal([]byte(expected), []byte(parsed.V1)) {
		return ErrSignatureMismatch
	}
	if maxAge > 0 {
		skew := now.Sub(parsed.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > maxAge {
			return ErrSignatureExpired
		}
	}
	return nil
}
