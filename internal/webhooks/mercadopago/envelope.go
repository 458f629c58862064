package mpwebhook

import (
	"encoding/json"
	"net/url"
	"strings"

	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

const topicPayment = "payment"

// Notification is an inbound gateway notification before it is trusted.
type Notification struct {
	Topic     string
	Action    string
	DataID    string
	Signature string
	RequestID string
}

// IsPayment reports whether the notification concerns a payment resource.
func (n Notification) IsPayment() bool {
	return n.Topic == topicPayment
}

type envelope struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
	Resource string `json:"resource"`
}

// ParseNotification normalizes the JSON webhook body together with the query
// string. The gateway signs data.id as sent in the query string, so that value
// wins when present. Legacy IPN deliveries carry topic and id in the query only.
func ParseNotification(body []byte, query url.Values, signature, requestID string) (*Notification, error) {
	n := &Notification{Signature: signature, RequestID: requestID}

	if len(strings.TrimSpace(string(body))) > 0 {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
		}
		n.Topic = firstNonEmpty(env.Type, env.Topic)
		n.Action = env.Action
		n.DataID = rawID(env.Data.ID)
		if n.DataID == "" && env.Resource != "" {
			n.DataID = lastPathSegment(env.Resource)
		}
	}

	n.Topic = strings.ToLower(firstNonEmpty(n.Topic, query.Get("type"), query.Get("topic")))
	if id := firstNonEmpty(query.Get("data.id"), query.Get("id")); id != "" {
		n.DataID = id
	}
	n.DataID = strings.TrimSpace(n.DataID)

	if n.Topic == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook topic missing")
	}
	if n.IsPayment() && n.DataID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id missing")
	}
	return n, nil
}

// rawID accepts the id as either a JSON string or a JSON number.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func lastPathSegment(resource string) string {
	trimmed := strings.TrimRight(resource, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
