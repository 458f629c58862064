// Package notifytest provides an in-memory dispatcher for service tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/pkg/enums"
)

// Recorder captures dispatched messages instead of delivering them.
type Recorder struct {
	mu   sync.Mutex
	msgs []notifications.Message
}

func (r *Recorder) Dispatch(_ context.Context, msgs ...notifications.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
}

// Messages returns a copy of everything dispatched so far.
func (r *Recorder) Messages() []notifications.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notifications.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// For returns the messages addressed to user.
func (r *Recorder) For(user uuid.UUID) []notifications.Message {
	var out []notifications.Message
	for _, msg := range r.Messages() {
		if msg.UserID == user && !msg.IsAdmin() {
			out = append(out, msg)
		}
	}
	return out
}

// Alerts returns the admin alerts.
func (r *Recorder) Alerts() []notifications.Message {
	var out []notifications.Message
	for _, msg := range r.Messages() {
		if msg.Audience == enums.NotificationAudienceAdmin {
			out = append(out, msg)
		}
	}
	return out
}
