package router

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/internal/analytics/types"
)

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func uuidPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	return strPtr(id.String())
}

func actorFields(envelope types.Envelope) (id, role *string) {
	if envelope.Actor == nil {
		return nil, nil
	}
	return uuidPtr(envelope.Actor.UserID), strPtr(envelope.Actor.Role)
}

func wrongPayload(eventType any) error {
	return fmt.Errorf("invalid payload for %s", eventType)
}
