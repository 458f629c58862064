package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/api/middleware"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

func principal(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	userID, role, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, role, nil
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+key).
			WithDetails(map[string]any{"field": key})
	}
	return id, nil
}
