package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	JTI    string
}

// AccessTokenClaims is the provider's token shape. The subject carries the
// user id and app_role the platform role.
type AccessTokenClaims struct {
	AppRole enums.UserRole `json:"app_role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the verified caller extracted from a token.
type Principal struct {
	UserID  uuid.UUID
	Role    enums.UserRole
	TokenID string
}
