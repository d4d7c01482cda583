package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
)

var (
	ErrMissingToken     = apperrors.NewSentinel(apperrors.KindUnauthorized, "authorization token is required")
	ErrInvalidToken     = apperrors.NewSentinel(apperrors.KindUnauthorized, "authorization token is invalid")
	ErrMissingPrincipal = apperrors.NewSentinel(apperrors.KindUnauthorized, "request is not authenticated")
)

type RoleClaim struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Claims is the payload issued by the identity service.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   RoleClaim `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-signed bearer tokens. It never issues them.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *TokenVerifier) Verify(raw string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, errors.New("missing user_id claim"))
	}

	return Principal{
		UserID:   claims.UserID,
		RoleID:   claims.Role.ID,
		RoleName: claims.Role.Name,
	}, nil
}
