// Package auth issues and validates the JWTs that scope a connection to a
// conversation. Authorization mechanics beyond this gate live outside the
// messaging core.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/placement-chat/pkg/model"
)

type Claims struct {
	Identity       string           `json:"identity"`
	Role           model.SenderRole `json:"role"`
	ConversationID string           `json:"conversationId,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

// ClaimsKey stores *Claims in the request context once auth middleware ran.
const ClaimsKey contextKey = "claims"

// Tokens signs and validates conversation-scoped tokens. User tokens carry
// their own conversation id; staff tokens leave it empty and may join any.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: secret, ttl: ttl}
}

func (t *Tokens) Generate(identity string, role model.SenderRole, conversationID string) (string, error) {
	claims := &Claims{
		Identity:       identity,
		Role:           role,
		ConversationID: conversationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
