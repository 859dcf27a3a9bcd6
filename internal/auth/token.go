package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails validation, without
// distinguishing why.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified subject of a bearer token.
type Identity struct {
	UserID    string
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

// Claims is the JWT payload: registered claims plus the denormalized
// username for display.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager signs and parses HS256 bearer tokens. Validity is a pure
// function of the signing secret; revocation is layered on by Verifier.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for the user. Every token carries a unique
// jti so it can be revoked individually.
func (m *TokenManager) Issue(userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse validates the signature and expiry and returns the embedded identity.
func (m *TokenManager) Parse(raw string) (*Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	ident := &Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
		TokenID:  claims.ID,
	}
	if claims.ExpiresAt != nil {
		ident.ExpiresAt = claims.ExpiresAt.Time
	}
	return ident, nil
}

// RevocationList tracks revoked token ids until their natural expiry.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// Verifier combines signature validation with the revocation list. Every
// protected endpoint goes through Validate before any business logic runs.
type Verifier struct {
	tokens  *TokenManager
	revoked RevocationList
}

func NewVerifier(tokens *TokenManager, revoked RevocationList) *Verifier {
	return &Verifier{tokens: tokens, revoked: revoked}
}

func (v *Verifier) Validate(ctx context.Context, raw string) (*Identity, error) {
	ident, err := v.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	gone, err := v.revoked.Revoked(ctx, ident.TokenID)
	if err != nil {
		return nil, err
	}
	if gone {
		return nil, ErrInvalidToken
	}
	return ident, nil
}
