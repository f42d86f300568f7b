package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles that may open a tutor channel
const (
	RoleStudent = "student"
	RoleParent  = "parent"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

const tokenTTL = 24 * time.Hour

// ErrRoleNotAllowed is returned for tokens whose role may not use the tutor.
var ErrRoleNotAllowed = errors.New("role not allowed")

// JWTClaims represents the claims in a tutor channel token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates tutor channel tokens
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer creates an issuer using an HMAC secret
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &TokenIssuer{secret: []byte(secret), now: time.Now}, nil
}

// GenerateClientToken generates a token bound to one tutor client ID
func (i *TokenIssuer) GenerateClientToken(clientID, userID, role string) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, fmt.Errorf("client id is required")
	}
	if !RoleAllowed(role) {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrRoleNotAllowed, role)
	}

	now := i.now()
	expiresAt := now.Add(tokenTTL)
	claims := &JWTClaims{
		ClientID: clientID,
		UserID:   userID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims
func (i *TokenIssuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if !RoleAllowed(claims.Role) {
			return nil, fmt.Errorf("%w: %q", ErrRoleNotAllowed, claims.Role)
		}
		return claims, nil
	}

	return nil, jwt.ErrTokenInvalidClaims
}

// RoleAllowed is the role gate for the tutor channel.
func RoleAllowed(role string) bool {
	switch role {
	case RoleStudent, RoleParent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
