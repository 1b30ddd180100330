package crypto

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ScopeAccess marks tokens issued after a verified portal login.
	ScopeAccess = "access"
	// ScopeInvite marks short-lived tokens issued after invite-code
	// verification; they only authorize registration.
	ScopeInvite = "invite"

	accessTokenTTL = 30 * 24 * time.Hour
	inviteTokenTTL = 15 * time.Minute
)

// Claims are the JWT claims carried by API tokens.
type Claims struct {
	Scope    string `json:"scope"`
	DeviceID string `json:"deviceId,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies API tokens with the server master secret.
type JWTManager struct {
	secret []byte
}

func NewJWTManager(masterSecret string) (*JWTManager, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is empty")
	}
	return &JWTManager{secret: []byte(masterSecret)}, nil
}

// IssueAccessToken creates a long-lived token for an authenticated student.
func (m *JWTManager) IssueAccessToken(userID, deviceID string) (string, error) {
	return m.sign(Claims{
		Scope:    ScopeAccess,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenTTL)),
		},
	})
}

// IssueInviteToken creates a short-lived registration token for a verified
// invite code.
func (m *JWTManager) IssueInviteToken(inviteCode string) (string, error) {
	return m.sign(Claims{
		Scope: ScopeInvite,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   inviteCode,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(inviteTokenTTL)),
		},
	})
}

func (m *JWTManager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a token, returning its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// VerifyScoped verifies a token and requires a specific scope.
func (m *JWTManager) VerifyScoped(tokenString, scope string) (*Claims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("token scope %q does not grant %q", claims.Scope, scope)
	}
	return claims, nil
}
