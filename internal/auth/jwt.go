package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fechatter/fechatter/internal/models"
)

// issuer is the fixed JWT issuer claim for every Fechatter access token.
const issuer = "fechatter"

// accessClaims is the wire shape of an access token's JWT claims, embedding
// the registered claims plus the workspace ID Fechatter needs on every
// request to enforce tenant isolation.
type accessClaims struct {
	jwt.RegisteredClaims
	WorkspaceID string `json:"workspace_id"`
}

// NewAccessToken signs a JWT access token for userID within workspaceID,
// valid for ttl.
func NewAccessToken(userID, workspaceID models.ULID, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt signing key must not be empty")
	}

	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		WorkspaceID: workspaceID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and verifies a JWT access token, returning the
// validated claims Fechatter cares about. Expired tokens and tokens signed
// with anything other than HMAC are rejected.
func ValidateAccessToken(tokenStr, secret string) (models.Claims, error) {
	claims := &accessClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return models.Claims{}, fmt.Errorf("%w: %w", models.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return models.Claims{}, models.ErrTokenInvalid
	}

	userID, err := models.ParseULID(claims.Subject)
	if err != nil {
		return models.Claims{}, fmt.Errorf("%w: bad subject", models.ErrTokenInvalid)
	}
	workspaceID, err := models.ParseULID(claims.WorkspaceID)
	if err != nil {
		return models.Claims{}, fmt.Errorf("%w: bad workspace", models.ErrTokenInvalid)
	}

	return models.Claims{
		UserID:      userID,
		WorkspaceID: workspaceID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
