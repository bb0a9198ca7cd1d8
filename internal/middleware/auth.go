package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	apierrors "github.com/vodforge/vodforge/internal/errors"
)

// principalKey is the gin context key holding the authenticated owner id
const principalKey = "principal_id"

// Claims are the bearer token claims. Subject is the owner id.
type Claims struct {
	jwt.RegisteredClaims
}

// AuthOptions configures Auth
type AuthOptions struct {
	Enabled      bool
	Secret       []byte
	DevPrincipal string
}

// Auth authenticates requests with an HS256 bearer token and stores its
// subject as the request principal. When authentication is disabled every
// request runs as the development principal.
func Auth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !opts.Enabled {
			c.Set(principalKey, opts.DevPrincipal)
			c.Next()
			return
		}

		raw, ok := bearerToken(c)
		if !ok {
			apierrors.NewUnauthorizedError("missing bearer token").ToGinResponse(c)
			return
		}

		subject, err := ParseToken(opts.Secret, raw)
		if err != nil {
			e := apierrors.NewUnauthorizedError("invalid bearer token")
			e.Cause = err
			e.ToGinResponse(c)
			return
		}

		c.Set(principalKey, subject)
		c.Next()
	}
}

// IssueToken signs a token for subject that expires after ttl
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken verifies raw and returns its subject
func ParseToken(secret []byte, raw string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// PrincipalFrom returns the authenticated owner id of the request
func PrincipalFrom(c *gin.Context) (string, bool) {
	id := c.GetString(principalKey)
	return id, id != ""
}

// SetPrincipal stores id as the request principal
func SetPrincipal(c *gin.Context, id string) {
	c.Set(principalKey, id)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		// Browsers cannot set headers on websocket upgrades
		if token := c.Query("access_token"); token != "" {
			return token, true
		}
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
