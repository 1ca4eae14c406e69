package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "authUserID"

var (
	errNoSecret      = errors.New("missing JWT secret")
	errNoHeader      = errors.New("authorization header required")
	errBadHeader     = errors.New("invalid authorization header")
	errInvalidToken  = errors.New("invalid token")
	errNoSubject     = errors.New("missing subject")
	errWrongAudience = errors.New("invalid audience")
)

// GetUserID returns the monitoring user the request was authenticated as.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// TokenVerifier checks HS256 bearer tokens and yields their subject, which
// owns the posture sessions created with the token.
type TokenVerifier struct {
	secret   []byte
	audience string
	parser   *jwt.Parser
}

func NewTokenVerifier(secret, audience string) *TokenVerifier {
	audience = strings.TrimSpace(audience)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &TokenVerifier{
		secret:   []byte(strings.TrimSpace(secret)),
		audience: audience,
		parser:   jwt.NewParser(opts...),
	}
}

// Verify parses an Authorization header value and returns the token subject.
func (v *TokenVerifier) Verify(header string) (string, error) {
	if len(v.secret) == 0 {
		return "", errNoSecret
	}
	raw, err := bearerToken(header)
	if err != nil {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenInvalidAudience) {
			return "", errWrongAudience
		}
		return "", errInvalidToken
	}
	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

// JWTMiddleware rejects requests without a valid bearer token and stores the
// subject on the request context.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	verifier := NewTokenVerifier(secret, audience)
	return func(c *gin.Context) {
		userID, err := verifier.Verify(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), userID))
		c.Set(string(userIDKey), userID)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoHeader
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadHeader
	}
	return token, nil
}
