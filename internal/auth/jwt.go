package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// TokenVerifier resolves an Authorization header to a user id
type TokenVerifier interface {
	ValidateToken(authHeader string) (string, bool)
}

// JWTVerifier verifies HS256 tokens issued by the journal app.
// The subject claim carries the user id.
type JWTVerifier struct {
	secret []byte
	logger *zap.Logger
}

// NewJWTVerifier creates a verifier for tokens signed with secret
func NewJWTVerifier(secret string, logger *zap.Logger) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		logger: logger.Named("auth"),
	}
}

// ExtractUserIDFromToken verifies the token and returns its subject
func (v *JWTVerifier) ExtractUserIDFromToken(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return "", errors.New("empty token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("failed to verify token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("no sub claim in token")
	}
	if _, err := uuid.Parse(sub); err != nil {
		return "", fmt.Errorf("sub is not a valid user id: %s", sub)
	}
	return sub, nil
}

// ValidateToken is a middleware-friendly wrapper around ExtractUserIDFromToken
func (v *JWTVerifier) ValidateToken(authHeader string) (string, bool) {
	if authHeader == "" {
		return "", false
	}

	userID, err := v.ExtractUserIDFromToken(authHeader)
	if err != nil {
		v.logger.Debug("JWT validation failed", zap.Error(err))
		return "", false
	}
	return userID, true
}

// DevVerifier accepts any non-empty header as a fixed user. Development only.
type DevVerifier struct {
	userID string
}

func NewDevVerifier(userID string) *DevVerifier {
	return &DevVerifier{userID: userID}
}

func (d *DevVerifier) ValidateToken(authHeader string) (string, bool) {
	if authHeader == "" {
		return "", false
	}
	return d.userID, true
}

// Middleware rejects requests without a valid bearer token and stores the
// user id under UserIDKey
func Middleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := verifier.ValidateToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by Middleware
func UserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(UserIDKey))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
