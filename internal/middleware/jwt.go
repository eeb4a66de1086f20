package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aulavoz/backend/internal/auth"
	"github.com/aulavoz/backend/pkg/response"
)

const (
	// ContextUserID holds the authenticated user's uuid.UUID.
	ContextUserID = auth.ContextUserID
	// ContextUserEmail holds the authenticated user's email.
	ContextUserEmail = "user_email"
)

// JWT rejects requests without a valid Bearer token and stores the caller's claims in the context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			unauthorized(c, msg)
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// bearerToken returns the token or a client-facing reason it could not be read.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", "invalid authorization header"
	}
	return token, ""
}

func unauthorized(c *gin.Context, msg string) {
	response.Unauthorized(c, msg)
	c.Abort()
}
