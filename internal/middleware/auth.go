package middleware

import (
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/pkg/errors"
	"github.com/charlesng35/estatedir/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxUsernameKey  = "username"
	CtxSessionIDKey = "sessionID"
)

// accessTokenQuery carries the token on websocket upgrades, where browsers cannot set headers.
const accessTokenQuery = "access_token"

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			rejectBearer(c, `Bearer`)
			return
		}

		claims, err := jwt.Verify(token)
		if stderrors.Is(err, iauth.ErrAccessTokenExpired) {
			rejectBearer(c, `Bearer error="invalid_token", error_description="token expired"`)
			return
		}
		if err != nil {
			rejectBearer(c, `Bearer error="invalid_token"`)
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxUsernameKey, claims.Username)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		c.Next()
	}
}

func rejectBearer(c *gin.Context, challenge string) {
	c.Header("WWW-Authenticate", challenge)
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return strings.TrimSpace(c.Query(accessTokenQuery))
	}
	return ""
}
