package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/internal/middleware"
	"github.com/charlesng35/estatedir/pkg/logger"
	"github.com/charlesng35/estatedir/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// fail renders err through the API error catalogue, logging server-side failures.
func fail(c *gin.Context, err error) {
	appErr := appError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.WithModule("http").Warn("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.CtxRequestIDKey)),
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	response.Error(c, appErr)
}

func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserIDKey)
}
