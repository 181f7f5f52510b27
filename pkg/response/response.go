// Package response renders the JSON envelope shared by every API endpoint:
// {success, data, error{code, message, retryable}, meta{total, source, stale, fetched_at}}.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/estatedir/pkg/errors"
)

// Response is the envelope.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo is the client-facing part of an AppError. Retryable drives the "try again"
// affordance of the directory screens.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Meta describes where directory data came from: Source is "network", "cache" or "offline",
// and Stale marks a durable copy served because the spreadsheet could not be reached.
type Meta struct {
	Total     int        `json:"total,omitempty"`
	Source    string     `json:"source,omitempty"`
	Stale     bool       `json:"stale,omitempty"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

// Success writes data in a success envelope.
func Success(c *gin.Context, statusCode int, data any) {
	SuccessWithMeta(c, statusCode, data, nil)
}

// SuccessWithMeta writes data with provenance metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data any, meta *Meta) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta})
}

// CSV writes a spreadsheet export as-is.
func CSV(c *gin.Context, statusCode int, body string) {
	c.Data(statusCode, "text/csv; charset=utf-8", []byte(body))
}

// Error renders err through the AppError catalogue; unknown errors become a 500. Retryable
// errors also carry a Retry-After hint.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if appErr.Retryable && c.Writer.Header().Get("Retry-After") == "" {
		c.Header("Retry-After", retryAfterSeconds)
	}

	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		},
	})
}

const retryAfterSeconds = "30"
