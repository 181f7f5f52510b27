package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := ErrInternalServer.WithMessage("failed").WithInternal(internal)

	require.Equal(t, "failed: boom", err.Error())
	require.ErrorIs(t, err, internal)
	require.Equal(t, "<nil>", (*AppError)(nil).Error())
}

func TestWithInternalCopies(t *testing.T) {
	base := ErrNotFound
	with := base.WithInternal(stdErrors.New("oops"))

	require.NotSame(t, base, with)
	require.Nil(t, base.Internal)
	require.NotNil(t, with.Internal)
}

func TestWithMessageKeepsCodeAndStatus(t *testing.T) {
	err := ErrSheetSchema.WithMessage("missing column(s): id, name")

	require.Equal(t, ErrSheetSchema.Code, err.Code)
	require.Equal(t, http.StatusUnprocessableEntity, err.StatusCode)
	require.Equal(t, "missing column(s): id, name", err.Message)
	require.Equal(t, "Sheet is missing required columns", ErrSheetSchema.Message)
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	require.Same(t, appErr, FromError(appErr))

	wrapped := FromError(stdErrors.Join(stdErrors.New("context"), ErrSheetNotPublic))
	require.Equal(t, ErrSheetNotPublic.Code, wrapped.Code)

	out := FromError(stdErrors.New("raw"))
	require.Equal(t, ErrInternalServer.Code, out.Code)
	require.NotNil(t, out.Internal)

	require.Nil(t, FromError(nil))
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	require.Equal(t, ErrBadRequest.Code, err.Code)
	require.Equal(t, "invalid payload", err.Message)
	require.Equal(t, ErrBadRequest.StatusCode, err.StatusCode)
}

func TestRetryableSurvivesCopies(t *testing.T) {
	require.True(t, ErrUpstreamUnavailable.WithInternal(stdErrors.New("timeout")).Retryable)
	require.True(t, ErrRateLimit.WithMessage("slow down").Retryable)
	require.False(t, ErrSheetSchema.Retryable)
	require.False(t, ErrSheetNotPublic.Retryable)
}
