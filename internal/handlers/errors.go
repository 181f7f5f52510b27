package handlers

import (
	"context"
	stderrors "errors"
	"net"

	iauth "github.com/charlesng35/estatedir/internal/auth"
	"github.com/charlesng35/estatedir/internal/directory"
	"github.com/charlesng35/estatedir/internal/fetch"
	"github.com/charlesng35/estatedir/internal/records"
	"github.com/charlesng35/estatedir/internal/sheets"
	"github.com/charlesng35/estatedir/pkg/errors"
)

// appError maps domain errors onto the API error catalogue. Network failures become
// UPSTREAM_UNAVAILABLE; anything unrecognised is an internal error.
func appError(err error) *errors.AppError {
	var (
		appErr    *errors.AppError
		parseErr  *directory.ParseError
		statusErr *fetch.StatusError
		netErr    net.Error
	)

	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &appErr):
		return appErr
	case stderrors.As(err, &parseErr):
		return errors.ErrSheetSchema.WithMessage(parseErr.Error()).WithInternal(err)
	case stderrors.Is(err, sheets.ErrSheetNotPublic):
		return errors.ErrSheetNotPublic.WithInternal(err)
	case stderrors.Is(err, sheets.ErrEmptySheet):
		return errors.ErrSheetEmpty.WithInternal(err)
	case stderrors.Is(err, sheets.ErrUnknownSheet),
		stderrors.Is(err, sheets.ErrUnknownFormat),
		stderrors.Is(err, sheets.ErrInvalidImageURL):
		return errors.NewBadRequest(err.Error())
	case stderrors.Is(err, sheets.ErrImageHostNotAllowed):
		return errors.ErrForbidden.WithMessage("Image host is not allowed").WithInternal(err)
	case stderrors.Is(err, directory.ErrNotFound), stderrors.Is(err, records.ErrActionNotFound):
		return errors.ErrNotFound.WithInternal(err)
	case stderrors.Is(err, iauth.ErrInvalidCredentials), stderrors.Is(err, iauth.ErrAccountDisabled):
		return errors.ErrInvalidCredentials.WithInternal(err)
	case stderrors.Is(err, iauth.ErrAccountLocked):
		return errors.ErrAccountLocked.WithInternal(err)
	case stderrors.Is(err, iauth.ErrOTPRequired):
		return errors.ErrOTPRequired.WithInternal(err)
	case stderrors.Is(err, iauth.ErrOTPInvalid):
		return errors.ErrOTPInvalid.WithInternal(err)
	case stderrors.Is(err, iauth.ErrSessionNotFound),
		stderrors.Is(err, iauth.ErrSessionRevoked),
		stderrors.Is(err, iauth.ErrSessionExpired),
		stderrors.Is(err, iauth.ErrSessionInvalidToken):
		return errors.ErrUnauthorized.WithInternal(err)
	case stderrors.As(err, &statusErr),
		stderrors.As(err, &netErr),
		stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrUpstreamUnavailable.WithInternal(err)
	}
	return errors.ErrInternalServer.WithInternal(err)
}
