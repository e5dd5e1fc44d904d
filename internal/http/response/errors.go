package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/apierr"
)

// Classify maps a service error to an HTTP status and error code.
func Classify(err error) (int, string) {
	var ae *apierr.Error
	switch {
	case errors.As(err, &ae) && ae.Status != 0:
		code := ae.Code
		if code == "" {
			code = http.StatusText(ae.Status)
		}
		return ae.Status, code
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, pkgerrors.ErrNotEntitled):
		return http.StatusPaymentRequired, "not_entitled"
	case errors.Is(err, pkgerrors.ErrTerminal):
		return http.StatusConflict, "terminal"
	case errors.Is(err, pkgerrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case pkgerrors.IsConfiguration(err):
		return http.StatusInternalServerError, "scenario_misconfigured"
	case pkgerrors.IsTransient(err):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// Fail renders err with the status Classify picks.
func Fail(c *gin.Context, err error) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	RespondError(c, status, code, err)
}
