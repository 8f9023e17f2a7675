package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

func respond(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

// SuccessResponse writes a 200 envelope around data.
func SuccessResponse(c echo.Context, data interface{}) error {
	return respond(c, http.StatusOK, data)
}

// BadRequestResponse writes the field errors from ReadAndValidateRequest.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	return respond(c, http.StatusBadRequest, errs)
}

// TooManyRequestsResponse writes a 429 with Retry-After rounded up to whole seconds.
func TooManyRequestsResponse(c echo.Context, retryAfter time.Duration) error {
	if retryAfter > 0 {
		secs := int(math.Ceil(retryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}
	return respond(c, http.StatusTooManyRequests, "rate limited")
}

// InternalServerErrorResponse writes a 500 without details.
func InternalServerErrorResponse(c echo.Context) error {
	return respond(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse writes err with its own status when it is an AppError, and a bare 500
// otherwise.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return respond(c, appErr.Status, []*AppError{appErr})
	}
	return InternalServerErrorResponse(c)
}
