package apperr

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// errorBody is the single envelope every HTTP error response uses. It never
// carries stack traces or library-specific detail.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
}

func statusOf(code Code) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorHandler renders AppErrors with their mapped status code and
// collapses everything else into a 500 with a generic message. The full
// error is logged server-side either way.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "Internal server error"

	var ae *AppError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ae):
		status = statusOf(ae.Code)
		msg = ae.Message
	case errors.As(err, &he):
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(he.Code)
		}
	}

	if status >= http.StatusInternalServerError {
		log.Printf("http: %s %s failed: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	body := errorBody{
		StatusCode: status,
		Message:    msg,
		Error:      http.StatusText(status),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       c.Request().URL.Path,
	}
	if err := c.JSON(status, body); err != nil {
		log.Printf("http: write error response failed: %v", err)
	}
}
