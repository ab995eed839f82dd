package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	var verr *kbcontent.ValidationError
	var tooLarge *kbcontent.PayloadTooLargeError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, kbcontent.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, kbcontent.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, kbcontent.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON message. Server errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()

	var verr *kbcontent.ValidationError
	switch {
	case status >= http.StatusInternalServerError:
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"err", err)
		message = "internal server error"
	case status == http.StatusForbidden:
		message = "you are not allowed to perform this action"
	case status == http.StatusNotFound:
		message = "content not found"
	case errors.As(err, &verr):
		message = verr.Message
	}

	writeMessage(w, r, status, message)
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Message: message})
}
