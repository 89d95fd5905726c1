package app

import (
	"errors"
	"net/http"

	"pairpad/api/internal/blame"
	"pairpad/api/internal/chat"
	"pairpad/api/internal/comments"
)

// mapError translates domain sentinel errors into the HTTP error envelope.
// Anything unrecognized is an internal error.
func mapError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, comments.ErrEmptyText) || errors.Is(err, chat.ErrEmptyText):
		return http.StatusUnprocessableEntity, "EMPTY_TEXT", "Text must not be empty"
	case errors.Is(err, comments.ErrNegativeLine) || errors.Is(err, blame.ErrNegativeLine):
		return http.StatusUnprocessableEntity, "INVALID_LINE", "Line index must be non-negative"
	case errors.Is(err, comments.ErrNotFound) || errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	case errors.Is(err, comments.ErrNotAuthor) || errors.Is(err, chat.ErrNotAuthor):
		return http.StatusForbidden, "NOT_AUTHOR", "Only the author may delete this"
	default:
		return http.StatusInternalServerError, "INTERNAL", "Internal error"
	}
}
