package httpadapter

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/kirillkom/docsign/internal/core/domain"
)

var errBodyTooLarge = errors.New("request body too large")

func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrRequestMalformed):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrBatchNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDocumentLoad):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
