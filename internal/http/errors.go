package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"autograder/internal/ingest"
	"autograder/internal/model"
	"autograder/internal/schemas"
)

// ErrConflict marks a request that is valid but not allowed in the current
// state, e.g. cancelling a finished run.
var ErrConflict = errors.New("conflict")

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

func errOut(msg string) schemas.ErrorOut { return schemas.ErrorOut{Error: msg} }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status and body.
func statusFor(err error) (int, schemas.ErrorOut) {
	var (
		schemaErr *ingest.SchemaValidationError
		refErr    *ingest.ReferentialIntegrityError
		verrs     validator.ValidationErrors
		badReq    *badRequestError
	)
	switch {
	case errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity, schemas.ErrorOut{Error: schemaErr.Message, Path: schemaErr.Path}
	case errors.As(err, &verrs):
		fe := verrs[0]
		return http.StatusBadRequest, schemas.ErrorOut{Error: fe.Field() + " failed " + fe.Tag() + " check", Path: fe.Namespace()}
	case errors.As(err, &badReq):
		return http.StatusBadRequest, errOut(badReq.msg)
	case errors.As(err, &refErr):
		// Wraps ErrNotFound but is a server-side failure.
		return http.StatusInternalServerError, errOut(refErr.Error())
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, errOut("not found")
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errOut(err.Error())
	}
	return http.StatusInternalServerError, errOut("internal error")
}
