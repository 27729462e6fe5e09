package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hearthapp/hearth/internal/ledger"
	"github.com/hearthapp/hearth/internal/queue"
	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// ProblemWithErrors extends Problem with per-field validation errors.
type ProblemWithErrors struct {
	Problem
	Errors []validation.FieldError `json:"errors,omitempty"`
}

type problemType struct {
	uri   string
	title string
}

var problemTypes = map[int]problemType{
	http.StatusUnauthorized:        {"https://hearthapp.dev/errors/unauthorized", "Unauthorized"},
	http.StatusBadRequest:          {"https://hearthapp.dev/errors/bad-request", "Bad Request"},
	http.StatusNotFound:            {"https://hearthapp.dev/errors/not-found", "Not Found"},
	http.StatusConflict:            {"https://hearthapp.dev/errors/conflict", "Conflict"},
	http.StatusUnprocessableEntity: {"https://hearthapp.dev/errors/validation-error", "Validation Error"},
	http.StatusServiceUnavailable:  {"https://hearthapp.dev/errors/service-unavailable", "Service Unavailable"},
	http.StatusInternalServerError: {"https://hearthapp.dev/errors/internal-error", "Internal Server Error"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{"https://hearthapp.dev/errors/unknown", http.StatusText(status)}
	}
	return Problem{
		Type:     pt.uri,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func writeProblemJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err, "component", "api")
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemJSON(w, status, newProblem(r, status, detail))
}

// WriteProblemWithErrors writes a 422 Problem Details response carrying the
// individual field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.FieldError) {
	writeProblemJSON(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

// MapDomainError converts remote, queue and ledger errors to Problem Details
// responses.
func MapDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, ledger.ErrEntryNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, remote.ErrConflict):
		WriteProblem(w, r, http.StatusConflict, "Version conflict, refresh and retry")
	case errors.Is(err, ledger.ErrEntryFinalized):
		WriteProblem(w, r, http.StatusConflict, "Entry already finalized")
	case errors.Is(err, remote.ErrInvalidPayload), errors.Is(err, queue.ErrMissingDocumentID),
		errors.Is(err, queue.ErrUnknownKind), errors.Is(err, ledger.ErrNegativeAmount):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	case remote.IsUnavailable(err):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Remote store unavailable")
	default:
		// Internal details stay in the log, not the response.
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
