package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/phototheology/palace/internal/auth"
	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/llm"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	errBadRequest = errors.New("bad request")
	errDuplicate  = errors.New("duplicate request")
)

type errorResponse struct {
	Error string `json:"error"`
}

// badRequest wraps msg so writeError answers 400 with it.
func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status and the message shown to the caller.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "Forbidden: you may not act for this player"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "Already exists"
	case errors.Is(err, errDuplicate):
		return http.StatusConflict, "Duplicate request: this move was already submitted"
	case errors.Is(err, judge.ErrNotYourTurn),
		errors.Is(err, judge.ErrGameNotActive),
		errors.Is(err, judge.ErrNotAIPlayer),
		errors.Is(err, judge.ErrNoPendingSkip),
		errors.Is(err, judge.ErrSkipPending):
		return http.StatusConflict, err.Error()
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded, please try again later."
	case errors.Is(err, llm.ErrPaymentRequired):
		return http.StatusPaymentRequired, "AI credits exhausted, please add funds."
	case errors.Is(err, llm.ErrMissingAPIKey):
		return http.StatusInternalServerError, "AI gateway API key is not configured"
	}
	return http.StatusInternalServerError, err.Error()
}

// writeError answers with the status for err. Server errors are logged with the
// given fields; client errors at debug.
func writeError(w http.ResponseWriter, logger logrus.FieldLogger, err error, fields logrus.Fields) {
	status, msg := statusFor(err)
	entry := logger.WithFields(fields).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.WithField("status", status).Debug("request rejected")
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return badRequest("missing request body")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request payload")
	}
	return nil
}
