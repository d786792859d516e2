package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"media-converter/internal/apperror"
	"media-converter/internal/logging"
	"media-converter/internal/middleware"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONStatus writes v as JSON with the given status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

type errorResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error"`
	Kind    apperror.Kind `json:"kind"`
	Details any           `json:"details,omitempty"`
}

// writeError renders err with the status code of its kind. Internal errors
// are logged and their cause is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(err, "internal error")
	}

	msg := appErr.Message
	if appErr.Kind == apperror.KindInternal {
		logging.Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else if appErr.Err != nil {
		msg = appErr.Error()
	}

	writeJSONStatus(w, apperror.HTTPStatus(appErr.Kind), errorResponse{
		Error:   msg,
		Kind:    appErr.Kind,
		Details: appErr.Detail,
	})
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
func (h *Handlers) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.Validation("invalid request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError turns validator output into a single readable message.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.Validation("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "pathsegment":
			msgs = append(msgs, fmt.Sprintf("%s may only contain letters, digits, '.', '_' and '-'", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return apperror.Validation("%s", strings.Join(msgs, "; "))
}

// accountID returns the caller resolved by the account middleware.
func accountID(r *http.Request) (int64, error) {
	id, ok := middleware.AccountID(r.Context())
	if !ok {
		return 0, apperror.Validation("missing %s header", middleware.AccountHeader)
	}
	return id, nil
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("invalid %s", name)
	}
	return id, nil
}

// folderID parses the folder_id query parameter. A missing parameter yields
// nil.
func folderID(r *http.Request) (*int64, error) {
	v := r.URL.Query().Get("folder_id")
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperror.Validation("invalid folder_id")
	}
	return &id, nil
}
