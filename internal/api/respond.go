// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/audit"
	"github.com/holomush/worldgate/internal/identity"
	"github.com/holomush/worldgate/internal/world"
	"github.com/holomush/worldgate/pkg/errutil"
)

// Messages returned to clients. They never carry internal detail.
const (
	msgNotAuthorized = "not authorized"
	msgNotFound      = "not found"
	msgInvalid       = "invalid request"
	msgInternal      = "internal error"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalid)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		resp := errorResponse{Error: msgInvalid}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			resp.Fields = make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				resp.Fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// fail maps a service error onto a response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, msgNotAuthorized)
	case errors.Is(err, world.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, access.ErrInvalidRequest):
		resp := errorResponse{Error: msgInvalid}
		if code := errutil.Code(err); code != "" {
			resp.Fields = map[string]string{"code": code}
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, identity.ErrTokenExpired), errors.Is(err, identity.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, msgNotAuthorized)
	case errors.Is(err, audit.ErrAuditImmutable):
		writeError(w, http.StatusMethodNotAllowed, audit.ErrAuditImmutable.Error())
	default:
		errutil.LogError(h.logger, "request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}
