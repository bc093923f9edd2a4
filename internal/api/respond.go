package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// requestError carries per-field validation messages to the response.
type requestError struct {
	err     *apperr.Error
	details map[string]string
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

func decodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid request body")
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return &requestError{err: apperr.New(apperr.KindValidation, "validation failed"), details: details}
	}
	return apperr.Wrap(apperr.KindValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "uuid":
		return "must be a valid uuid"
	}
	return "is invalid"
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindTransientIO, apperr.KindAnnotationService:
		return http.StatusBadGateway
	case apperr.KindPersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	payload := errorEnvelope{Error: apiError{Code: string(kind), Message: "internal error"}}
	switch kind {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindPayloadTooLarge:
		payload.Error.Message = apperr.As(err).Message()
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		payload.Error.Details = reqErr.details
	}

	if status >= http.StatusInternalServerError {
		s.logg.Error(s.logg.WithField(ctx, "error_kind", string(kind)), "request.error", err)
	}
	respondJSON(w, status, payload)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
