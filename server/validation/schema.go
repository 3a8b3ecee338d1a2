// Package validation decodes and validates JSON request bodies.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ChatRequest is the body of the chat message and stream endpoints.
// Text length is enforced by the pipeline after sanitization, so only
// an upper bound on the raw body is applied here.
type ChatRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	Text      string `json:"text" validate:"required,max=20000"`
	QueryType string `json:"query_type,omitempty" validate:"omitempty,max=64"`
}

// SearchRequest is the body of the context search endpoint.
type SearchRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Query  string `json:"query" validate:"required,max=1000"`
	TopK   int    `json:"top_k,omitempty" validate:"omitempty,min=1,max=50"`
}

// HistoryQuery holds the query parameters of the history endpoint.
type HistoryQuery struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

// FieldError describes one failed constraint.
type FieldError struct {
	Field   string `json:"field"`           // The field that failed validation
	Message string `json:"message"`         // Human-readable error message
	Code    string `json:"code"`            // Machine-readable error code
	Value   string `json:"value,omitempty"` // The invalid value (if safe to return)
}

// Validator wraps a validator.Validate that reports JSON field names.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates s and returns one FieldError per failed constraint.
// A nil result means s is valid.
func (val *Validator) Struct(s interface{}) []FieldError {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "body", Message: err.Error(), Code: "invalid"}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: message(fe),
			Code:    fmt.Sprintf("%s_validation_failed", fe.Tag()),
			Value:   safeValue(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("field '%s' must be at most %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("field '%s' must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("field '%s' failed the '%s' check", fe.Field(), fe.Tag())
	}
}

// safeValue echoes numeric values only; user text is never reflected.
func safeValue(fe validator.FieldError) string {
	switch fe.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%v", fe.Value())
	}
	return ""
}
