package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

const (
	invalidBodyMessage      = "invalid request body"
	fieldErrorFormat        = "%s is %s"
	fieldErrorSeparator     = "; "
	requiredTagDescription  = "required"
	maxTagDescriptionFormat = "longer than %s characters"
)

// StructureRequest is the body of POST /structure and POST /overview.
type StructureRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=20000"`
	RepoURL string `json:"repo_url" validate:"required,max=2048"`
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	URL     string `json:"url" validate:"required,max=2048"`
	DocType string `json:"doc_type" validate:"omitempty,max=128"`
}

// SecurityRequest is the body of POST /api/analyze-security.
type SecurityRequest struct {
	RepoURL string `json:"repo_url" validate:"required,max=2048"`
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: validate}
}

// Validate implements echo.Validator and reports field errors as a 400.
func (requestValidator *requestValidator) Validate(value interface{}) error {
	validationError := requestValidator.validate.Struct(value)
	if validationError == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(validationError, &fieldErrors) {
		return echo.NewHTTPError(http.StatusBadRequest, invalidBodyMessage)
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		messages = append(messages, fmt.Sprintf(fieldErrorFormat, fieldError.Field(), describeTag(fieldError)))
	}
	return echo.NewHTTPError(http.StatusBadRequest, strings.Join(messages, fieldErrorSeparator))
}

// bindAndValidate decodes the JSON body into request and validates it.
func bindAndValidate(echoContext echo.Context, request interface{}) error {
	if bindError := echoContext.Bind(request); bindError != nil {
		return echo.NewHTTPError(http.StatusBadRequest, invalidBodyMessage)
	}
	return echoContext.Validate(request)
}

func describeTag(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return requiredTagDescription
	case "max":
		return fmt.Sprintf(maxTagDescriptionFormat, fieldError.Param())
	default:
		return fieldError.Tag()
	}
}
