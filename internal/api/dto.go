package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/starford/filedesk/internal/fileservice"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// formatValidationError turns the first validator error into a client message.
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}

// decodeBody decodes a JSON body into v and validates it. The returned
// message is meant for the client.
func decodeBody(r io.Reader, v any) (string, bool) {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return "invalid JSON body", false
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err), false
	}
	return "", true
}

// RenameRequest is the request body of POST /files/{uid}/rename.
type RenameRequest struct {
	NewFileName      string `json:"newFileName" example:"report-final.pdf" validate:"required,max=255"`
	ConflictStrategy string `json:"conflictStrategy" example:"RENAME"`
}

// MoveRequest is the request body of POST /files/{uid}/move.
type MoveRequest struct {
	TargetPath       string `json:"targetPath" example:"archive/2024" validate:"required"`
	NewFileName      string `json:"newFileName" example:"report.pdf" validate:"max=255"`
	ConflictStrategy string `json:"conflictStrategy" example:"REPLACE"`
}

// FileResponse is the file representation (aliased from the domain layer).
type FileResponse = fileservice.FileDetail

// RenameResponse is returned after a rename.
type RenameResponse = fileservice.RenameResult

// MoveResponse is returned after a move.
type MoveResponse = fileservice.MoveResult

// StatusResponse acknowledges operations without a payload.
type StatusResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"File deleted successfully"`
}
