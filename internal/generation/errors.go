package generation

import (
	"fmt"
	"net/http"
)

// Error is a failure that must reach the caller with a specific HTTP status.
// Everything else the service degrades into renderable content.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func missingInput(field string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    "missing_input",
		Message: fmt.Sprintf("%s is required", field),
	}
}

func modelNotFound(model string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    "model_not_found",
		Message: fmt.Sprintf("The model %q does not exist or you do not have access to it. Choose another model or check your API key.", model),
	}
}
