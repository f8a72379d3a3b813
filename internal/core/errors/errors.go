package errors

const (
	HttpInternalError           = "internal_error"
	HttpInvalidJsonError        = "invalid_json"
	HttpInvalidRequestError     = "invalid_request"
	HttpInvalidRequirementError = "invalid_payment_requirement"
	HttpNotFoundError           = "not_found"
	HttpInvalidStateError       = "invalid_state"
	HttpBackendUnavailableError = "backend_unavailable"
	HttpDuplicateEventError     = "duplicate_event"
	HttpCursorNotFoundError     = "cursor_not_found"
	HttpCursorRegressionError   = "cursor_regression"
)

// ErrorResponse is the error response body for every API error.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
