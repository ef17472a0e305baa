package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpInvalidArgumentError  = "invalid_argument"
	HttpUnauthenticatedError  = "unauthenticated"
	HttpNotFoundError         = "not_found"
	HttpPermissionDeniedError = "permission_denied"
)

// ErrorResponse is the error response body for all API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
