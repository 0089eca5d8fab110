package types

// API error codes returned by the operator surface.
const (
	ErrCodeBadRequest   = "DEVICE_400"
	ErrCodeUnauthorized = "AUTH_401"
	ErrCodeForbidden    = "AUTH_403"
	ErrCodeLocked       = "AUTH_423"
	ErrCodeBusy         = "DEVICE_409"
	ErrCodeQueueFull    = "DEVICE_503"
	ErrCodeInternal     = "DEVICE_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the error payload shared by all REST handlers.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
