package types

// Error codes returned by the REST surface. Handlers pick from this set so
// clients can switch on code instead of parsing messages.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeCommandRejected  = "command_rejected"
	CodeCommandFailed    = "command_failed"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal_error"
	CodeServiceUnhealthy = "service_unhealthy"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
