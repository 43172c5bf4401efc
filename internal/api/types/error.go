package types

// Error represents error information in API responses.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorResponse creates an error API response.
func ErrorResponse(code, message, details string) Response {
	return Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ValidationErrorResponse creates a validation error response.
func ValidationErrorResponse(details string) Response {
	return ErrorResponse("VALIDATION_ERROR", "Invalid input data", details)
}

// AuthenticationErrorResponse creates an authentication error response.
func AuthenticationErrorResponse(details string) Response {
	return ErrorResponse("AUTHENTICATION_ERROR", "Authentication failed", details)
}

// NotFoundErrorResponse creates a not found error response.
func NotFoundErrorResponse(resource string) Response {
	return ErrorResponse("NOT_FOUND", "Resource not found", resource+" not found")
}

// LeaseConflictErrorResponse creates a conflict response for job leases;
// the caller must re-poll for fresh work.
func LeaseConflictErrorResponse(details string) Response {
	return ErrorResponse("LEASE_CONFLICT", "Job lease conflict", details)
}

// StaleSubmissionErrorResponse creates a conflict response for results
// submitted against an expired or foreign lease.
func StaleSubmissionErrorResponse(details string) Response {
	return ErrorResponse("STALE_SUBMISSION", "Stale or foreign lease", details)
}

// InternalErrorResponse creates an internal server error response.
func InternalErrorResponse(details string) Response {
	return ErrorResponse("INTERNAL_ERROR", "Internal server error", details)
}
