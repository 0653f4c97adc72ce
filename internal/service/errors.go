package service

import "fmt"

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// AuthenticationError means the caller has no valid session
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error: %s", e.Message)
}

// ConflictError represents a conflict error (e.g., duplicate)
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict with %s: %s", e.Resource, e.Message)
}

// GatewayError means the provider rejected a send or did not answer in time.
// It is recorded on a failed message, never retried here.
type GatewayError struct {
	StatusCode int
	Timeout    bool
	Detail     string
}

func (e *GatewayError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("gateway timeout: %s", e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway rejected send (%d): %s", e.StatusCode, e.Detail)
	default:
		return fmt.Sprintf("gateway error: %s", e.Detail)
	}
}

// PersistenceError wraps a storage failure that aborted an operation
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ParseError means a webhook body is not a recognized gateway event
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid webhook payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SignatureError means a webhook could not be authenticated
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature rejected: %v", e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}
