package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a webhook does not answer within the tool timeout.
	ErrTimeout = errors.New("tool webhook timeout")
	// ErrValidation can be used with errors.Is to detect schema validation failures.
	ErrValidation = errors.New("validation failed")
)

// ConfigurationError means the tool has no webhook URL configured.
type ConfigurationError struct {
	Tool string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tool %s is not configured", e.Tool)
}

// UpstreamError is a non-2xx webhook response.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// MalformedResponseError means a 2xx body that is not JSON.
type MalformedResponseError struct {
	Body string
}

func (e *MalformedResponseError) Error() string {
	return "malformed upstream response: body is not JSON"
}

// UnrecognizedShapeError means valid JSON that matches none of the accepted shapes.
type UnrecognizedShapeError struct {
	Preview string
}

func (e *UnrecognizedShapeError) Error() string {
	return "unrecognized upstream response shape: " + e.Preview
}

// OutputValidationError means the extracted fields failed the tool's output schema.
type OutputValidationError struct {
	Tool string
	Err  error
}

func (e *OutputValidationError) Error() string {
	return fmt.Sprintf("%s output validation: %v", e.Tool, e.Err)
}

func (e *OutputValidationError) Unwrap() error { return e.Err }
