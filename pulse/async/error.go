package async

import (
	"context"

	"github.com/teranos/compliq/agent"
	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeAgentThrottled  ErrorCode = "agent_throttled"
	ErrorCodeAgentResponse   ErrorCode = "agent_response"
	ErrorCodeAgentError      ErrorCode = "agent_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeInterrupted     ErrorCode = "interrupted"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Would resubmitting the same job plausibly succeed?
}

// ClassifyError categorizes a job failure by the sentinels in its chain
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{Stage: stage, Message: err.Error()}

	var retryable *agent.RetryableError
	switch {
	case errors.Is(err, errors.ErrInvalidRequest):
		ctx.Code = ErrorCodeValidationError

	case errors.Is(err, errors.ErrNotFound):
		ctx.Code = ErrorCodeNotFound

	case errors.Is(err, context.Canceled):
		ctx.Code = ErrorCodeInterrupted
		ctx.Retryable = true

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true

	case errors.Is(err, agent.ErrRetriesExhausted) || errors.As(err, &retryable):
		ctx.Code = ErrorCodeAgentThrottled
		ctx.Retryable = true

	case errors.Is(err, agent.ErrEmptyResponse) || errors.Is(err, compliance.ErrUnexpectedResponse):
		ctx.Code = ErrorCodeAgentResponse

	case errors.Is(err, errors.ErrServiceUnavailable):
		ctx.Code = ErrorCodeAgentError
		ctx.Retryable = true

	default:
		ctx.Code = ErrorCodeUnknown
	}

	return ctx
}
