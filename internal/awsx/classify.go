package awsx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Class is the retry decision for a failed external call.
type Class int

const (
	ClassFatal Class = iota
	ClassRetryable
)

// StatusError carries an HTTP status from a non-AWS collaborator (the
// lease-metadata API) so it can ride the same classifier.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

// Classify decides whether an external call's failure may be retried.
// Named transient SDK exceptions and 429/5xx statuses are retryable;
// every other 4xx is fatal and must cost exactly one attempt. The code
// check runs before the status check because AWS throttling errors
// commonly arrive with a 400 status.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && isTransientCode(apiErr.ErrorCode()) {
		return ClassRetryable
	}

	if status, ok := httpStatus(err); ok {
		return classifyStatus(status)
	}

	if errors.As(err, &apiErr) {
		// API error with no usable status and no transient code.
		return ClassFatal
	}

	// Connection resets, DNS failures and friends never produced a
	// response; treat them as transient.
	return ClassRetryable
}

func classifyStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRetryable
	case status >= 500:
		return ClassRetryable
	case status >= 400:
		return ClassFatal
	default:
		return ClassFatal
	}
}

func httpStatus(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status, true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode(), true
	}
	return 0, false
}

func isTransientCode(code string) bool {
	switch code {
	case "ThrottlingException",
		"Throttling",
		"RequestThrottled",
		"RequestLimitExceeded",
		"TooManyRequestsException",
		"LimitExceededException",
		"ServiceUnavailable",
		"ServiceUnavailableException",
		"InternalError",
		"InternalServerError",
		"InternalFailure",
		"InternalException",
		"RequestTimeout",
		"DataUnavailableException":
		return true
	default:
		return false
	}
}

// ErrorCode extracts the AWS error code for logging and metric labels.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "non_api_error"
	}
	code := strings.TrimSpace(apiErr.ErrorCode())
	if code == "" {
		return "unknown"
	}
	return code
}
