package errctx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category classifies a failure for retry decisions and reporting
type Category string

const (
	CategoryTimeout           Category = "timeout"
	CategoryNetwork           Category = "network"
	CategoryInvalidInput      Category = "invalid_input"
	CategoryAuth              Category = "auth"
	CategoryRateLimited       Category = "rate_limited"
	CategoryCircuitOpen       Category = "circuit_open"
	CategorySolverUnavailable Category = "solver_unavailable"
	CategoryInternal          Category = "internal"
)

// Recoverable reports the default recoverability of a category
func (c Category) Recoverable() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryRateLimited, CategoryCircuitOpen:
		return true
	}
	return false
}

// Error is the categorized error carried through the core. It wraps the
// low-level cause and the active ErrorContext at creation time.
type Error struct {
	Category Category
	Code     string
	Message  string
	Cause    error
	Context  *ErrorContext
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether the processor should retry
func (e *Error) IsRecoverable() bool {
	return e.Category.Recoverable()
}

// New creates a categorized error, capturing the scope active on ctx
func New(ctx context.Context, category Category, code, message string) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  GetContext(ctx),
	}
}

// Wrap categorizes an underlying error, capturing the scope active on ctx
func Wrap(ctx context.Context, category Category, message string, cause error) *Error {
	return &Error{
		Category: category,
		Code:     string(category),
		Message:  message,
		Cause:    cause,
		Context:  GetContext(ctx),
	}
}

// CategoryOf extracts the category from any error chain. Uncategorized
// errors are classified by shape: deadline and net errors map to their
// retryable categories, everything else is internal.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dns") ||
		strings.Contains(msg, "tls") || strings.Contains(msg, "network"):
		return CategoryNetwork
	}
	return CategoryInternal
}

// IsRecoverable reports retryability of any error chain
func IsRecoverable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.IsRecoverable()
	}
	return CategoryOf(err).Recoverable()
}
