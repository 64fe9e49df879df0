package errctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorContext is the scoped record carried through one attempt. It rides
// on context.Context, so it survives every asynchronous suspension of the
// call tree it was established for.
type ErrorContext struct {
	CorrelationID string
	SolverType    string
	AttemptNumber int

	mu         sync.Mutex
	start      time.Time
	end        time.Time
	additional map[string]interface{}
}

type ctxKey struct{}

// RunInScope establishes an ErrorContext visible to all descendants of fn's
// call tree. An empty correlationID gets a fresh UUID.
func RunInScope(ctx context.Context, correlationID, solverType string, fn func(ctx context.Context) error) error {
	scoped, _ := NewScope(ctx, correlationID, solverType)
	return fn(scoped)
}

// NewScope attaches a fresh ErrorContext to ctx and returns both
func NewScope(ctx context.Context, correlationID, solverType string) (context.Context, *ErrorContext) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ec := &ErrorContext{
		CorrelationID: correlationID,
		SolverType:    solverType,
		start:         time.Now(),
		additional:    make(map[string]interface{}),
	}
	return context.WithValue(ctx, ctxKey{}, ec), ec
}

// GetContext returns the active ErrorContext or nil
func GetContext(ctx context.Context) *ErrorContext {
	if ctx == nil {
		return nil
	}
	ec, _ := ctx.Value(ctxKey{}).(*ErrorContext)
	return ec
}

// CorrelationID returns the active scope's correlation ID, or ""
func CorrelationID(ctx context.Context) string {
	if ec := GetContext(ctx); ec != nil {
		return ec.CorrelationID
	}
	return ""
}

// AddTiming records the attempt window
func (ec *ErrorContext) AddTiming(start, end time.Time) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.start = start
	ec.end = end
}

// Duration returns the recorded (or running) attempt duration
func (ec *ErrorContext) Duration() time.Duration {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.end.IsZero() {
		return time.Since(ec.start)
	}
	return ec.end.Sub(ec.start)
}

// SetSolverMetadata tags the scope with the solver handling the attempt
func (ec *ErrorContext) SetSolverMetadata(solverType string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.SolverType = solverType
}

// SetAttemptNumber tags the scope with the attempt ordinal
func (ec *ErrorContext) SetAttemptNumber(n int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.AttemptNumber = n
}

// AddAdditionalContext attaches an arbitrary key/value to the scope
func (ec *ErrorContext) AddAdditionalContext(key string, value interface{}) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.additional[key] = value
}

// Additional returns a copy of the attached key/values
func (ec *ErrorContext) Additional() map[string]interface{} {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]interface{}, len(ec.additional))
	for k, v := range ec.additional {
		out[k] = v
	}
	return out
}
