package widget

import (
	"time"
)

// InteractionResult is the structured outcome every widget operation
// returns. Failures carry an error string instead of a Go error so results
// can be serialized into job output as-is.
type InteractionResult struct {
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

func succeed(start time.Time, data map[string]interface{}) InteractionResult {
	return InteractionResult{
		Success:    true,
		DurationMS: time.Since(start).Milliseconds(),
		Data:       data,
	}
}

func fail(start time.Time, err error) InteractionResult {
	return InteractionResult{
		Error:      err.Error(),
		DurationMS: time.Since(start).Milliseconds(),
	}
}
