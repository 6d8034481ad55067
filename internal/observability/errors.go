package observability

import (
	stderrors "errors"
	"fmt"

	"github.com/wsmux/wsmux/errs"
)

// AggregateErrors summarizes a batch of independent failures from a single
// fan-out step (e.g. the per-subscription outcomes of one resubscribe
// batch): it breaks the failures down by canonical error code, emits one
// structured log entry with that breakdown, and returns a single wrapped
// error describing how many of the batch failed. A batch with no failures
// logs nothing and returns nil.
func AggregateErrors(operation string, batch []error, fields ...Field) error {
	failures := make([]error, 0, len(batch))
	byCanonical := make(map[string]int)
	for _, err := range batch {
		if err == nil {
			continue
		}
		failures = append(failures, err)

		var e *errs.E
		if stderrors.As(err, &e) && e.Canonical != "" {
			byCanonical[string(e.Canonical)]++
		} else {
			byCanonical["uncategorized"]++
		}
	}
	if len(failures) == 0 {
		return nil
	}

	logFields := append(fields,
		Field{Key: "operation", Value: operation},
		Field{Key: "failed", Value: len(failures)},
		Field{Key: "total", Value: len(batch)},
		Field{Key: "by_canonical_code", Value: byCanonical},
	)
	Log().Error("batch operation partially failed", logFields...)

	return fmt.Errorf("%s: %d of %d failed: %w", operation, len(failures), len(batch), stderrors.Join(failures...))
}
