package errctx

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Aggregate combines the per-attempt failures of a multi-candidate
// operation (solver orchestration) into one reportable error.
type Aggregate struct {
	Errors             []error
	TotalAttempts      int
	FirstError         error
	LastError          error
	MostCommonCategory Category
	TotalDuration      time.Duration
	Context            *ErrorContext
}

// NewAggregate builds an Aggregate from an ordered attempt error list
func NewAggregate(errs []error, totalDuration time.Duration, ec *ErrorContext) *Aggregate {
	agg := &Aggregate{
		Errors:        errs,
		TotalAttempts: len(errs),
		TotalDuration: totalDuration,
		Context:       ec,
	}
	if len(errs) > 0 {
		agg.FirstError = errs[0]
		agg.LastError = errs[len(errs)-1]
		agg.MostCommonCategory = mostCommonCategory(errs)
	}
	return agg
}

func mostCommonCategory(errs []error) Category {
	counts := make(map[Category]int)
	for _, err := range errs {
		counts[CategoryOf(err)]++
	}
	type kv struct {
		cat Category
		n   int
	}
	ranked := make([]kv, 0, len(counts))
	for c, n := range counts {
		ranked = append(ranked, kv{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].cat < ranked[j].cat
	})
	if len(ranked) == 0 {
		return CategoryInternal
	}
	return ranked[0].cat
}

// Error renders the one-line human summary
func (a *Aggregate) Error() string {
	return a.Summary()
}

// Summary produces a one-line description of the aggregated failure
func (a *Aggregate) Summary() string {
	if a.TotalAttempts == 0 {
		return "no attempts were made"
	}
	parts := make([]string, 0, a.TotalAttempts)
	for i, err := range a.Errors {
		parts = append(parts, fmt.Sprintf("#%d %s", i+1, CategoryOf(err)))
	}
	correlation := ""
	if a.Context != nil {
		correlation = " correlation=" + a.Context.CorrelationID
	}
	return fmt.Sprintf("%d attempts failed in %s (mostly %s): %s; last: %v%s",
		a.TotalAttempts, a.TotalDuration.Round(time.Millisecond),
		a.MostCommonCategory, strings.Join(parts, ", "), a.LastError, correlation)
}

// Unwrap exposes the last error for errors.Is/As chains
func (a *Aggregate) Unwrap() error {
	return a.LastError
}
