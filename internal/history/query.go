package history

import "time"

const (
	defaultLimit = 20
	maxLimit     = 500
)

// QueryOptions filters Recent.
type QueryOptions struct {
	Since   *time.Time // only records created at or after
	Outcome string     // "success", "failed" or empty for both
	Limit   int        // default: 20, max: 500
}

// DefaultQueryOptions returns the last 20 records of any outcome.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Limit: defaultLimit}
}

func (o QueryOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return defaultLimit
	case o.Limit > maxLimit:
		return maxLimit
	}
	return o.Limit
}
