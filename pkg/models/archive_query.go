package models

import (
	"fmt"
	"time"
)

// MaxArchiveLimit caps the number of rows a single archive query may return
const MaxArchiveLimit = 100000

// ArchiveQuery selects archive records with Since < timestamp <= Until
type ArchiveQuery struct {
	Since time.Time
	Until *time.Time
	Limit int // 0 means unlimited
}

// Validate checks if the query parameters are valid
func (q *ArchiveQuery) Validate() error {
	if q.Limit < 0 || q.Limit > MaxArchiveLimit {
		return fmt.Errorf("limit must be between 0 and %d", MaxArchiveLimit)
	}

	if q.Until != nil && q.Until.Before(q.Since) {
		return fmt.Errorf("max_ts (%s) is before since_ts (%s)",
			q.Until.UTC().Format(time.RFC3339), q.Since.UTC().Format(time.RFC3339))
	}

	return nil
}
