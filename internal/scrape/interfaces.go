package scrape

import (
	"context"
	"time"
)

// Store persists extracted records and answers the resumability check.
type Store interface {
	Init(ctx context.Context) error
	DistinctPostcodes(ctx context.Context) (map[string]struct{}, error)
	UpsertRecords(ctx context.Context, records []BusinessRecord) (int, error)
	Close() error
}

// Extractor performs one search-and-scrape attempt for a task key.
type Extractor interface {
	Extract(ctx context.Context, task Task) ([]BusinessRecord, error)
}

// CountProbe cheaply reads the advertised company count for a postcode
// before a browser session is spent on it.
type CountProbe interface {
	CompanyCount(ctx context.Context, key string) (int, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
