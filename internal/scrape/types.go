// Package scrape defines core types shared across subsystems.
package scrape

import (
	"fmt"
	"time"
)

// Granularity selects the unit of work the driver dispatches.
type Granularity string

// Supported crawl granularities.
const (
	GranularityOutward Granularity = "outward"
	GranularityFull    Granularity = "full"
)

// Task is a single postcode-level unit of work. Inward is empty for
// outward-only tasks.
type Task struct {
	Outward string
	Inward  string
}

// Key returns the natural key persisted with every record extracted for
// this task ("SE14" or "SE14-6AB").
func (t Task) Key() string {
	if t.Inward == "" {
		return t.Outward
	}
	return t.Outward + "-" + t.Inward
}

// BusinessRecord is one parsed row from a listing results table. Pointer
// fields are nullable; the portal renders missing values as an en-dash.
type BusinessRecord struct {
	Company   string
	Status    string
	NetAssets *int64
	Turnover  *int64
	Name      string
	RegNo     string
	Type      string
	Size      string
	Employees string
	Adversity *float64
	Accounts  *float64
	Directors string

	Incorporation    *time.Time
	AccountsYearEnd  *time.Time
	AccountsDueBy    *time.Time
	AccountsLastMade *time.Time

	Website string
	Address string
	County  string
	SICCode string

	CurrentAssets      *int64
	TotalAssets        *int64
	CurrentLiabilities *int64
	TotalLiabilities   *int64

	CurrentAssetsPct       *float64
	FixedAssetsPct         *float64
	TotalAssetsPct         *float64
	NetAssetsPct           *float64
	CurrentLiabilitiesPct  *float64
	LongTermLiabilitiesPct *float64
	TotalLiabilitiesPct    *float64
	TurnoverPct            *float64

	Postcode  string
	ScrapedAt time.Time
}

// RunCounters tracks per-run task outcomes.
type RunCounters struct {
	TasksSkipped   int
	TasksSucceeded int
	TasksFailed    int
	RecordsStored  int
}

// ScrapeError wraps a per-task extraction failure with its source key and
// pipeline stage.
type ScrapeError struct {
	Key   string
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %s: %v", e.Key, e.Stage, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError builds a ScrapeError for the given task key and stage.
func NewScrapeError(key, stage string, err error) *ScrapeError {
	return &ScrapeError{Key: key, Stage: stage, Err: err}
}
