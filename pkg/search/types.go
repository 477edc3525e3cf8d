package search

import (
	"context"
	"time"
)

// QueryStatus is the lifecycle state of a single query. Transitions are
// monotonic: pending -> running -> one of the terminal states.
type QueryStatus string

const (
	StatusPending   QueryStatus = "pending"
	StatusRunning   QueryStatus = "running"
	StatusCompleted QueryStatus = "completed"
	StatusFailed    QueryStatus = "failed"
	StatusTimedOut  QueryStatus = "timed_out"
)

// IsTerminal reports whether no further transition can occur.
func (s QueryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// Query is one search string plus its lifecycle state within a batch.
type Query struct {
	Text         string      `json:"text"`
	Status       QueryStatus `json:"status"`
	ResultsAdded int         `json:"results_added"`
}

// Result is one discovered item returned by the backend.
type Result struct {
	Title            string    `json:"title"`
	URL              string    `json:"url"`
	Description      string    `json:"description"`
	Domain           string    `json:"domain"`
	FileType         string    `json:"file_type,omitempty"`
	Engines          []string  `json:"engines"`
	IsGoogleDoc      bool      `json:"is_google_doc"`
	IsGoogleDrive    bool      `json:"is_google_drive"`
	CreatedAt        time.Time `json:"created_at"`
	SourceQueryIndex int       `json:"source_query_index"`
}

// Batch is the unit of work for one orchestration run. Queries keep their
// input order and are never reordered.
type Batch struct {
	Queries    []*Query
	Progress   *Tracker
	StartedAt  time.Time
	FinishedAt time.Time

	// Contributed holds the results this batch itself added to the corpus,
	// in merge order. Filled by the engine; duplicates of entries already in
	// the corpus never appear here.
	Contributed []Result
}

// ProgressEvent is emitted after each query reaches a terminal state.
type ProgressEvent struct {
	QueryIndex       int         `json:"query_index"`
	QueryText        string      `json:"query_text"`
	Status           QueryStatus `json:"status"`
	ResultsAdded     int         `json:"results_added"`
	TotalAccumulated int         `json:"total_accumulated"`
}

// Options carries dispatch tuning plus backend options passed through
// unchanged to the search backend.
type Options struct {
	PerQueryTimeout time.Duration
	InterQueryDelay time.Duration

	// Backend pass-through.
	MaxPages   int
	Language   string
	SafeSearch int
	TimeRange  string
	FileTypes  []string
}

const (
	DefaultPerQueryTimeout = 60 * time.Second
	DefaultInterQueryDelay = 750 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.PerQueryTimeout <= 0 {
		o.PerQueryTimeout = DefaultPerQueryTimeout
	}
	if o.InterQueryDelay <= 0 {
		o.InterQueryDelay = DefaultInterQueryDelay
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 3
	}
	if o.Language == "" {
		o.Language = "en"
	}
	return o
}

// Backend executes a single query against an external search service.
// Implementations must honor ctx cancellation and deadlines.
type Backend interface {
	Execute(ctx context.Context, query string, opts Options) ([]Result, error)
}
