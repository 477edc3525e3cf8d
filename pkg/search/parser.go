package search

import (
	"errors"
	"strings"
)

// ErrEmptyBatch is returned when the raw input contains no usable queries.
var ErrEmptyBatch = errors.New("batch contains no queries")

// ParseBatch turns a raw multi-line blob into an ordered batch of pending
// queries. Lines are trimmed, empty lines are dropped, and duplicate lines
// are kept: the same query dispatched twice may surface different results.
func ParseBatch(raw string) (*Batch, error) {
	var queries []*Query
	for _, line := range strings.Split(raw, "\n") {
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		queries = append(queries, &Query{Text: text, Status: StatusPending})
	}

	if len(queries) == 0 {
		return nil, ErrEmptyBatch
	}

	return &Batch{
		Queries:  queries,
		Progress: NewTracker(queries),
	}, nil
}
