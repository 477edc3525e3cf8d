package search

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Engine drives a batch of queries against a search backend, one query at a
// time. Exactly one backend call is in flight at any moment so that shared
// public instances are never hammered and progress stays attributable to a
// single query.
type Engine struct {
	backend Backend
	acc     *Accumulator
	opts    Options
	logger  *slog.Logger
}

func NewEngine(backend Backend, acc *Accumulator, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: backend,
		acc:     acc,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// Accumulator returns the corpus this engine merges into.
func (e *Engine) Accumulator() *Accumulator {
	return e.acc
}

// Run dispatches the batch and returns a channel of progress events, one per
// query, emitted in query-index order. The channel is closed when the batch
// drains or ctx is cancelled.
//
// A failed or timed-out query never aborts the batch. Cancellation is
// cooperative: it is checked before each dispatch, so remaining queries stay
// pending and completed queries are untouched. An in-flight backend call is
// not interrupted by cancellation; it still runs out its own timeout.
func (e *Engine) Run(ctx context.Context, batch *Batch) <-chan ProgressEvent {
	events := make(chan ProgressEvent, len(batch.Queries))
	go func() {
		defer close(events)
		e.run(ctx, batch, events)
	}()
	return events
}

func (e *Engine) run(ctx context.Context, batch *Batch, events chan<- ProgressEvent) {
	batch.StartedAt = time.Now()
	e.logger.Info("batch started", "queries", len(batch.Queries))

	for i, q := range batch.Queries {
		if ctx.Err() != nil {
			e.logger.Info("batch cancelled", "completed", i, "remaining", len(batch.Queries)-i)
			return
		}

		batch.Progress.markRunning(i)
		e.logger.Info("dispatching query", "index", i, "query", q.Text)

		newResults, status := e.dispatch(ctx, i, q.Text)
		added := len(newResults)
		batch.Contributed = append(batch.Contributed, newResults...)
		batch.Progress.markTerminal(i, status, added)

		events <- ProgressEvent{
			QueryIndex:       i,
			QueryText:        q.Text,
			Status:           status,
			ResultsAdded:     added,
			TotalAccumulated: e.acc.Len(),
		}

		if i < len(batch.Queries)-1 {
			select {
			case <-ctx.Done():
				e.logger.Info("batch cancelled during pacing", "completed", i+1)
				return
			case <-time.After(e.opts.InterQueryDelay):
			}
		}
	}

	batch.FinishedAt = time.Now()
	s := batch.Progress.Summary()
	e.logger.Info("batch complete",
		"completed", s.Completed, "failed", s.Failed, "timed_out", s.TimedOut,
		"accumulated", e.acc.Len())
}

type backendReply struct {
	results []Result
	err     error
}

// dispatch runs one backend call under a hard timeout and returns the
// results it added to the corpus. On timeout the in-flight call is abandoned,
// not waited on; a response that arrives after the timeout resolved the query
// is discarded and never merged.
func (e *Engine) dispatch(ctx context.Context, index int, query string) ([]Result, QueryStatus) {
	// The per-query timeout is detached from the batch context: cancelling
	// the batch must not interrupt an already-running call.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.PerQueryTimeout)
	defer cancel()

	replyCh := make(chan backendReply, 1)
	go func() {
		results, err := e.backend.Execute(callCtx, query, e.opts)
		replyCh <- backendReply{results: results, err: err}
	}()

	select {
	case reply := <-replyCh:
		if reply.err != nil {
			if errors.Is(reply.err, context.DeadlineExceeded) {
				e.logger.Warn("query timed out", "index", index, "query", query)
				return nil, StatusTimedOut
			}
			e.logger.Warn("query failed", "index", index, "query", query, "error", reply.err)
			return nil, StatusFailed
		}
		newResults := e.acc.Merge(index, reply.results)
		e.logger.Info("query completed",
			"index", index, "results", len(reply.results), "new", len(newResults))
		return newResults, StatusCompleted

	case <-callCtx.Done():
		e.logger.Warn("query timed out", "index", index, "query", query)
		return nil, StatusTimedOut
	}
}
