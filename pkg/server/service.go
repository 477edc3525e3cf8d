package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/searxng-scraper/pkg/config"
	"github.com/mikeboe/searxng-scraper/pkg/database"
	"github.com/mikeboe/searxng-scraper/pkg/search"
	"github.com/mikeboe/searxng-scraper/pkg/searxng"
)

// Service owns the shared result corpus and the lifecycle of batch runs.
// The corpus outlives individual batches: successive batches append to it
// until an explicit reset.
type Service struct {
	DB  *database.PostgresDB
	Cfg *config.Config

	acc *search.Accumulator

	// runMu serializes dispatch loops: at most one query is running
	// process-wide, even when submissions overlap. Later submissions queue
	// behind the running batch.
	runMu sync.Mutex

	mu   sync.RWMutex
	live map[uuid.UUID]*liveBatch

	// How long a finished batch stays in the live map so clients can still
	// read its final events before status reads fall back to the database.
	retainFinished time.Duration
}

func NewService(db *database.PostgresDB, cfg *config.Config) *Service {
	return &Service{
		DB:             db,
		Cfg:            cfg,
		acc:            search.NewAccumulator(),
		live:           make(map[uuid.UUID]*liveBatch),
		retainFinished: 5 * time.Minute,
	}
}

// liveBatch tracks one in-flight (or recently finished) batch run in memory.
type liveBatch struct {
	record *database.BatchRecord
	batch  *search.Batch
	cancel context.CancelFunc

	mu     sync.Mutex
	events []search.ProgressEvent
	subs   map[int]chan search.ProgressEvent
	nextID int
	done   bool
}

func (lb *liveBatch) broadcast(ev search.ProgressEvent) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.events = append(lb.events, ev)
	for _, ch := range lb.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than stall the dispatch loop.
		}
	}
}

func (lb *liveBatch) finish() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.done = true
	for id, ch := range lb.subs {
		close(ch)
		delete(lb.subs, id)
	}
}

// subscribe returns already-emitted events plus a channel of future ones.
// The channel is closed when the batch finishes.
func (lb *liveBatch) subscribe() ([]search.ProgressEvent, <-chan search.ProgressEvent, func()) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	replay := make([]search.ProgressEvent, len(lb.events))
	copy(replay, lb.events)

	if lb.done {
		closed := make(chan search.ProgressEvent)
		close(closed)
		return replay, closed, func() {}
	}

	ch := make(chan search.ProgressEvent, 16)
	id := lb.nextID
	lb.nextID++
	lb.subs[id] = ch

	unsubscribe := func() {
		lb.mu.Lock()
		defer lb.mu.Unlock()
		if _, ok := lb.subs[id]; ok {
			close(ch)
			delete(lb.subs, id)
		}
	}
	return replay, ch, unsubscribe
}

// SubmitRequest is one raw batch submission.
type SubmitRequest struct {
	Queries    string   `json:"queries" binding:"required"`
	MaxPages   int      `json:"max_pages"`
	Language   string   `json:"language"`
	SafeSearch int      `json:"safesearch"`
	TimeRange  string   `json:"time_range"`
	FileTypes  []string `json:"file_types"`
}

// SubmitBatch validates and stores the batch, then starts the dispatch loop
// in a background goroutine. Validation errors (empty batch) surface before
// any dispatch begins.
func (s *Service) SubmitBatch(ctx context.Context, req SubmitRequest) (*database.BatchRecord, error) {
	batch, err := search.ParseBatch(req.Queries)
	if err != nil {
		return nil, err
	}

	record, err := s.DB.CreateBatch(ctx, req.Queries, batch.Progress.Queries())
	if err != nil {
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lb := &liveBatch{
		record: record,
		batch:  batch,
		cancel: cancel,
		subs:   make(map[int]chan search.ProgressEvent),
	}

	s.mu.Lock()
	s.live[record.ID] = lb
	s.mu.Unlock()

	opts := search.Options{
		PerQueryTimeout: s.Cfg.PerQueryTimeout,
		InterQueryDelay: s.Cfg.InterQueryDelay,
		MaxPages:        req.MaxPages,
		Language:        req.Language,
		SafeSearch:      req.SafeSearch,
		TimeRange:       req.TimeRange,
		FileTypes:       req.FileTypes,
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = s.Cfg.MaxPages
	}
	if opts.Language == "" {
		opts.Language = s.Cfg.Language
	}

	go s.runWorker(runCtx, lb, opts)

	return record, nil
}

// activeClients assembles one client per active instance, falling back to the
// configured default instance when the database has none.
func (s *Service) activeClients(ctx context.Context, logger *slog.Logger) ([]*searxng.Client, error) {
	records, err := s.DB.GetActiveInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}

	var clients []*searxng.Client
	for _, rec := range records {
		clients = append(clients, searxng.NewClient(rec.Instance(), s.Cfg.PageDelay, logger))
	}
	if len(clients) == 0 {
		fallback := searxng.Instance{Name: "default", URL: s.Cfg.DefaultInstanceURL, IsActive: true}
		clients = append(clients, searxng.NewClient(fallback, s.Cfg.PageDelay, logger))
	}
	return clients, nil
}

func (s *Service) buildBackend(ctx context.Context, logger *slog.Logger) (search.Backend, error) {
	clients, err := s.activeClients(ctx, logger)
	if err != nil {
		return nil, err
	}
	return searxng.NewMultiClient(clients, logger), nil
}

// Suggestions asks the configured instances for completions of a partial
// query, returning the first instance's answer.
func (s *Service) Suggestions(ctx context.Context, query string) ([]string, error) {
	clients, err := s.activeClients(ctx, nil)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, c := range clients {
		suggestions, err := c.Suggestions(ctx, query)
		if err != nil {
			lastErr = err
			continue
		}
		return suggestions, nil
	}
	return nil, lastErr
}

func (s *Service) runWorker(ctx context.Context, lb *liveBatch, opts search.Options) {
	bg := context.Background()
	batchID := lb.record.ID
	dbLogger := slog.New(NewDBLogHandler(s.DB, batchID))

	_ = s.DB.UpdateBatchStatus(bg, batchID, "running", 0)

	backend, err := s.buildBackend(bg, dbLogger)
	if err != nil {
		dbLogger.Error("failed to build backend", "error", err)
		lb.finish()
		_ = s.DB.UpdateBatchStatus(bg, batchID, "failed", 0)
		s.evictAfter(batchID, s.retainFinished)
		return
	}

	contributed := s.runEngine(ctx, lb, backend, opts, dbLogger, func(ev search.ProgressEvent) {
		if err := s.DB.UpdateQueryStatus(bg, batchID, ev.QueryIndex, ev.Status, ev.ResultsAdded); err != nil {
			dbLogger.Error("failed to persist query status", "index", ev.QueryIndex, "error", err)
		}
	})

	if err := s.DB.StoreResults(bg, batchID, contributed); err != nil {
		dbLogger.Error("failed to store results", "error", err)
	}

	summary := lb.batch.Progress.Summary()
	status := "completed"
	switch {
	case !lb.batch.Progress.IsComplete():
		status = "cancelled"
	case summary.Completed == 0:
		// A batch counts as successful when at least one query completed.
		status = "failed"
	}
	_ = s.DB.UpdateBatchStatus(bg, batchID, status, len(contributed))
	s.evictAfter(batchID, s.retainFinished)
}

// runEngine executes one batch's dispatch loop under the run gate and returns
// the batch's own contribution. Attribution comes from the engine's merges,
// not from corpus offsets, so queued batches and corpus resets cannot
// misattribute rows.
func (s *Service) runEngine(ctx context.Context, lb *liveBatch, backend search.Backend, opts search.Options, logger *slog.Logger, onEvent func(search.ProgressEvent)) []search.Result {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	engine := search.NewEngine(backend, s.acc, opts, logger)
	for ev := range engine.Run(ctx, lb.batch) {
		onEvent(ev)
		lb.broadcast(ev)
	}
	lb.finish()
	return lb.batch.Contributed
}

// evictAfter drops a finished batch from the live map after a grace period;
// status reads for it then come from the database.
func (s *Service) evictAfter(id uuid.UUID, d time.Duration) {
	time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.live, id)
		s.mu.Unlock()
	})
}

// BatchStatus is a point-in-time view of one batch.
type BatchStatus struct {
	Batch      *database.BatchRecord  `json:"batch"`
	Summary    search.Summary         `json:"summary"`
	IsComplete bool                   `json:"is_complete"`
	Queries    []database.QueryRecord `json:"queries"`
}

// GetStatus reads live state when the batch is in memory and falls back to
// the database for older batches.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*BatchStatus, error) {
	record, err := s.DB.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	lb, ok := s.live[id]
	s.mu.RUnlock()

	if ok {
		queries := lb.batch.Progress.Queries()
		records := make([]database.QueryRecord, len(queries))
		for i, q := range queries {
			records[i] = database.QueryRecord{
				Position:     i,
				QueryText:    q.Text,
				Status:       string(q.Status),
				ResultsAdded: q.ResultsAdded,
			}
		}
		return &BatchStatus{
			Batch:      record,
			Summary:    lb.batch.Progress.Summary(),
			IsComplete: lb.batch.Progress.IsComplete(),
			Queries:    records,
		}, nil
	}

	queries, err := s.DB.ListBatchQueries(ctx, id)
	if err != nil {
		return nil, err
	}
	var summary search.Summary
	for _, q := range queries {
		switch search.QueryStatus(q.Status) {
		case search.StatusPending:
			summary.Pending++
		case search.StatusRunning:
			summary.Running++
		case search.StatusCompleted:
			summary.Completed++
		case search.StatusFailed:
			summary.Failed++
		case search.StatusTimedOut:
			summary.TimedOut++
		}
	}
	return &BatchStatus{
		Batch:      record,
		Summary:    summary,
		IsComplete: summary.Pending == 0 && summary.Running == 0,
		Queries:    queries,
	}, nil
}

// Subscribe attaches to a live batch's progress stream. The replay slice
// carries events emitted before the subscription.
func (s *Service) Subscribe(id uuid.UUID) ([]search.ProgressEvent, <-chan search.ProgressEvent, func(), bool) {
	s.mu.RLock()
	lb, ok := s.live[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, nil, false
	}
	replay, ch, unsubscribe := lb.subscribe()
	return replay, ch, unsubscribe, true
}

// Cancel stops a live batch from launching further queries. Completed
// queries keep their state; the in-flight query runs out its own timeout.
func (s *Service) Cancel(id uuid.UUID) bool {
	s.mu.RLock()
	lb, ok := s.live[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	lb.cancel()
	return true
}

// FilteredResults evaluates the facet filter over the live corpus snapshot.
func (s *Service) FilteredResults(spec search.FilterSpec) []search.Result {
	return search.ApplyFilter(s.acc.Snapshot(), spec)
}

// CorpusSize returns the number of deduplicated results held in memory.
func (s *Service) CorpusSize() int {
	return s.acc.Len()
}

// ResetCorpus discards the in-memory result set. Stored results are kept.
func (s *Service) ResetCorpus() {
	s.acc.Reset()
}
