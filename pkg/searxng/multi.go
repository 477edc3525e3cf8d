package searxng

import (
	"context"
	"log/slog"

	"github.com/mikeboe/searxng-scraper/pkg/search"
)

// MultiClient fans one query across several instances, one instance at a
// time, and concatenates their results. An instance failure is logged and
// skipped; the call itself fails only when every instance fails.
type MultiClient struct {
	clients []*Client
	logger  *slog.Logger
}

func NewMultiClient(clients []*Client, logger *slog.Logger) *MultiClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiClient{clients: clients, logger: logger}
}

func (m *MultiClient) Execute(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	var (
		all       []search.Result
		lastErr   error
		succeeded int
	)

	for _, c := range m.clients {
		results, err := c.Execute(ctx, query, opts)
		if err != nil {
			m.logger.Warn("instance search failed",
				"instance", c.instance.Name, "query", query, "error", err)
			lastErr = err
			continue
		}
		all = append(all, results...)
		succeeded++
	}

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}
