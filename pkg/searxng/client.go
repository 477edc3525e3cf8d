package searxng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mikeboe/searxng-scraper/pkg/search"
)

const defaultUserAgent = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Mobile Safari/537.36"

// Instance is one Searxng endpoint.
type Instance struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	IsActive bool   `json:"is_active"`
}

// Client talks to a single Searxng instance. It implements search.Backend:
// one Execute call covers all result pages for one query, paced by a token
// bucket so the instance is not hammered between page fetches.
type Client struct {
	instance Instance
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func NewClient(instance Instance, pageDelay time.Duration, logger *slog.Logger) *Client {
	if pageDelay <= 0 {
		pageDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		instance: instance,
		http:     &http.Client{},
		limiter:  rate.NewLimiter(rate.Every(pageDelay), 1),
		logger:   logger,
	}
}

// Execute fetches up to opts.MaxPages of results for one query. Pagination
// stops early on an empty page. Page 1 is a GET with URL parameters; later
// pages are form POSTs, matching Searxng's own pager.
func (c *Client) Execute(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	var all []search.Result

	for page := 1; page <= opts.MaxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.wrapError(err, page)
		}

		results, err := c.fetchPage(ctx, query, opts, page)
		if err != nil {
			// A mid-pagination failure fails the whole query; results from
			// earlier pages are discarded with it.
			return nil, err
		}
		if len(results) == 0 {
			c.logger.Debug("no results, stopping pagination",
				"instance", c.instance.Name, "query", query, "page", page)
			break
		}

		all = append(all, results...)
		c.logger.Debug("page fetched",
			"instance", c.instance.Name, "query", query, "page", page, "results", len(results))
	}

	if len(opts.FileTypes) > 0 {
		all = filterFileTypes(all, opts.FileTypes)
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, query string, opts search.Options, page int) ([]search.Result, error) {
	endpoint, err := url.JoinPath(c.instance.URL, "search")
	if err != nil {
		return nil, &BackendError{Kind: KindConnection, Instance: c.instance.Name, Detail: "bad instance url", Err: err}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", opts.Language)
	params.Set("safesearch", strconv.Itoa(opts.SafeSearch))
	params.Set("pageno", strconv.Itoa(page))
	params.Set("time_range", opts.TimeRange)
	params.Set("category_general", "1")
	params.Set("theme", "simple")

	var req *http.Request
	if page == 1 {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Origin", c.instance.URL)
		}
	}
	if err != nil {
		return nil, &BackendError{Kind: KindConnection, Instance: c.instance.Name, Detail: "building request", Err: err}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.wrapError(err, page)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := KindConnection
		if resp.StatusCode >= http.StatusInternalServerError {
			kind = KindServer
		}
		return nil, &BackendError{
			Kind:     kind,
			Instance: c.instance.Name,
			Detail:   fmt.Sprintf("HTTP %d on page %d", resp.StatusCode, page),
		}
	}

	results, err := parseResults(resp.Body)
	if err != nil {
		return nil, &BackendError{Kind: KindServer, Instance: c.instance.Name, Detail: "parsing results", Err: err}
	}
	return results, nil
}

func (c *Client) wrapError(err error, page int) error {
	kind := KindConnection
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &BackendError{
		Kind:     kind,
		Instance: c.instance.Name,
		Detail:   fmt.Sprintf("page %d", page),
		Err:      err,
	}
}

// TestInstance checks whether the instance answers a trivial search with a
// recognizable results page.
func (c *Client) TestInstance(ctx context.Context) error {
	results, err := c.fetchPage(ctx, "test", search.Options{MaxPages: 1, Language: "en", SafeSearch: 1}, 1)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return &BackendError{Kind: KindServer, Instance: c.instance.Name, Detail: "no results container in response"}
	}
	return nil
}

// Suggestions asks the instance's autocompleter for completions of a partial
// query. The endpoint answers in OpenSearch form: [query, [suggestions]].
func (c *Client) Suggestions(ctx context.Context, query string) ([]string, error) {
	endpoint, err := url.JoinPath(c.instance.URL, "autocompleter")
	if err != nil {
		return nil, &BackendError{Kind: KindConnection, Instance: c.instance.Name, Detail: "bad instance url", Err: err}
	}

	params := url.Values{}
	params.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &BackendError{Kind: KindConnection, Instance: c.instance.Name, Detail: "building request", Err: err}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := KindConnection
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &BackendError{Kind: kind, Instance: c.instance.Name, Detail: "autocompleter", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := KindConnection
		if resp.StatusCode >= http.StatusInternalServerError {
			kind = KindServer
		}
		return nil, &BackendError{
			Kind:     kind,
			Instance: c.instance.Name,
			Detail:   fmt.Sprintf("HTTP %d from autocompleter", resp.StatusCode),
		}
	}

	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &BackendError{Kind: KindServer, Instance: c.instance.Name, Detail: "parsing suggestions", Err: err}
	}

	var suggestions []string
	if len(payload) > 1 {
		if err := json.Unmarshal(payload[1], &suggestions); err != nil {
			return nil, &BackendError{Kind: KindServer, Instance: c.instance.Name, Detail: "parsing suggestions", Err: err}
		}
	}
	return suggestions, nil
}

func filterFileTypes(results []search.Result, fileTypes []string) []search.Result {
	out := make([]search.Result, 0, len(results))
	for _, r := range results {
		for _, ft := range fileTypes {
			if strings.EqualFold(r.FileType, ft) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
