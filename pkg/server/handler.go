package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/searxng-scraper/pkg/database"
	"github.com/mikeboe/searxng-scraper/pkg/search"
	"github.com/mikeboe/searxng-scraper/pkg/searxng"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.POST("/mcp", h.MCPHandler)

	api := r.Group("/api")
	{
		api.POST("/search", h.submitBatch)
		api.GET("/search/fulltext", h.fulltextSearch)
		api.GET("/search/:id/status", h.getStatus)
		api.GET("/search/:id/events", h.streamEvents)
		api.GET("/search/:id/logs", h.getLogs)
		api.POST("/search/:id/cancel", h.cancelBatch)
		api.GET("/batches", h.listBatches)

		api.GET("/suggestions", h.getSuggestions)
		api.GET("/results", h.getResults)
		api.POST("/results/reset", h.resetResults)
		api.GET("/export", h.exportResults)

		api.GET("/instances", h.listInstances)
		api.POST("/instances", h.createInstance)
		api.PUT("/instances/:id", h.updateInstance)
		api.DELETE("/instances/:id", h.deleteInstance)
		api.POST("/instances/test", h.testInstance)

		api.GET("/statistics", h.getStatistics)
		api.GET("/file-types-summary", h.getFileTypesSummary)
		api.GET("/statistics/domains", h.getTopDomains)
		api.DELETE("/cleanup", h.cleanup)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "corpus_size": h.Service.CorpusSize()})
}

func (h *Handler) submitBatch(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.Service.SubmitBatch(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, search.ErrEmptyBatch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no queries in batch"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, record)
}

func (h *Handler) getStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	status, err := h.Service.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// streamEvents replays past progress events and streams new ones as SSE
// until the batch finishes or the client disconnects.
func (h *Handler) streamEvents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	replay, events, unsubscribe, ok := h.Service.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not running"})
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	write := func(ev search.ProgressEvent) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		_, _ = c.Writer.Write([]byte("data: "))
		_, _ = c.Writer.Write(data)
		_, _ = c.Writer.Write([]byte("\n\n"))
		c.Writer.Flush()
		return true
	}

	for _, ev := range replay {
		if !write(ev) {
			return
		}
	}
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if !write(ev) {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) getLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	logs, err := h.Service.DB.BatchLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []database.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) cancelBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}
	if !h.Service.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (h *Handler) listBatches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	batches, err := h.Service.DB.RecentBatches(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if batches == nil {
		batches = []database.BatchRecord{}
	}
	c.JSON(http.StatusOK, batches)
}

// fulltextSearch matches stored results (all batches, not just the live
// corpus) against a search term.
func (h *Handler) fulltextSearch(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	results, err := h.Service.DB.FullTextSearch(c.Request.Context(), term, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

func (h *Handler) getSuggestions(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusOK, []string{})
		return
	}

	suggestions, err := h.Service.Suggestions(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	c.JSON(http.StatusOK, suggestions)
}

// parseFilterSpec reads the facet query parameters shared by the results and
// export endpoints.
func parseFilterSpec(c *gin.Context) search.FilterSpec {
	spec := search.FilterSpec{
		SearchText: c.Query("search"),
		Domain:     c.Query("domain"),
		FileType:   c.Query("file_type"),
	}

	if from := c.Query("date_from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			spec.DateFrom = t
		}
	}
	if to := c.Query("date_to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			spec.DateTo = t
		}
	}

	for _, p := range strings.Split(c.Query("platforms"), ",") {
		switch strings.TrimSpace(p) {
		case "docs":
			spec.Platforms = append(spec.Platforms, search.PlatformDocs)
		case "drive":
			spec.Platforms = append(spec.Platforms, search.PlatformDrive)
		}
	}

	return spec
}

func (h *Handler) getResults(c *gin.Context) {
	results := h.Service.FilteredResults(parseFilterSpec(c))

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	total := len(results)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"results":   results[start:end],
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *Handler) resetResults(c *gin.Context) {
	h.Service.ResetCorpus()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *Handler) exportResults(c *gin.Context) {
	results := h.Service.FilteredResults(parseFilterSpec(c))

	switch c.DefaultQuery("format", "json") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename=results.csv")

		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"title", "url", "description", "domain", "file_type", "engines", "created_at"})
		for _, r := range results {
			_ = w.Write([]string{
				r.Title, r.URL, r.Description, r.Domain, r.FileType,
				strings.Join(r.Engines, ";"), r.CreatedAt.Format(time.RFC3339),
			})
		}
		w.Flush()

	case "json":
		c.Header("Content-Disposition", "attachment; filename=results.json")
		c.JSON(http.StatusOK, results)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format"})
	}
}

type instanceRequest struct {
	Name     string `json:"name" binding:"required"`
	URL      string `json:"url" binding:"required"`
	IsActive *bool  `json:"is_active"`
}

func (r instanceRequest) active() bool {
	return r.IsActive == nil || *r.IsActive
}

func (h *Handler) listInstances(c *gin.Context) {
	instances, err := h.Service.DB.ListInstances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if instances == nil {
		instances = []database.InstanceRecord{}
	}
	c.JSON(http.StatusOK, instances)
}

func (h *Handler) createInstance(c *gin.Context) {
	var req instanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.Service.DB.AddInstance(c.Request.Context(), req.Name, req.URL, req.active())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (h *Handler) updateInstance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	var req instanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.Service.DB.UpdateInstance(c.Request.Context(), id, req.Name, req.URL, req.active())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *Handler) deleteInstance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}
	if err := h.Service.DB.DeleteInstance(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) testInstance(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client := searxng.NewClient(searxng.Instance{Name: "probe", URL: req.URL, IsActive: true}, h.Service.Cfg.PageDelay, nil)
	if err := client.TestInstance(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"working": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"working": true})
}

func (h *Handler) getStatistics(c *gin.Context) {
	stats, err := h.Service.DB.GetStatistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) getFileTypesSummary(c *gin.Context) {
	summary, err := h.Service.DB.FileTypesSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if summary == nil {
		summary = []database.CountSummary{}
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getTopDomains(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	domains, err := h.Service.DB.TopDomains(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if domains == nil {
		domains = []database.CountSummary{}
	}
	c.JSON(http.StatusOK, domains)
}

func (h *Handler) cleanup(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(h.Service.Cfg.CleanupDays)))
	if days < 1 {
		days = h.Service.Cfg.CleanupDays
	}

	deleted, err := h.Service.DB.DeleteOldResults(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_batches": deleted, "days": days})
}
