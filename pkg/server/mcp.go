package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/searxng-scraper/pkg/search"
)

// MCPSession represents an MCP session
type MCPSession struct {
	ID      string
	Created int64
}

var (
	mcpSessions = make(map[string]*MCPSession)
	sessionMu   sync.RWMutex
)

// MCPRequest represents an MCP JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MCPHandler handles MCP protocol requests
func (h *Handler) MCPHandler(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &MCPError{
				Code:    -32700,
				Message: "Parse error",
			},
		})
		return
	}

	// Handle initialize request
	if req.Method == "initialize" {
		if sessionID == "" {
			sessionID = uuid.New().String()
			c.Header("Mcp-Session-Id", sessionID)

			sessionMu.Lock()
			mcpSessions[sessionID] = &MCPSession{
				ID:      sessionID,
				Created: time.Now().Unix(),
			}
			sessionMu.Unlock()
		}

		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"serverInfo": map[string]interface{}{
					"name":    "searxng-scraper-mcp",
					"version": "1.0.0",
				},
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
			},
		})
		return
	}

	// Validate session for other requests
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Bad Request: No valid session ID provided",
			},
		})
		return
	}

	sessionMu.RLock()
	_, exists := mcpSessions[sessionID]
	sessionMu.RUnlock()

	if !exists {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Invalid session ID",
			},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		h.handleToolsList(c, req)
	case "tools/call":
		h.handleToolsCall(c, req)
	case "ping":
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		})
	default:
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: "Method not found",
			},
		})
	}
}

func (h *Handler) handleToolsList(c *gin.Context, req MCPRequest) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": []map[string]interface{}{
				{
					"name":        "search_results",
					"description": "Filter the accumulated search results by text, domain, file type, date range, and platform.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"search": map[string]interface{}{
								"type":        "string",
								"description": "Substring to match against title, description, and URL.",
							},
							"domain": map[string]interface{}{
								"type":        "string",
								"description": "Substring to match against the result domain.",
							},
							"file_type": map[string]interface{}{
								"type":        "string",
								"description": "Exact file type, e.g. pdf or spreadsheet.",
							},
							"date_from": map[string]interface{}{
								"type":        "string",
								"description": "Earliest discovery date, YYYY-MM-DD.",
							},
							"date_to": map[string]interface{}{
								"type":        "string",
								"description": "Latest discovery date (inclusive), YYYY-MM-DD.",
							},
							"platforms": map[string]interface{}{
								"type":        "array",
								"items":       map[string]interface{}{"type": "string"},
								"description": "Platform filters: docs, drive.",
							},
							"limit": map[string]interface{}{
								"type":        "number",
								"description": "Maximum number of results to return.",
								"default":     20,
							},
						},
					},
				},
				{
					"name":        "top_domains",
					"description": "List the domains with the most stored results.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"limit": map[string]interface{}{
								"type":        "number",
								"description": "The number of domains to return.",
								"default":     10,
							},
						},
					},
				},
			},
		},
	})
}

type searchResultsArgs struct {
	Search    string   `json:"search"`
	Domain    string   `json:"domain"`
	FileType  string   `json:"file_type"`
	DateFrom  string   `json:"date_from"`
	DateTo    string   `json:"date_to"`
	Platforms []string `json:"platforms"`
	Limit     int      `json:"limit"`
}

func (h *Handler) handleToolsCall(c *gin.Context, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32602,
				Message: "Invalid params",
			},
		})
		return
	}

	switch params.Name {
	case "search_results":
		var args searchResultsArgs
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				h.sendError(c, req.ID, -32602, "Invalid arguments")
				return
			}
		}
		h.sendResult(c, req.ID, h.callSearchResults(args))

	case "top_domains":
		var args struct {
			Limit int `json:"limit"`
		}
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				h.sendError(c, req.ID, -32602, "Invalid arguments")
				return
			}
		}
		if args.Limit < 1 {
			args.Limit = 10
		}
		domains, err := h.Service.DB.TopDomains(c.Request.Context(), args.Limit)
		if err != nil {
			h.sendError(c, req.ID, -32603, err.Error())
			return
		}
		var text string
		for _, d := range domains {
			text += fmt.Sprintf("%s: %d\n", d.Key, d.Count)
		}
		if text == "" {
			text = "No results stored yet."
		}
		h.sendResult(c, req.ID, text)

	default:
		h.sendError(c, req.ID, -32601, fmt.Sprintf("Tool not found: %s", params.Name))
	}
}

func (h *Handler) callSearchResults(args searchResultsArgs) string {
	spec := search.FilterSpec{
		SearchText: args.Search,
		Domain:     args.Domain,
		FileType:   args.FileType,
	}
	if t, err := time.Parse("2006-01-02", args.DateFrom); err == nil {
		spec.DateFrom = t
	}
	if t, err := time.Parse("2006-01-02", args.DateTo); err == nil {
		spec.DateTo = t
	}
	for _, p := range args.Platforms {
		switch p {
		case "docs":
			spec.Platforms = append(spec.Platforms, search.PlatformDocs)
		case "drive":
			spec.Platforms = append(spec.Platforms, search.PlatformDrive)
		}
	}

	results := h.Service.FilteredResults(spec)
	limit := args.Limit
	if limit < 1 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}

	if len(results) == 0 {
		return "No matching results."
	}
	var text string
	for _, r := range results {
		text += fmt.Sprintf("%s\n%s\n", r.Title, r.URL)
		if r.FileType != "" {
			text += fmt.Sprintf("type: %s\n", r.FileType)
		}
		text += "\n"
	}
	return text
}

func (h *Handler) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: msg,
		},
	})
}

func (h *Handler) sendResult(c *gin.Context, id interface{}, text string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": text,
				},
			},
		},
	})
}
