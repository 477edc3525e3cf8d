package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/mikeboe/searxng-scraper/pkg/search"
)

func filterContext(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/results?"+rawQuery, nil)
	return c
}

func TestParseFilterSpec(t *testing.T) {
	spec := parseFilterSpec(filterContext(t, "search=budget&domain=example.org&file_type=pdf&date_from=2024-01-15&date_to=2024-02-20&platforms=docs,drive"))

	assert.Equal(t, "budget", spec.SearchText)
	assert.Equal(t, "example.org", spec.Domain)
	assert.Equal(t, "pdf", spec.FileType)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), spec.DateFrom)
	assert.Equal(t, time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC), spec.DateTo)
	assert.Equal(t, []search.Platform{search.PlatformDocs, search.PlatformDrive}, spec.Platforms)
}

func TestParseFilterSpecEmpty(t *testing.T) {
	spec := parseFilterSpec(filterContext(t, ""))

	assert.Zero(t, spec.SearchText)
	assert.True(t, spec.DateFrom.IsZero())
	assert.True(t, spec.DateTo.IsZero())
	assert.Empty(t, spec.Platforms)
}

func TestParseFilterSpecIgnoresBadDates(t *testing.T) {
	spec := parseFilterSpec(filterContext(t, "date_from=yesterday&date_to=2024-13-99&platforms=unknown"))

	assert.True(t, spec.DateFrom.IsZero())
	assert.True(t, spec.DateTo.IsZero())
	assert.Empty(t, spec.Platforms)
}
