package search

import (
	"strings"
	"time"
)

// Platform is one of the Google platform facets.
type Platform string

const (
	PlatformDocs  Platform = "docs"
	PlatformDrive Platform = "drive"
)

// FilterSpec is a snapshot of active facets. Zero-valued fields impose no
// constraint. All set facets must match (logical AND).
type FilterSpec struct {
	SearchText string
	Domain     string
	FileType   string
	DateFrom   time.Time
	DateTo     time.Time
	Platforms  []Platform
}

// ApplyFilter evaluates the facets over a result snapshot. It is a pure
// function: no I/O, inputs are not mutated, relative order is preserved, and
// applying the same spec twice yields the same output.
func ApplyFilter(results []Result, spec FilterSpec) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if spec.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

func (spec FilterSpec) matches(r Result) bool {
	if spec.SearchText != "" {
		haystack := strings.ToLower(r.Title + " " + r.Description + " " + r.URL)
		if !strings.Contains(haystack, strings.ToLower(spec.SearchText)) {
			return false
		}
	}

	if spec.FileType != "" && !strings.EqualFold(spec.FileType, r.FileType) {
		return false
	}

	if spec.Domain != "" && !strings.Contains(strings.ToLower(r.Domain), strings.ToLower(spec.Domain)) {
		return false
	}

	if !spec.DateFrom.IsZero() && r.CreatedAt.Before(startOfDay(spec.DateFrom)) {
		return false
	}
	if !spec.DateTo.IsZero() && r.CreatedAt.After(endOfDay(spec.DateTo)) {
		return false
	}

	if len(spec.Platforms) > 0 && !matchesAnyPlatform(r, spec.Platforms) {
		return false
	}

	return true
}

func matchesAnyPlatform(r Result, platforms []Platform) bool {
	domain := strings.ToLower(r.Domain)
	for _, p := range platforms {
		switch p {
		case PlatformDocs:
			if r.IsGoogleDoc || strings.Contains(domain, "docs.google.com") || strings.Contains(domain, "drive.google.com") {
				return true
			}
		case PlatformDrive:
			if r.IsGoogleDrive || strings.Contains(domain, "drive.google.com") {
				return true
			}
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// endOfDay rounds up to 23:59:59.999 so the date-to facet is inclusive.
func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}
