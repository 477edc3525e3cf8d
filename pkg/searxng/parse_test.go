package searxng

import (
	"strings"
	"testing"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<div id="results">
  <article class="result result-default">
    <h3><a href="https://x.org/budget.pdf">Annual <strong>Budget</strong> 2025</a></h3>
    <p>The complete fiscal year budget.</p>
    <div class="engines"><span>google</span><span>bing</span></div>
  </article>
  <article class="result">
    <h3><a href="https://docs.google.com/document/d/abc">Meeting Notes</a></h3>
    <p>Shared planning document.</p>
    <div class="engines"><span>duckduckgo</span></div>
  </article>
  <article class="result">
    <h3><a href="">Broken entry</a></h3>
  </article>
</div>
</body></html>`

func TestParseResults(t *testing.T) {
	results, err := parseResults(strings.NewReader(resultsPage))
	if err != nil {
		t.Fatalf("parseResults() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	first := results[0]
	if first.Title != "Annual Budget 2025" {
		t.Errorf("title = %q, want %q", first.Title, "Annual Budget 2025")
	}
	if first.URL != "https://x.org/budget.pdf" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Description != "The complete fiscal year budget." {
		t.Errorf("description = %q", first.Description)
	}
	if first.Domain != "x.org" {
		t.Errorf("domain = %q, want x.org", first.Domain)
	}
	if first.FileType != "pdf" {
		t.Errorf("file type = %q, want pdf", first.FileType)
	}
	if len(first.Engines) != 2 || first.Engines[0] != "google" || first.Engines[1] != "bing" {
		t.Errorf("engines = %v, want [google bing]", first.Engines)
	}

	second := results[1]
	if !second.IsGoogleDoc || !second.IsGoogleDrive {
		t.Errorf("google doc flags = doc:%v drive:%v, want both true", second.IsGoogleDoc, second.IsGoogleDrive)
	}
	if second.FileType != "google_doc" {
		t.Errorf("file type = %q, want google_doc", second.FileType)
	}
}

func TestParseResultsEmptyPage(t *testing.T) {
	results, err := parseResults(strings.NewReader("<html><body><div id=\"results\"></div></body></html>"))
	if err != nil {
		t.Fatalf("parseResults() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestIdentifyFileType(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		title string
		want  string
	}{
		{"PDF", "https://x.org/report.pdf", "Report", "pdf"},
		{"Word document", "https://x.org/a.docx", "A", "document"},
		{"Spreadsheet", "https://x.org/sheet.XLSX?dl=1", "Sheet", "spreadsheet"},
		{"Archive", "https://x.org/data.zip", "Data", "archive"},
		{"Google Doc", "https://docs.google.com/document/d/1", "Doc", "google_doc"},
		{"Google Drive", "https://drive.google.com/file/d/1", "File", "google_drive"},
		{"Title marker", "https://x.org/page", "[PDF] Scanned Report", "unknown"},
		{"Plain page", "https://x.org/about", "About us", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := identifyFileType(tt.url, tt.title); got != tt.want {
				t.Errorf("identifyFileType(%q, %q) = %q, want %q", tt.url, tt.title, got, tt.want)
			}
		})
	}
}
