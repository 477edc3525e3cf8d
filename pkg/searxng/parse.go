package searxng

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/mikeboe/searxng-scraper/pkg/search"
)

// fileExtensions maps URL extensions to coarse file type labels.
var fileExtensions = map[string]string{
	"pdf":  "pdf",
	"doc":  "document", "docx": "document", "odt": "document",
	"xls": "spreadsheet", "xlsx": "spreadsheet", "ods": "spreadsheet",
	"ppt": "presentation", "pptx": "presentation", "odp": "presentation",
	"txt": "text", "rtf": "text",
	"zip": "archive", "rar": "archive", "7z": "archive",
	"mp3": "audio", "wav": "audio", "flac": "audio",
	"mp4": "video", "avi": "video", "mkv": "video",
	"jpg": "image", "jpeg": "image", "png": "image", "gif": "image",
}

// parseResults extracts search results from a Searxng HTML results page.
// Each result is an <article class="result"> with the title link under
// h3 > a, the description in the first <p>, and reporting engines in
// div.engines spans.
func parseResults(r io.Reader) ([]search.Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []search.Result

	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "article" && hasClass(n, "result") {
			if res, ok := parseArticle(n); ok {
				results = append(results, res)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walker(c)
		}
	}
	walker(doc)

	return results, nil
}

func parseArticle(article *html.Node) (search.Result, bool) {
	var (
		title, href, description string
		engines                  []string
	)

	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h3":
				if a := findChild(n, "a"); a != nil {
					title = strings.TrimSpace(textContent(a))
					href = attr(a, "href")
				}
			case "p":
				if description == "" {
					description = strings.TrimSpace(textContent(n))
				}
			case "div":
				if hasClass(n, "engines") {
					for span := n.FirstChild; span != nil; span = span.NextSibling {
						if span.Type == html.ElementNode && span.Data == "span" {
							if e := strings.TrimSpace(textContent(span)); e != "" {
								engines = append(engines, e)
							}
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walker(c)
		}
	}
	walker(article)

	if title == "" || href == "" {
		return search.Result{}, false
	}

	return buildResult(title, href, description, engines), true
}

// buildResult fills in the derived fields: domain, file type, Google flags.
func buildResult(title, href, description string, engines []string) search.Result {
	domain := ""
	if u, err := url.Parse(href); err == nil {
		domain = u.Host
	}

	lowerURL := strings.ToLower(href)
	isGoogleDoc := strings.Contains(lowerURL, "docs.google.com")
	isGoogleDrive := strings.Contains(lowerURL, "drive.google.com") || isGoogleDoc

	return search.Result{
		Title:         title,
		URL:           href,
		Description:   description,
		Domain:        domain,
		Engines:       engines,
		FileType:      identifyFileType(href, title),
		IsGoogleDoc:   isGoogleDoc,
		IsGoogleDrive: isGoogleDrive,
	}
}

// identifyFileType inspects the URL and title for file indicators. Returns
// an empty string for ordinary web pages.
func identifyFileType(href, title string) string {
	lowerURL := strings.ToLower(href)

	for ext, fileType := range fileExtensions {
		if strings.Contains(lowerURL, "."+ext) {
			return fileType
		}
	}

	switch {
	case strings.Contains(lowerURL, "docs.google.com"):
		return "google_doc"
	case strings.Contains(lowerURL, "sheets.google.com"):
		return "google_sheet"
	case strings.Contains(lowerURL, "slides.google.com"):
		return "google_slides"
	case strings.Contains(lowerURL, "forms.google.com"):
		return "google_form"
	case strings.Contains(lowerURL, "drive.google.com"):
		return "google_drive"
	}

	lowerTitle := strings.ToLower(title)
	for _, marker := range []string{"[pdf]", "[doc]", "[xls]", "filetype:"} {
		if strings.Contains(lowerTitle, marker) {
			return "unknown"
		}
	}

	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findChild(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := findChild(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walker(c)
		}
	}
	walker(n)
	return sb.String()
}
