package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultSearchURL is the YouTube results page
	DefaultSearchURL = "https://www.youtube.com/results"

	// longVideoFilter restricts results to videos over 20 minutes
	longVideoFilter = "EgIYAg%3D%3D"

	initialDataMarker = "ytInitialData"
)

// SearchScraper resolves topics by parsing the public search results page.
// It needs no API key.
type SearchScraper struct {
	searchURL  string
	maxResults int
	client     *http.Client
}

// NewSearchScraper creates a scraping resolver. An empty searchURL uses DefaultSearchURL.
func NewSearchScraper(searchURL string, maxResults int) *SearchScraper {
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	return &SearchScraper{
		searchURL:  searchURL,
		maxResults: maxResults,
		client:     defaultHTTPClient(),
	}
}

// Resolve fetches the results page for topic and extracts video ids in page order.
func (s *SearchScraper) Resolve(ctx context.Context, topic string) ([]string, error) {
	target := s.searchURL + "?search_query=" + url.QueryEscape(topic) + "&sp=" + longVideoFilter

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search page returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var payload string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if !strings.Contains(text, initialDataMarker) {
			return true
		}
		payload = extractJSONObject(text[strings.Index(text, initialDataMarker):])
		return payload == ""
	})

	if payload == "" {
		return nil, fmt.Errorf("search page has no %s", initialDataMarker)
	}

	ids, err := collectVideoIDs(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", initialDataMarker, err)
	}

	return dedupe(ids, s.maxResults), nil
}

// extractJSONObject returns the first balanced {...} object in s.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// scope is one open JSON container during a token walk
type scope struct {
	object  bool
	name    string // key the container is stored under in its parent
	key     string // most recent key read inside this object
	wantKey bool
}

// collectVideoIDs streams the JSON payload and returns every
// videoRenderer.videoId in document order.
func collectVideoIDs(payload string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(payload))

	var (
		stack []*scope
		ids   []string
	)
	top := func() *scope {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if len(stack) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return ids, nil
		}
		if err != nil {
			return nil, err
		}

		parent := top()

		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				name := ""
				if parent != nil && parent.object {
					name = parent.key
				}
				stack = append(stack, &scope{object: delim == '{', name: name, wantKey: delim == '{'})
			case '}', ']':
				stack = stack[:len(stack)-1]
				if p := top(); p != nil && p.object {
					p.wantKey = true
				}
			}
			continue
		}

		if parent == nil || !parent.object {
			continue
		}
		if parent.wantKey {
			parent.key, _ = tok.(string)
			parent.wantKey = false
			continue
		}

		if id, ok := tok.(string); ok && parent.name == "videoRenderer" && parent.key == "videoId" {
			ids = append(ids, id)
		}
		parent.wantKey = true
	}
}
