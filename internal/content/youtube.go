package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultAPIURL is the YouTube Data API v3 base URL
const DefaultAPIURL = "https://www.googleapis.com/youtube/v3"

// YouTubeAPI resolves topics through the YouTube Data API search endpoint
type YouTubeAPI struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
}

// NewYouTubeAPI creates a Data API resolver. An empty baseURL uses DefaultAPIURL.
func NewYouTubeAPI(apiKey, baseURL string, maxResults int) *YouTubeAPI {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	return &YouTubeAPI{
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxResults: maxResults,
		client:     defaultHTTPClient(),
	}
}

type searchResponse struct {
	Items []struct {
		ID struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Resolve searches for long, English-language videos about topic.
func (y *YouTubeAPI) Resolve(ctx context.Context, topic string) ([]string, error) {
	query := url.Values{}
	query.Set("part", "snippet")
	query.Set("type", "video")
	query.Set("videoDuration", "long")
	query.Set("relevanceLanguage", "en")
	query.Set("maxResults", strconv.Itoa(y.maxResults))
	query.Set("q", topic)
	query.Set("key", y.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube search failed: %w", err)
	}
	defer resp.Body.Close()

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if body.Error != nil {
			return nil, fmt.Errorf("youtube search returned %d: %s", resp.StatusCode, body.Error.Message)
		}
		return nil, fmt.Errorf("youtube search returned %d", resp.StatusCode)
	}

	ids := make([]string, 0, len(body.Items))
	for _, item := range body.Items {
		ids = append(ids, item.ID.VideoID)
	}

	return dedupe(ids, y.maxResults), nil
}
