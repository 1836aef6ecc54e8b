package cookies

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/shehryarbajwa/detox/pkg/models"
)

// ErrInvalidFormat is returned when the credential blob is missing or unparseable
var ErrInvalidFormat = errors.New("invalid cookie format")

// rawCookie mirrors a browser-extension cookie export record. Export
// bookkeeping such as storeId and id is not declared, so it is ignored
// whatever its type.
type rawCookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Expires        *float64 `json:"expires"`
	ExpirationDate *float64 `json:"expirationDate"`
	Secure         bool     `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	HostOnly       bool     `json:"hostOnly"`
	Session        bool     `json:"session"`
	SameSite       *string  `json:"sameSite"`
}

// Normalize parses a serialized cookie set and cleans each entry so Chrome
// will accept it.
func Normalize(raw string) ([]models.Cookie, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: no cookies provided", ErrInvalidFormat)
	}

	var entries []*rawCookie
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if entries == nil {
		return nil, fmt.Errorf("%w: expected an array of cookies", ErrInvalidFormat)
	}

	normalized := make([]models.Cookie, 0, len(entries))
	for i, entry := range entries {
		if entry == nil {
			return nil, fmt.Errorf("%w: entry %d is null", ErrInvalidFormat, i)
		}
		normalized = append(normalized, normalizeEntry(entry))
	}

	return normalized, nil
}

func normalizeEntry(c *rawCookie) models.Cookie {
	out := models.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		Session:  c.Session,
	}

	if !c.Session {
		if c.Expires != nil {
			out.Expires = c.Expires
		} else if c.ExpirationDate != nil {
			out.Expires = c.ExpirationDate
		}
	}

	if c.SameSite != nil {
		out.SameSite = normalizeSameSite(*c.SameSite)
	}

	return out
}

func normalizeSameSite(value string) models.SameSite {
	switch strings.ToLower(value) {
	case "no_restriction", "none":
		return models.SameSiteNone
	case "strict":
		return models.SameSiteStrict
	case "lax":
		return models.SameSiteLax
	default:
		// "unspecified" and anything else falls back to the browser default
		return models.SameSiteUnset
	}
}

// ToParams converts normalized cookies into CDP cookie parameters.
func ToParams(cookies []models.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}

		if c.Expires != nil {
			secs := *c.Expires
			expires := cdp.TimeSinceEpoch(time.Unix(0, int64(secs*float64(time.Second))))
			param.Expires = &expires
		}

		switch c.SameSite {
		case models.SameSiteStrict:
			param.SameSite = network.CookieSameSiteStrict
		case models.SameSiteLax:
			param.SameSite = network.CookieSameSiteLax
		case models.SameSiteNone:
			param.SameSite = network.CookieSameSiteNone
		}

		params = append(params, param)
	}
	return params
}
