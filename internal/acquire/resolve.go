package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Resolve returns the archive URL. When an index page is configured, the first
// link on it pointing at the archive wins; otherwise the configured URL is used.
func (a *Acquirer) Resolve(ctx context.Context) (string, error) {
	if a.cfg.IndexURL == "" {
		return a.cfg.URL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.IndexURL, nil)
	if err != nil {
		return "", fmt.Errorf("build index request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch index page: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: index page returned %s", ErrUpstreamUnavailable, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse index page: %w", err)
	}

	base, err := url.Parse(a.cfg.IndexURL)
	if err != nil {
		return "", fmt.Errorf("parse index url: %w", err)
	}

	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasSuffix(strings.ToLower(href), strings.ToLower(archiveName)) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		link = base.ResolveReference(ref).String()
		return false
	})

	if link == "" {
		return "", fmt.Errorf("no %s link found on %s", archiveName, a.cfg.IndexURL)
	}

	a.log.Infow("Resolved archive link", "url", link)
	return link, nil
}
