package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// maxFetchedContent caps the extracted text returned for one URL so a single
// page cannot blow out an attachment.
const maxFetchedContent = 100_000

// FetchURLContent downloads a web page and extracts its title and readable
// text, for use as a query attachment.
func FetchURLContent(ctx context.Context, url string) (title, content string, err error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; llm-quorum/1.0)")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("fetch of %s failed: HTTP %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse %s: %w", url, err)
	}

	doc.Find("script, style, noscript, iframe").Remove()

	title = strings.TrimSpace(doc.Find("title").First().Text())

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	content = strings.Join(strings.Fields(body.Text()), " ")
	if len(content) > maxFetchedContent {
		content = content[:maxFetchedContent]
	}
	if content == "" {
		return title, "", fmt.Errorf("no readable content found at %s", url)
	}
	return title, content, nil
}
