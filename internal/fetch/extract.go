// internal/fetch/extract.go
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	readability "github.com/go-shiori/go-readability"
)

// Article pages can run larger than feeds
const maxPageBytes = 10 << 20

// ExtractBody downloads an article page and reduces it to a readable
// markdown body. Failures here are recoverable: ingestion stores the
// article without a body and a later pass may backfill it.
func (f *Fetcher) ExtractBody(ctx context.Context, articleURL string) (string, error) {
	pageURL, err := url.Parse(articleURL)
	if err != nil {
		return "", &ExtractionError{URL: articleURL, Err: err}
	}
	if err := checkDestination(pageURL.Hostname()); err != nil {
		return "", &ExtractionError{URL: articleURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", articleURL, nil)
	if err != nil {
		return "", &ExtractionError{URL: articleURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: articleURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &FetchError{URL: articleURL, Status: resp.StatusCode}
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), pageURL)
	if err != nil {
		return "", &ExtractionError{URL: articleURL, Err: err}
	}

	body := article.TextContent
	if article.Content != "" {
		converter := md.NewConverter(pageURL.Host, true, nil)
		if markdown, err := converter.ConvertString(article.Content); err == nil && markdown != "" {
			body = markdown
		}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", &ExtractionError{URL: articleURL, Err: errors.New("no readable content")}
	}
	return body, nil
}
