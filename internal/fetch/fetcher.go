// internal/fetch/fetcher.go
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"newsdesk/internal/database"
	securitynet "newsdesk/internal/security/netutil"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

const userAgent = "Newsdesk/0.1"

// Parse feeds with a reasonable size limit (5MB) to avoid huge downloads
const maxFeedBytes = 5 << 20

type Fetcher struct {
	logger *log.Logger
	parser *gofeed.Parser
	client *http.Client
	cache  *sync.Map // feed id -> cacheEntry for conditional GETs
}

type cacheEntry struct {
	lastModified string
	etag         string
	timestamp    time.Time
}

func NewFetcher(logger *log.Logger) *Fetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Fetcher{
		logger: logger,
		parser: gofeed.NewParser(),
		client: &http.Client{Timeout: 30 * time.Second, Transport: transport, CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return nil
		}},
		cache: &sync.Map{},
	}
}

// checkDestination resolves the host and blocks private/reserved ranges
// (loopback stays allowed for tests and local feeds).
func checkDestination(rawHost string) error {
	if rawHost == "" {
		return nil
	}
	if ip := net.ParseIP(rawHost); ip != nil {
		if securitynet.IsPrivateIP(ip) && !ip.IsLoopback() {
			return fmt.Errorf("destination resolves to private/reserved address")
		}
		return nil
	}
	addrs, err := net.LookupIP(rawHost)
	if err != nil {
		return nil // unresolvable hosts fail later in the client with a clearer error
	}
	for _, a := range addrs {
		if securitynet.IsPrivateIP(a) && !a.IsLoopback() {
			return fmt.Errorf("destination resolves to private/reserved address")
		}
	}
	return nil
}

// ListCandidates downloads and parses one feed, returning its items as
// ingestion candidates. A 304 Not Modified yields an empty candidate list,
// not an error. Items without any usable timestamp get the current time so
// ordering downstream stays total.
func (f *Fetcher) ListCandidates(ctx context.Context, feed database.Feed) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", feed.URL, nil)
	if err != nil {
		return nil, &FetchError{URL: feed.URL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	if err := checkDestination(req.URL.Hostname()); err != nil {
		return nil, &FetchError{URL: feed.URL, Err: err}
	}

	cacheKey := feed.ID
	if cached, ok := f.cache.Load(cacheKey); ok {
		entry := cached.(cacheEntry)
		if entry.lastModified != "" {
			req.Header.Set("If-Modified-Since", entry.lastModified)
		}
		if entry.etag != "" {
			req.Header.Set("If-None-Match", entry.etag)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: feed.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.logger.Printf("Feed %s not modified since last fetch", feed.URL)
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, &FetchError{URL: feed.URL, Status: resp.StatusCode}
	}

	f.cache.Store(cacheKey, cacheEntry{
		lastModified: resp.Header.Get("Last-Modified"),
		etag:         resp.Header.Get("ETag"),
		timestamp:    time.Now(),
	})

	parsed, err := f.parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, &FetchError{URL: feed.URL, Err: fmt.Errorf("parsing feed: %w", err)}
	}
	if parsed == nil {
		return nil, &FetchError{URL: feed.URL, Err: fmt.Errorf("parsing feed: empty document")}
	}

	candidates := make([]Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		pubDate := item.PublishedParsed
		if pubDate == nil {
			pubDate = item.UpdatedParsed
		}
		if pubDate == nil {
			now := time.Now()
			pubDate = &now
		}
		candidates = append(candidates, Candidate{
			GUID:      item.GUID,
			URL:       item.Link,
			Title:     strings.TrimSpace(item.Title),
			Summary:   stripTags(item.Description),
			Published: pubDate.UTC(),
		})
	}
	return candidates, nil
}

// stripTags flattens feed item HTML into plain text
func stripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
