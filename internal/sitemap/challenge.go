package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// browserUA is presented by the fallback client. Some origins gate
// sitemaps behind bot challenges that pass ordinary browser traffic.
const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// challengeClient retries blocked sitemap fetches with browser-like
// request characteristics.
type challengeClient struct {
	base *colly.Collector
}

func newChallengeClient(cfg Config) *challengeClient {
	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = browserUA
	c.IgnoreRobotsTxt = true
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)
	return &challengeClient{base: c}
}

func (c *challengeClient) get(ctx context.Context, sitemapURL string) ([]byte, string, error) {
	collector := c.base.Clone()

	var (
		body        []byte
		contentType string
		status      int
		fetchErr    error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/xml,text/xml,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		contentType = r.Headers.Get("Content-Type")
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(sitemapURL)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("challenge fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, "", fmt.Errorf("challenge fetch %s: %w", sitemapURL, err)
		}
	}
	if fetchErr != nil {
		return nil, "", fmt.Errorf("challenge fetch %s: %w", sitemapURL, fetchErr)
	}
	if status != http.StatusOK {
		return nil, "", fmt.Errorf("challenge fetch %s: status %d", sitemapURL, status)
	}
	return body, contentType, nil
}
