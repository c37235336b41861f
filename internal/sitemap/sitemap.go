// Package sitemap expands XML sitemap trees into URL sets.
package sitemap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// maxNestingDepth bounds recursion into nested sitemap indexes so an
// adversarial or cyclic sitemap tree cannot fan out forever.
const maxNestingDepth = 2

// Config controls crawl behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Crawler fetches sitemap documents and extracts their <loc> entries.
// Fetching tries a plain client first and retries blocked (403) responses
// through a challenge-tolerant client with browser-like headers.
type Crawler struct {
	cfg      Config
	client   *http.Client
	fallback *challengeClient
	logger   *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, logger *zap.Logger) *Crawler {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		fallback: newChallengeClient(cfg),
		logger:   logger,
	}
}

// Validate checks that every candidate is an http(s) URL ending in .xml.
func Validate(candidates []string) error {
	if len(candidates) == 0 {
		return scrape.PreconditionFailedf("no sitemap urls submitted")
	}
	for _, candidate := range candidates {
		parsed, err := url.Parse(candidate)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return scrape.PreconditionFailedf("invalid sitemap url %q", candidate)
		}
		if !strings.HasSuffix(strings.ToLower(parsed.Path), ".xml") {
			return scrape.PreconditionFailedf("sitemap url %q does not end in .xml", candidate)
		}
	}
	return nil
}

// Expand crawls the candidate sitemaps and returns the deduplicated,
// lexicographically sorted URL set. With doNested, discovered .xml entries
// are treated as further sitemap indexes down to the nesting bound.
// Crawl-time errors degrade a branch to empty rather than failing the
// whole expansion.
func (c *Crawler) Expand(ctx context.Context, candidates []string, doNested bool) ([]string, error) {
	if err := Validate(candidates); err != nil {
		return nil, err
	}

	found := make(map[string]struct{})
	visited := make(map[string]struct{})
	for _, candidate := range candidates {
		c.crawl(ctx, candidate, 0, doNested, visited, found)
	}

	out := make([]string, 0, len(found))
	for u := range found {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Crawler) crawl(ctx context.Context, sitemapURL string, depth int, doNested bool, visited, found map[string]struct{}) {
	if _, seen := visited[sitemapURL]; seen {
		return
	}
	visited[sitemapURL] = struct{}{}

	entries, err := c.fetchLocs(ctx, sitemapURL)
	if err != nil {
		c.logger.Warn("sitemap branch degraded to empty",
			zap.String("sitemap_url", sitemapURL),
			zap.Int("depth", depth),
			zap.Error(err),
		)
		return
	}

	for _, entry := range entries {
		nested := doNested &&
			strings.HasSuffix(strings.ToLower(entry), ".xml") &&
			depth+1 <= maxNestingDepth
		if nested {
			c.crawl(ctx, entry, depth+1, doNested, visited, found)
			continue
		}
		found[entry] = struct{}{}
	}
}

// fetchLocs downloads one sitemap document and returns its <loc> values.
func (c *Crawler) fetchLocs(ctx context.Context, sitemapURL string) ([]string, error) {
	body, contentType, err := c.get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(contentType, "xml") {
		return nil, fmt.Errorf("unexpected content type %q for %s", contentType, sitemapURL)
	}
	return parseLocs(body)
}

func (c *Crawler) get(ctx context.Context, sitemapURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build sitemap request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch sitemap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return c.fallback.get(ctx, sitemapURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch sitemap %s: status %d", sitemapURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read sitemap body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func parseLocs(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(strings.NewReader(strings.TrimPrefix(string(body), "\ufeff")))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, "//*[local-name()='loc']")
	if err != nil {
		return nil, fmt.Errorf("query sitemap loc entries: %w", err)
	}
	var urls []string
	for _, node := range nodes {
		if node.NamespaceURI != "" && node.NamespaceURI != sitemapNS {
			continue
		}
		if text := strings.TrimSpace(node.InnerText()); text != "" {
			urls = append(urls, text)
		}
	}
	return urls, nil
}
