package engine

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// scriptedFetcher answers by (url, proxy host) pairs; unknown pairs fail
// with a transport error.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses map[string]scrape.FetchResponse
	calls     []string
}

func key(url, proxyHost string) string { return url + "|" + proxyHost }

func (f *scriptedFetcher) Fetch(_ context.Context, req scrape.FetchRequest) (scrape.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key(req.URL, req.Proxy.Host))
	resp, ok := f.responses[key(req.URL, req.Proxy.Host)]
	f.mu.Unlock()
	if !ok {
		return scrape.FetchResponse{}, errors.New("connection refused")
	}
	return resp, nil
}

type staticExtractor struct{}

func (staticExtractor) Parse(url string, _ []byte) scrape.Content {
	return scrape.Content{URL: url, Text: "parsed"}
}

const (
	proxyA = "1.1.1.1:80:usera:passa"
	proxyB = "2.2.2.2:80:userb:passb"
)

func ok(url string) scrape.FetchResponse {
	return scrape.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte("<html>body</html>")}
}

func TestScrapeFailoverAcrossProxies(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: map[string]scrape.FetchResponse{
		// u1 fails on proxy A, succeeds on proxy B.
		key("https://a.test/u1", "2.2.2.2"): ok("https://a.test/u1"),
	}}
	eng := New(fetcher, nil, staticExtractor{}, Config{}, zap.NewNop())

	result, err := eng.Scrape(context.Background(), Request{
		JobID:     "j1",
		URLs:      []string{"https://a.test/u1"},
		Proxies:   []string{proxyA, proxyB},
		Parallel:  2,
		Parse:     true,
		OutputDir: filepath.Join(t.TempDir(), "j1"),
	})
	require.NoError(t, err)

	// The URL appears in both sets; scraped is authoritative.
	require.Equal(t, []string{"https://a.test/u1"}, result.Scraped)
	require.Equal(t, []string{"https://a.test/u1"}, result.Failed)
	require.Empty(t, result.Done)
	require.Equal(t, []string{proxyB}, result.ProxiesUsed)
	require.Equal(t, []string{proxyA}, result.ProxiesFailed)
}

func TestScrapeProxyOrderIsRespected(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: map[string]scrape.FetchResponse{
		key("https://a.test/u", "1.1.1.1"): ok("https://a.test/u"),
		key("https://a.test/u", "2.2.2.2"): ok("https://a.test/u"),
	}}
	eng := New(fetcher, nil, nil, Config{}, zap.NewNop())

	result, err := eng.Scrape(context.Background(), Request{
		JobID:     "j",
		URLs:      []string{"https://a.test/u"},
		Proxies:   []string{proxyA, proxyB},
		Parallel:  1,
		OutputDir: filepath.Join(t.TempDir(), "j"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{key("https://a.test/u", "1.1.1.1")}, fetcher.calls,
		"first proxy succeeds, second never attempted")
	require.Equal(t, []string{proxyA}, result.ProxiesUsed)
	require.Empty(t, result.Failed)
}

func TestScrapeSkipStatusIsTerminalForURL(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: map[string]scrape.FetchResponse{
		key("https://a.test/gone", "1.1.1.1"): {StatusCode: http.StatusNotFound},
		key("https://a.test/gone", "2.2.2.2"): ok("https://a.test/gone"),
	}}
	eng := New(fetcher, nil, nil, Config{}, zap.NewNop())

	dir := filepath.Join(t.TempDir(), "j")
	result, err := eng.Scrape(context.Background(), Request{
		JobID:     "j",
		URLs:      []string{"https://a.test/gone"},
		Proxies:   []string{proxyA, proxyB},
		Parallel:  1,
		OutputDir: dir,
	})
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1, "404 must not fail over to the next proxy")
	require.Empty(t, result.Scraped)
	require.Equal(t, []string{"https://a.test/gone"}, result.Failed)
	require.Equal(t, []string{"https://a.test/gone"}, result.Done)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "no result file for a skipped URL")
}

func TestScrapeExhaustedProxiesLeaveNoFile(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: map[string]scrape.FetchResponse{}}
	eng := New(fetcher, nil, nil, Config{}, zap.NewNop())

	dir := filepath.Join(t.TempDir(), "j")
	result, err := eng.Scrape(context.Background(), Request{
		JobID:     "j",
		URLs:      []string{"https://a.test/down"},
		Proxies:   []string{proxyA, proxyB},
		Parallel:  4,
		OutputDir: dir,
	})
	require.NoError(t, err)
	require.Empty(t, result.Scraped)
	require.Equal(t, []string{"https://a.test/down"}, result.Done)
	require.ElementsMatch(t, []string{proxyA, proxyB}, result.ProxiesFailed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestScrapeWritesParsedResultFiles(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: map[string]scrape.FetchResponse{
		key("https://a.test/u", "1.1.1.1"): ok("https://a.test/u"),
	}}
	eng := New(fetcher, nil, staticExtractor{}, Config{}, zap.NewNop())

	dir := filepath.Join(t.TempDir(), "j")
	_, err := eng.Scrape(context.Background(), Request{
		JobID:     "j",
		URLs:      []string{"https://a.test/u"},
		Proxies:   []string{proxyA},
		Parallel:  1,
		Parse:     true,
		OutputDir: dir,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ResultFileName("https://a.test/u")))
	require.NoError(t, err)
	require.Contains(t, string(data), `"proxy_used": "1.1.1.1:80:usera:passa"`)
	require.Contains(t, string(data), `"parsed"`)
}

// The final sets must not depend on completion order.
func TestScrapeResultIsOrderIndependent(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://a.test/u3", "https://a.test/u1", "https://a.test/u2",
		"https://a.test/u5", "https://a.test/u4",
	}
	responses := map[string]scrape.FetchResponse{}
	for _, u := range urls {
		responses[key(u, "2.2.2.2")] = ok(u)
	}

	var runs []scrape.Result
	for _, parallel := range []int{1, 4} {
		fetcher := &scriptedFetcher{responses: responses}
		eng := New(fetcher, nil, nil, Config{}, zap.NewNop())
		result, err := eng.Scrape(context.Background(), Request{
			JobID:     "j",
			URLs:      urls,
			Proxies:   []string{proxyA, proxyB},
			Parallel:  parallel,
			OutputDir: filepath.Join(t.TempDir(), "j"),
		})
		require.NoError(t, err)
		runs = append(runs, result)
	}
	require.Equal(t, runs[0], runs[1])
}

func TestScrapeRendererSelectedPerRequest(t *testing.T) {
	t.Parallel()

	plain := &scriptedFetcher{responses: map[string]scrape.FetchResponse{}}
	rendered := &scriptedFetcher{responses: map[string]scrape.FetchResponse{
		key("https://a.test/app", "1.1.1.1"): ok("https://a.test/app"),
	}}
	eng := New(plain, rendered, nil, Config{}, zap.NewNop())

	result, err := eng.Scrape(context.Background(), Request{
		JobID:     "j",
		URLs:      []string{"https://a.test/app"},
		Proxies:   []string{proxyA},
		Parallel:  1,
		Render:    true,
		OutputDir: filepath.Join(t.TempDir(), "j"),
	})
	require.NoError(t, err)
	require.Empty(t, plain.calls)
	require.Equal(t, []string{"https://a.test/app"}, result.Scraped)
}
