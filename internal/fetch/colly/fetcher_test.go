package collyfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapeworks/harvester/internal/scrape"
)

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	resp, err := New(Config{UserAgent: "harvester-test"}).Fetch(
		context.Background(),
		scrape.FetchRequest{URL: srv.URL},
	)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("<html>hello</html>"), resp.Body)
}

func TestFetchSurfacesNonOKStatusWithoutError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.NoError(t, err, "an HTTP response is not a transport failure")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchErrorsOnUnreachableHost(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Fetch(
		context.Background(),
		scrape.FetchRequest{URL: "http://127.0.0.1:1/nothing"},
	)
	require.Error(t, err)
}

func TestFetchRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	// The proxy is a plain HTTP server answering any proxied GET itself.
	var sawProxy bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawProxy = true
		w.Write([]byte("proxied"))
	}))
	defer proxy.Close()

	host, port, ok := splitHostPort(proxy.Listener.Addr().String())
	require.True(t, ok)

	resp, err := New(Config{}).Fetch(context.Background(), scrape.FetchRequest{
		URL:   "http://origin.invalid/page",
		Proxy: scrape.Proxy{Host: host, Port: port, User: "u", Pass: "p"},
	})
	require.NoError(t, err)
	require.True(t, sawProxy, "request must go through the proxy")
	require.Equal(t, []byte("proxied"), resp.Body)
}

func splitHostPort(addr string) (string, string, bool) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], true
		}
	}
	return "", "", false
}
