package proxy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

func TestPoolLifecycle(t *testing.T) {
	t.Parallel()

	pool := NewPool(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	got, err := pool.Load(ctx, "owner-1")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, pool.Add(ctx, "owner-1", "1.2.3.4:80:a:b"))
	require.NoError(t, pool.Add(ctx, "owner-1", "5.6.7.8:443:c:d"))
	require.NoError(t, pool.Add(ctx, "owner-1", "1.2.3.4:80:a:b")) // dup, absorbed

	got, err = pool.Load(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, []string{"1.2.3.4:80:a:b", "5.6.7.8:443:c:d"}, got)

	require.NoError(t, pool.Remove(ctx, "owner-1", "5.6.7.8:443:c:d"))
	got, err = pool.Load(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, []string{"1.2.3.4:80:a:b"}, got)
}

func TestPoolUpdateAppendsAndDeduplicates(t *testing.T) {
	t.Parallel()

	pool := NewPool(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "o", "1.2.3.4:80:a:b"))
	merged, rejected, err := pool.Update(ctx, "o", []string{"9.9.9.9:1:x:y", "1.2.3.4:80:a:b"})
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Equal(t, []string{"1.2.3.4:80:a:b", "9.9.9.9:1:x:y"}, merged)
}

func TestPoolUpdateRejectsMalformedEntries(t *testing.T) {
	t.Parallel()

	pool := NewPool(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	merged, rejected, err := pool.Update(ctx, "o", []string{
		"not-a-proxy-at-all",
		"10.0.0.1:8080:user:pass",
		"1.2.3.4:80:user:p@ss", // non-alphanumeric password
	})
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:8080:user:pass"}, merged)
	require.Equal(t, []string{"1.2.3.4:80:user:p@ss", "not-a-proxy-at-all"}, rejected)

	got, err := pool.Load(ctx, "o")
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:8080:user:pass"}, got)
}

func TestPoolAddRejectsMalformedEntry(t *testing.T) {
	t.Parallel()

	pool := NewPool(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	err := pool.Add(ctx, "o", "not-a-proxy-at-all")
	require.ErrorIs(t, err, scrape.ErrPreconditionFailed)

	got, err := pool.Load(ctx, "o")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPoolDeleteSubsetAndAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pool := NewPool(dir, zap.NewNop())
	ctx := context.Background()

	_, _, err := pool.Update(ctx, "o", []string{"1.2.3.4:80:a:b", "9.9.9.9:1:x:y"})
	require.NoError(t, err)

	require.NoError(t, pool.Delete(ctx, "o", []string{"9.9.9.9:1:x:y", "8.8.8.8:1:n:n"}))
	got, err := pool.Load(ctx, "o")
	require.NoError(t, err)
	require.Equal(t, []string{"1.2.3.4:80:a:b"}, got)

	require.NoError(t, pool.Delete(ctx, "o", nil))
	_, statErr := os.Stat(filepath.Join(dir, "o", poolFileName))
	require.True(t, os.IsNotExist(statErr))

	got, err = pool.Load(ctx, "o")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPoolConcurrentWritersDoNotInterleave(t *testing.T) {
	t.Parallel()

	pool := NewPool(t.TempDir(), zap.NewNop())
	ctx := context.Background()

	proxies := []string{
		"1.1.1.1:1:a:a", "2.2.2.2:2:b:b", "3.3.3.3:3:c:c",
		"4.4.4.4:4:d:d", "5.5.5.5:5:e:e", "6.6.6.6:6:f:f",
	}
	var wg sync.WaitGroup
	for _, entry := range proxies {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			require.NoError(t, pool.Add(ctx, "o", p))
		}(entry)
	}
	wg.Wait()

	got, err := pool.Load(ctx, "o")
	require.NoError(t, err)
	require.Len(t, got, len(proxies), "a lost update dropped an entry")
}
