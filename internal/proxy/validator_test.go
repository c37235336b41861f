package proxy

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionSplitsValidAndInvalid(t *testing.T) {
	t.Parallel()

	raw := []string{
		"184.174.126.249:6541:olmjtxsz:yccmlx17olxs",
		"not-a-proxy",
		"10.0.0.1:8080:user:pass",
		"10.0.0.1:8080:user",          // missing password
		"10.0.0.1:port:user:pass",     // non-numeric port
		"10.0.0.1:8080:us er:pass",    // whitespace in user
		"10.0.0.1:8080:user:p@ss",     // non-alphanumeric password
		"999.999.999.999:1:aaaa:bbbb", // syntactically fine, octets unchecked
	}
	valid, invalid := Partition(raw)

	require.ElementsMatch(t, []string{
		"10.0.0.1:8080:user:pass",
		"184.174.126.249:6541:olmjtxsz:yccmlx17olxs",
		"999.999.999.999:1:aaaa:bbbb",
	}, valid)
	require.Len(t, invalid, 5)
}

func TestPartitionDeduplicates(t *testing.T) {
	t.Parallel()

	raw := []string{
		"10.0.0.1:8080:user:pass",
		"10.0.0.1:8080:user:pass",
		"bogus",
		"bogus",
	}
	valid, invalid := Partition(raw)
	require.Equal(t, []string{"10.0.0.1:8080:user:pass"}, valid)
	require.Equal(t, []string{"bogus"}, invalid)
}

// Every input lands in exactly one partition and the union equals the
// deduplicated input.
func TestPartitionIsExhaustive(t *testing.T) {
	t.Parallel()

	raw := []string{
		"1.2.3.4:80:a:b", "x", "1.2.3.4:80:a:b", "5.6.7.8:443:cc:dd", "", ":::",
	}
	valid, invalid := Partition(raw)

	union := append(append([]string{}, valid...), invalid...)
	sort.Strings(union)

	deduped := map[string]struct{}{}
	for _, entry := range raw {
		deduped[entry] = struct{}{}
	}
	require.Len(t, union, len(deduped))
	for _, entry := range union {
		_, ok := deduped[entry]
		require.True(t, ok, "partition invented entry %q", entry)
	}
}
