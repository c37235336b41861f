// Package proxy implements proxy credential validation and the per-owner
// proxy pool.
package proxy

import (
	"regexp"
	"sort"
)

// pattern is the only accepted pool entry shape: ip:port:user:pass with
// alphanumeric credentials.
var pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d+:[A-Za-z0-9]+:[A-Za-z0-9]+$`)

// Partition deduplicates raw and splits it into syntactically valid and
// invalid entries. Both outputs are sorted; input order is not preserved.
// Malformed entries land in invalid, never in an error.
func Partition(raw []string) (valid, invalid []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		if pattern.MatchString(entry) {
			valid = append(valid, entry)
		} else {
			invalid = append(invalid, entry)
		}
	}
	sort.Strings(valid)
	sort.Strings(invalid)
	return valid, invalid
}
