// Package memstore provides in-memory implementations of the domain
// repositories. They back the test suites and the single-node dev setup;
// production deployments use the mongodb package instead.
package memstore

import "strings"

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
