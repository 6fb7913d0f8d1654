package ratelimit

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/felipepmaragno/quotagate/internal/domain"
)

// PathHash bounds key cardinality by replacing the path with a fixed-width hash.
func PathHash(path string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(path))
}

// BucketKey identifies the counter for one caller, path and tier.
// The caller is the tenant when known, otherwise the client IP.
func BucketKey(tenantID, clientIP, path string, tier domain.Tier) string {
	who := tenantID
	if who == "" {
		who = clientIP
	}
	return "ratelimit:" + who + ":" + PathHash(path) + ":" + string(tier)
}

// RouteKey identifies a token bucket.
func RouteKey(scope, route string) string {
	return scope + ":" + route
}
