// Package cache keeps DIME page bodies in Redis together with their HTTP
// validators, so a repeated scrape can revalidate pages with conditional
// requests instead of downloading them again.
//
// The cache never answers a request by itself. The client always sends the
// request and the stored entry only contributes validators and, on a 304,
// the body:
//
//	key := cache.Key(endpoint.Path, query)
//	entry, err := store.Lookup(ctx, key)
//	if err == nil && entry.Conditional(req) {
//		// send req; on 304 decode entry.Body
//	}
//
// Each entry is a Redis hash (body, etag, last_modified, stored_at) that
// expires at the response's Expires time, or after DefaultTTL.
//
// # Metrics
//
//   - dime_cache_hits_total
//   - dime_cache_misses_total
//   - dime_cache_errors_total{operation}
package cache
