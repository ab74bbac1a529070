package cache

import (
	"net/url"
	"strings"
)

const keyPrefix = "dime:page:"

// Key returns the Redis key of one page request. The query is encoded with
// sorted parameter names, so a different page, page size or status filter
// never shares an entry:
//
//	dime:page:api/v1/projects?page=2&perPage=100&sortBy=cost&sortDirection=DESC
func Key(path string, query url.Values) string {
	return keyPrefix + strings.Trim(path, "/") + "?" + query.Encode()
}
