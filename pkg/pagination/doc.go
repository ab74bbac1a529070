// Package pagination walks the DIME projects listing page by page and
// accumulates every record for one status filter in memory.
//
// Pages are fetched strictly one after another. Each page gets a bounded
// number of attempts with a fixed delay between them; when a page exhausts
// its attempts the run stops and the records of all earlier pages are
// returned. Callers must therefore not assume full coverage from a
// successful return and should check Result.Stop.
//
// Example usage:
//
//	p := pagination.NewPaginator(dimeClient, pagination.DefaultConfig(), logger)
//	result := p.Collect(ctx, "Completed")
//	if !result.Complete() {
//		logger.Warn().Str("stop", string(result.Stop)).Msg("partial data")
//	}
//
// Pagination ends when:
//   - the page metadata reports currentPage >= lastPage
//   - no metadata is present and the page is shorter than PerPage
//   - a page comes back empty
//   - a page exhausts MaxRetries attempts, or ctx is cancelled
package pagination
