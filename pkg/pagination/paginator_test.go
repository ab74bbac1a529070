package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakeFetcher serves scripted pages. failures[p] is the number of failed
// attempts before page p succeeds; a negative value fails forever.
type fakeFetcher struct {
	pages    map[int]*client.PageResponse
	failures map[int]int
	err      error
	calls    []client.PageRequest
	attempts map[int]int
	times    map[int][]time.Time
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    make(map[int]*client.PageResponse),
		failures: make(map[int]int),
		attempts: make(map[int]int),
		times:    make(map[int][]time.Time),
		err: &client.FetchError{
			Class:      client.ErrorClassServer,
			StatusCode: 500,
			Err:        client.ErrUnexpectedStatus,
		},
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req client.PageRequest) (*client.PageResponse, error) {
	f.calls = append(f.calls, req)
	f.attempts[req.Page]++
	f.times[req.Page] = append(f.times[req.Page], time.Now())

	if n, ok := f.failures[req.Page]; ok && (n < 0 || f.attempts[req.Page] <= n) {
		return nil, f.err
	}
	if resp, ok := f.pages[req.Page]; ok {
		return resp, nil
	}
	return &client.PageResponse{}, nil
}

func records(from, n int) []client.Project {
	out := make([]client.Project, n)
	for i := range out {
		out[i] = client.Project(fmt.Sprintf(`{"id":%d}`, from+i))
	}
	return out
}

func intPtr(v int) *int { return &v }

func meta(current, last int) *client.PageMeta {
	return &client.PageMeta{CurrentPage: intPtr(current), LastPage: intPtr(last)}
}

func testConfig(perPage int) Config {
	return Config{
		PerPage:       perPage,
		SortBy:        "cost",
		SortDirection: "DESC",
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		PageDelay:     0,
	}
}

// newTestPaginator records page delays instead of sleeping.
func newTestPaginator(f PageFetcher, cfg Config) (*Paginator, *[]time.Duration) {
	p := NewPaginator(f, cfg, zerolog.Nop())
	var sleeps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return p, &sleeps
}

func TestCollect_ShortPageWithoutMeta(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: records(1, 100)}
	f.pages[2] = &client.PageResponse{Data: records(101, 100)}
	f.pages[3] = &client.PageResponse{Data: records(201, 40)}

	p, _ := newTestPaginator(f, testConfig(100))
	result := p.Collect(context.Background(), "")

	assert.Equal(t, StopShortPage, result.Stop)
	assert.True(t, result.Complete())
	assert.NoError(t, result.Err)
	assert.Len(t, result.Projects, 240)
	assert.Equal(t, 3, result.Pages)
	assert.Len(t, f.calls, 3, "no request after the short page")
}

func TestCollect_LastPageFromMeta(t *testing.T) {
	f := newFakeFetcher()
	for page := 1; page <= 3; page++ {
		f.pages[page] = &client.PageResponse{Data: records((page-1)*10+1, 10), Meta: meta(page, 3)}
	}
	// Would be fetched if meta were ignored
	f.pages[4] = &client.PageResponse{Data: records(31, 10)}

	p, _ := newTestPaginator(f, testConfig(10))
	result := p.Collect(context.Background(), "Completed")

	assert.Equal(t, StopLastPage, result.Stop)
	assert.Len(t, result.Projects, 30)
	assert.Len(t, f.calls, 3)
}

func TestCollect_MetaTakesPrecedenceOverShortPage(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: records(1, 5), Meta: meta(1, 2)}
	f.pages[2] = &client.PageResponse{Data: records(6, 5), Meta: meta(2, 2)}

	p, _ := newTestPaginator(f, testConfig(10))
	result := p.Collect(context.Background(), "")

	assert.Equal(t, StopLastPage, result.Stop)
	assert.Len(t, result.Projects, 10)
	assert.Len(t, f.calls, 2)
}

func TestCollect_MetaDefaults(t *testing.T) {
	t.Run("missing lastPage ends after current", func(t *testing.T) {
		f := newFakeFetcher()
		f.pages[1] = &client.PageResponse{Data: records(1, 10), Meta: &client.PageMeta{CurrentPage: intPtr(1)}}
		f.pages[2] = &client.PageResponse{Data: records(11, 10)}

		p, _ := newTestPaginator(f, testConfig(10))
		result := p.Collect(context.Background(), "")

		assert.Equal(t, StopLastPage, result.Stop)
		assert.Len(t, f.calls, 1)
	})

	t.Run("missing currentPage uses requested page", func(t *testing.T) {
		f := newFakeFetcher()
		f.pages[1] = &client.PageResponse{Data: records(1, 10), Meta: &client.PageMeta{LastPage: intPtr(2)}}
		f.pages[2] = &client.PageResponse{Data: records(11, 10), Meta: &client.PageMeta{LastPage: intPtr(2)}}

		p, _ := newTestPaginator(f, testConfig(10))
		result := p.Collect(context.Background(), "")

		assert.Equal(t, StopLastPage, result.Stop)
		assert.Len(t, result.Projects, 20)
		assert.Len(t, f.calls, 2)
	})

	t.Run("empty meta falls back to page size", func(t *testing.T) {
		f := newFakeFetcher()
		f.pages[1] = &client.PageResponse{Data: records(1, 10), Meta: &client.PageMeta{}}
		f.pages[2] = &client.PageResponse{Data: records(11, 3), Meta: &client.PageMeta{}}

		p, _ := newTestPaginator(f, testConfig(10))
		result := p.Collect(context.Background(), "")

		assert.Equal(t, StopShortPage, result.Stop)
		assert.Len(t, result.Projects, 13)
	})

	t.Run("total alone does not end pagination early", func(t *testing.T) {
		f := newFakeFetcher()
		f.pages[1] = &client.PageResponse{Data: records(1, 10), Meta: &client.PageMeta{Total: intPtr(10), CurrentPage: intPtr(1), LastPage: intPtr(2)}}
		f.pages[2] = &client.PageResponse{Data: records(11, 10), Meta: meta(2, 2)}

		p, _ := newTestPaginator(f, testConfig(10))
		result := p.Collect(context.Background(), "")

		assert.Len(t, result.Projects, 20)
	})
}

func TestCollect_EmptyFirstPage(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: []client.Project{}}

	p, sleeps := newTestPaginator(f, testConfig(100))
	result := p.Collect(context.Background(), "Completed")

	assert.Equal(t, StopEmptyPage, result.Stop)
	assert.Empty(t, result.Projects)
	assert.Equal(t, 0, result.Pages)
	assert.Equal(t, 1, f.attempts[1], "an empty page is not retried")
	assert.Empty(t, *sleeps)
}

func TestCollect_EmptyPageAfterFullPages(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: records(1, 10)}
	f.pages[2] = &client.PageResponse{Data: records(11, 10)}

	p, _ := newTestPaginator(f, testConfig(10))
	result := p.Collect(context.Background(), "")

	assert.Equal(t, StopEmptyPage, result.Stop)
	assert.Len(t, result.Projects, 20)
	assert.Len(t, f.calls, 3)
}

func TestCollect_RetriesAreTransparent(t *testing.T) {
	build := func() *fakeFetcher {
		f := newFakeFetcher()
		f.pages[1] = &client.PageResponse{Data: records(1, 10)}
		f.pages[2] = &client.PageResponse{Data: records(11, 10)}
		f.pages[3] = &client.PageResponse{Data: records(21, 4)}
		return f
	}

	clean := build()
	p, _ := newTestPaginator(clean, testConfig(10))
	want := p.Collect(context.Background(), "")

	flaky := build()
	flaky.failures[2] = 2 // two failures, third attempt succeeds
	p, _ = newTestPaginator(flaky, testConfig(10))
	got := p.Collect(context.Background(), "")

	assert.Equal(t, StopShortPage, got.Stop)
	assert.Equal(t, 3, flaky.attempts[2])
	if diff := cmp.Diff(want.Projects, got.Projects); diff != "" {
		t.Errorf("records differ after retries (-want +got):\n%s", diff)
	}
}

func TestCollect_RetriesExhausted(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: records(1, 10)}
	f.pages[2] = &client.PageResponse{Data: records(11, 10)}
	f.pages[4] = &client.PageResponse{Data: records(31, 10)}
	f.failures[3] = -1

	p, _ := newTestPaginator(f, testConfig(10))
	result := p.Collect(context.Background(), "")

	assert.Equal(t, StopRetriesExhausted, result.Stop)
	assert.False(t, result.Complete())
	assert.Len(t, result.Projects, 20, "only strictly prior pages are kept")
	assert.Equal(t, 3, f.attempts[3], "exactly MaxRetries attempts")
	assert.Zero(t, f.attempts[4], "pagination ends at the failing page")

	var fe *client.FetchError
	require.ErrorAs(t, result.Err, &fe)
	assert.Equal(t, client.ErrorClassServer, fe.Class)
}

func TestCollect_SingleAttempt(t *testing.T) {
	f := newFakeFetcher()
	f.failures[1] = -1

	cfg := testConfig(10)
	cfg.MaxRetries = 1
	p, _ := newTestPaginator(f, cfg)
	result := p.Collect(context.Background(), "")

	assert.Equal(t, StopRetriesExhausted, result.Stop)
	assert.Equal(t, 1, f.attempts[1])
	assert.Empty(t, result.Projects)
}

func TestCollect_ConstantRetryDelay(t *testing.T) {
	f := newFakeFetcher()
	f.failures[1] = -1

	cfg := testConfig(10)
	cfg.MaxRetries = 4
	cfg.RetryDelay = 30 * time.Millisecond
	p, _ := newTestPaginator(f, cfg)
	p.Collect(context.Background(), "")

	times := f.times[1]
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, 25*time.Millisecond, "gap %d", i)
		assert.Less(t, gap, 500*time.Millisecond, "gap %d should not grow", i)
	}
}

func TestCollect_InvalidRequestNotRetried(t *testing.T) {
	f := newFakeFetcher()
	f.failures[1] = -1
	f.err = fmt.Errorf("%w: per_page must be > 0", client.ErrInvalidRequest)

	p, _ := newTestPaginator(f, testConfig(10))
	result := p.Collect(context.Background(), "")

	assert.Equal(t, StopRetriesExhausted, result.Stop)
	assert.Equal(t, 1, f.attempts[1])
	assert.ErrorIs(t, result.Err, client.ErrInvalidRequest)
}

func TestCollect_PageDelayBetweenPages(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: records(1, 10)}
	f.pages[2] = &client.PageResponse{Data: records(11, 10)}
	f.pages[3] = &client.PageResponse{Data: records(21, 2)}

	cfg := testConfig(10)
	cfg.PageDelay = time.Second
	p, sleeps := newTestPaginator(f, cfg)
	p.Collect(context.Background(), "")

	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps, "no pause after the last page")
}

func TestCollect_RequestParameters(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: records(1, 50)}
	f.pages[2] = &client.PageResponse{Data: records(51, 1)}

	p, _ := newTestPaginator(f, testConfig(50))
	p.Collect(context.Background(), "Ongoing")

	want := []client.PageRequest{
		{Status: "Ongoing", Page: 1, PerPage: 50, SortBy: "cost", SortDirection: "DESC"},
		{Status: "Ongoing", Page: 2, PerPage: 50, SortBy: "cost", SortDirection: "DESC"},
	}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect_CancelledBetweenPages(t *testing.T) {
	f := newFakeFetcher()
	f.pages[1] = &client.PageResponse{Data: records(1, 10)}
	f.pages[2] = &client.PageResponse{Data: records(11, 10)}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPaginator(f, testConfig(10), zerolog.Nop())
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	result := p.Collect(ctx, "")

	assert.Equal(t, StopCancelled, result.Stop)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Len(t, result.Projects, 10)
	assert.Len(t, f.calls, 1)
}

func TestCollect_CancelledDuringRetry(t *testing.T) {
	f := newFakeFetcher()
	f.failures[1] = -1

	cfg := testConfig(10)
	cfg.RetryDelay = time.Minute
	p, _ := newTestPaginator(f, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := p.Collect(ctx, "")

	assert.Equal(t, StopCancelled, result.Stop)
	assert.True(t, errors.Is(result.Err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero per page", func(c *Config) { c.PerPage = 0 }},
		{"zero max retries", func(c *Config) { c.MaxRetries = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
		{"negative page delay", func(c *Config) { c.PageDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewPaginator_NormalizesConfig(t *testing.T) {
	p := NewPaginator(newFakeFetcher(), Config{PerPage: -1, MaxRetries: 0, RetryDelay: -1, PageDelay: -1}, zerolog.Nop())
	cfg := p.Config()

	assert.Equal(t, 100, cfg.PerPage)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Zero(t, cfg.RetryDelay)
	assert.Zero(t, cfg.PageDelay)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.PerPage)
	assert.Equal(t, "cost", cfg.SortBy)
	assert.Equal(t, "DESC", cfg.SortDirection)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, time.Second, cfg.PageDelay)
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "rate_limit", errorClass(&client.FetchError{Class: client.ErrorClassRateLimit}))
	assert.Equal(t, "decode", errorClass(fmt.Errorf("wrap: %w", &client.FetchError{Class: client.ErrorClassDecode})))
	assert.Equal(t, "cancelled", errorClass(context.Canceled))
	assert.Equal(t, "unknown", errorClass(errors.New("boom")))
}
