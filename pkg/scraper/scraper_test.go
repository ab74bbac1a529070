package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/dime-scraper/internal/testutil"
	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/Sternrassler/dime-scraper/pkg/output"
	"github.com/Sternrassler/dime-scraper/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	results map[string]pagination.Result
	calls   []string
}

func (f *fakeCollector) Collect(ctx context.Context, status string) pagination.Result {
	f.calls = append(f.calls, status)
	if r, ok := f.results[status]; ok {
		return r
	}
	return pagination.Result{Stop: pagination.StopEmptyPage}
}

type writeCall struct {
	prefix  string
	records int
}

type fakeWriter struct {
	calls []writeCall
	fail  map[string]error
}

func (f *fakeWriter) Write(records []client.Project, prefix string) ([]string, error) {
	f.calls = append(f.calls, writeCall{prefix: prefix, records: len(records)})
	if err := f.fail[prefix]; err != nil {
		return nil, err
	}
	return []string{prefix + "_part_001_of_001.json"}, nil
}

func projects(n int) []client.Project {
	out := make([]client.Project, n)
	for i := range out {
		out[i] = client.Project(fmt.Sprintf(`{"id":%d}`, i+1))
	}
	return out
}

func newTestScraper(c Collector, w ChunkWriter, cfg Config) (*Scraper, *[]time.Duration) {
	s := New(c, w, cfg, zerolog.Nop())
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return s, &sleeps
}

func TestRun_Unfiltered(t *testing.T) {
	collector := &fakeCollector{results: map[string]pagination.Result{
		"": {Projects: projects(5), Pages: 1, Stop: pagination.StopShortPage},
	}}
	writer := &fakeWriter{}
	s, sleeps := newTestScraper(collector, writer, DefaultConfig())

	reports, err := s.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{""}, collector.calls)
	assert.Equal(t, []writeCall{{"dime_projects_all", 5}}, writer.calls)
	require.Len(t, reports, 1)
	assert.Equal(t, 5, reports[0].Projects)
	assert.Len(t, reports[0].Files, 1)
	assert.Empty(t, *sleeps)
}

func TestRun_MultipleStatuses(t *testing.T) {
	collector := &fakeCollector{results: map[string]pagination.Result{
		"Completed": {Projects: projects(3), Stop: pagination.StopLastPage},
		"Ongoing":   {Projects: projects(2), Stop: pagination.StopLastPage},
	}}
	writer := &fakeWriter{}
	s, sleeps := newTestScraper(collector, writer, DefaultConfig())

	reports, err := s.Run(context.Background(), []string{"Completed", "Ongoing", "Cancelled"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Completed", "Ongoing", "Cancelled"}, collector.calls)
	assert.Equal(t, []writeCall{
		{"dime_projects_completed", 3},
		{"dime_projects_ongoing", 2},
	}, writer.calls, "empty statuses are not written")
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *sleeps)
	require.Len(t, reports, 3)
	assert.Zero(t, reports[2].Projects)
	assert.Empty(t, reports[2].Files)
}

func TestRun_PartialResultIsWritten(t *testing.T) {
	collector := &fakeCollector{results: map[string]pagination.Result{
		"": {
			Projects: projects(200),
			Pages:    2,
			Stop:     pagination.StopRetriesExhausted,
			Err:      errors.New("fetch page 3: server error"),
		},
	}}
	writer := &fakeWriter{}
	s, _ := newTestScraper(collector, writer, DefaultConfig())

	reports, err := s.Run(context.Background(), nil)
	require.NoError(t, err, "retry exhaustion is not a run error")

	assert.Equal(t, []writeCall{{"dime_projects_all", 200}}, writer.calls)
	assert.Equal(t, pagination.StopRetriesExhausted, reports[0].Stop)
}

func TestRun_CancelledResultIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	collector := &fakeCollector{results: map[string]pagination.Result{
		"Completed": {Projects: projects(50), Stop: pagination.StopCancelled, Err: context.Canceled},
	}}
	writer := &fakeWriter{}
	s, _ := newTestScraper(collector, writer, DefaultConfig())

	reports, err := s.Run(ctx, []string{"Completed", "Ongoing"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, writer.calls)
	assert.Equal(t, []string{"Completed"}, collector.calls)
	require.Len(t, reports, 1)
}

func TestRun_WriteErrorsContinue(t *testing.T) {
	collector := &fakeCollector{results: map[string]pagination.Result{
		"Completed": {Projects: projects(3), Stop: pagination.StopLastPage},
		"Ongoing":   {Projects: projects(2), Stop: pagination.StopLastPage},
	}}
	diskFull := &output.WriteError{Op: "write", Path: "x.json", Err: errors.New("no space left on device")}
	writer := &fakeWriter{fail: map[string]error{"dime_projects_completed": diskFull}}
	s, _ := newTestScraper(collector, writer, DefaultConfig())

	reports, err := s.Run(context.Background(), []string{"Completed", "Ongoing"})

	require.Error(t, err)
	assert.True(t, output.IsWriteError(err))
	assert.Len(t, writer.calls, 2, "second status still written")
	assert.Error(t, reports[0].Err)
	assert.NoError(t, reports[1].Err)
}

func TestRun_Target(t *testing.T) {
	collector := &fakeCollector{results: map[string]pagination.Result{
		"Completed": {Projects: projects(10), Stop: pagination.StopLastPage},
		"Ongoing":   {Projects: projects(4), Stop: pagination.StopLastPage},
	}}
	s, _ := newTestScraper(collector, &fakeWriter{}, Config{Target: 5})

	reports, err := s.Run(context.Background(), []string{"Completed", "Ongoing"})
	require.NoError(t, err)

	assert.True(t, reports[0].TargetReached)
	assert.False(t, reports[1].TargetReached)
}

func TestRun_AgainstMockAPI(t *testing.T) {
	mock := testutil.NewMockDIME(25, "Completed", "Ongoing")
	defer mock.Close()

	cfg := client.DefaultConfig(mock.URL())
	c, err := client.New(cfg, zerolog.Nop())
	require.NoError(t, err)

	pcfg := pagination.DefaultConfig()
	pcfg.PerPage = 5
	pcfg.PageDelay = 0
	pcfg.RetryDelay = time.Millisecond
	paginator := pagination.NewPaginator(c, pcfg, zerolog.Nop())

	dir := t.TempDir()
	wcfg := output.DefaultConfig(c.BaseURL())
	wcfg.OutputDir = dir
	wcfg.RecordsPerFile = 4
	wcfg.RunID = "run-mock"
	writer, err := output.NewWriter(wcfg, zerolog.Nop())
	require.NoError(t, err)

	s := New(paginator, writer, Config{StatusDelay: 0}, zerolog.Nop())
	reports, err := s.Run(context.Background(), []string{"Completed", "Ongoing"})
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, 13, reports[0].Projects)
	assert.Equal(t, 12, reports[1].Projects)
	assert.Len(t, reports[0].Files, 4)
	assert.Len(t, reports[1].Files, 3)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 7)

	for _, e := range entries {
		file, err := output.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.Equal(t, "run-mock", file.Metadata.RunID)
		assert.True(t,
			strings.HasPrefix(e.Name(), "dime_projects_completed_") || strings.HasPrefix(e.Name(), "dime_projects_ongoing_"),
			"unexpected file %s", e.Name())
	}
}
