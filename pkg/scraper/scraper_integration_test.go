//go:build integration

package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/dime-scraper/internal/testutil"
	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/Sternrassler/dime-scraper/pkg/output"
	"github.com/Sternrassler/dime-scraper/pkg/pagination"
	"github.com/Sternrassler/dime-scraper/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "start Redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, rdb.Ping(ctx).Err())

	t.Cleanup(func() {
		rdb.Close()
		container.Terminate(ctx)
	})
	return rdb
}

func TestIntegration_ScrapeWithRedis(t *testing.T) {
	rdb := setupRedis(t)

	mock := testutil.NewMockDIME(120, "Completed")
	defer mock.Close()
	mock.SetHeaders(map[string]string{
		"X-RateLimit-Limit":     "60",
		"X-RateLimit-Remaining": "55",
	})
	mock.FailPage(2, testutil.NewRateLimitResponse(1))

	ccfg := client.DefaultConfig(mock.URL())
	ccfg.Redis = rdb
	ccfg.CacheResponses = true
	c, err := client.New(ccfg, zerolog.Nop())
	require.NoError(t, err)

	pcfg := pagination.DefaultConfig()
	pcfg.PerPage = 50
	pcfg.PageDelay = 0
	pcfg.RetryDelay = 10 * time.Millisecond
	paginator := pagination.NewPaginator(c, pcfg, zerolog.Nop())

	wcfg := output.DefaultConfig(c.BaseURL())
	wcfg.OutputDir = t.TempDir()
	wcfg.RecordsPerFile = 100
	writer, err := output.NewWriter(wcfg, zerolog.Nop())
	require.NoError(t, err)

	s := New(paginator, writer, Config{Target: 100}, zerolog.Nop())
	reports, err := s.Run(context.Background(), []string{"Completed"})
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, 120, reports[0].Projects)
	assert.Equal(t, pagination.StopLastPage, reports[0].Stop)
	assert.True(t, reports[0].TargetReached)
	assert.Len(t, reports[0].Files, 2)
	assert.Equal(t, 2, mock.PageRequests(2), "429 retried once")

	remaining, err := rdb.Get(context.Background(), ratelimit.RedisKeyRemaining).Int()
	require.NoError(t, err)
	assert.Equal(t, 55, remaining)
}
