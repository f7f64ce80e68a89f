//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/scroll-pager/internal/testutil"
	"github.com/Sternrassler/scroll-pager/pkg/pagecache"
	"github.com/Sternrassler/scroll-pager/pkg/pager"
	"github.com/Sternrassler/scroll-pager/pkg/ratelimit"
	"github.com/Sternrassler/scroll-pager/pkg/source"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newSource(t *testing.T, mock *testutil.MockPageServer) *source.Source[testutil.Item] {
	t.Helper()
	cfg := source.DefaultConfig(mock.URL())
	cfg.ItemsField = "photos.photo"
	cfg.Retry = source.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	src, err := source.New[testutil.Item](cfg)
	require.NoError(t, err)
	return src
}

func waitForCurrent(t *testing.T, p *pager.Pager[testutil.Item], current int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.State().Current == current
	}, 5*time.Second, 10*time.Millisecond, "current page never reached %d", current)
}

// TestScrollFlow covers Pager -> ReadThrough -> Redis -> Source -> upstream,
// and a second session served from Redis.
func TestScrollFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPageServer(200)
	defer mock.Close()
	mock.SetEnvelope("photos.photo")

	store := pagecache.NewStore(redisClient, time.Minute)
	src := newSource(t, mock)

	p, err := pager.New[testutil.Item](pager.Config{
		PageSize:         10,
		CachedPageLimit:  2,
		DebounceInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Close()

	fetch := pagecache.ReadThrough[testutil.Item](store, "photos", src.Params(), src.Fetch)

	stream, err := p.StartSession(fetch)
	require.NoError(t, err)

	first, ok := stream.Latest()
	require.True(t, ok)
	require.True(t, first.OK(), "first page failed: %v", first.Err)
	require.Len(t, first.Items, 10)
	require.Equal(t, 0, first.Items[0].ID)

	// Page 1 -> 2 -> 3 -> 4; the window never spans more than 2 pages.
	for i, index := range []int{9, 19, 25} {
		p.ReportVisibleIndex(index)
		waitForCurrent(t, p, i+2)
		require.LessOrEqual(t, p.State().Span(), 2)
	}

	latest, _ := stream.Latest()
	require.True(t, latest.OK())
	require.Equal(t, 2, latest.Window.First)
	require.Equal(t, 4, latest.Window.Last)
	require.Equal(t, 20, latest.Items[0].ID)

	for page := 1; page <= 4; page++ {
		require.Equal(t, 1, mock.GetPageRequests(page), "page %d", page)
	}

	// A new session reads every page back from Redis.
	_, err = p.StartSession(fetch)
	require.NoError(t, err)
	p.ReportVisibleIndex(9)
	waitForCurrent(t, p, 2)

	require.Equal(t, 1, mock.GetPageRequests(1))
	require.Equal(t, 1, mock.GetPageRequests(2))

	removed, err := store.Purge(context.Background(), "photos")
	require.NoError(t, err)
	require.Equal(t, 4, removed)
}

// TestUpstreamRecovery covers a transient upstream failure retried by the
// source and a permanent one surfaced as a pager failure, which a later scroll
// retries.
func TestUpstreamRecovery(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPageServer(100)
	defer mock.Close()
	mock.SetEnvelope("photos.photo")

	store := pagecache.NewStore(redisClient, time.Minute)
	src := newSource(t, mock)

	p, err := pager.New[testutil.Item](pager.Config{
		PageSize:         10,
		DebounceInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Close()

	mock.FailPage(1, http.StatusServiceUnavailable, 2)
	stream, err := p.StartSession(pagecache.ReadThrough[testutil.Item](store, "recovery", nil, src.Fetch))
	require.NoError(t, err)

	first, _ := stream.Latest()
	require.True(t, first.OK(), "transient failure should be retried: %v", first.Err)
	require.Equal(t, 3, mock.GetPageRequests(1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := stream.Subscribe(ctx)
	<-results // replayed first page

	mock.FailPage(2, http.StatusNotFound, 1)
	p.ReportVisibleIndex(9)

	failed := <-results
	require.False(t, failed.OK())
	require.ErrorIs(t, failed.Err, pager.ErrFetchFailed)
	var srcErr *source.SourceError
	require.ErrorAs(t, failed.Err, &srcErr)
	require.Equal(t, source.ErrorClassClient, srcErr.Class)
	require.Equal(t, 1, p.State().Current)

	// Failures are not cached, so the same position fetches again.
	p.ReportVisibleIndex(9)
	recovered := <-results
	require.True(t, recovered.OK(), "retry failed: %v", recovered.Err)
	require.Equal(t, 2, recovered.Window.Current)
}

// TestSharedRateLimit covers two sources sharing one quota through Redis:
// a 429 seen by one blocks the other for the cooldown.
func TestSharedRateLimit(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPageServer(100)
	defer mock.Close()
	mock.SetEnvelope("photos.photo")
	mock.SetHeader("X-RateLimit-Remaining", "50")
	mock.SetHeader("X-RateLimit-Reset", "60")

	limitCfg := ratelimit.DefaultConfig("shared")
	first := newSource(t, mock)
	first.SetGate(ratelimit.NewTracker(redisClient, limitCfg))
	second := newSource(t, mock)
	tracker := ratelimit.NewTracker(redisClient, limitCfg)
	second.SetGate(tracker)

	ctx := context.Background()
	_, err := first.Fetch(ctx, 1, 10)
	require.NoError(t, err)

	state, err := tracker.GetState(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, state.Remaining)

	mock.SetPageResponse(2, testutil.MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "60"},
		Times:      1,
	})
	_, err = first.Fetch(ctx, 2, 10)
	require.ErrorIs(t, err, source.ErrRetryExhausted)
	require.Equal(t, 1, mock.GetPageRequests(2))

	before := mock.GetRequestCount()
	_, err = second.Fetch(ctx, 3, 10)
	require.ErrorIs(t, err, source.ErrRetryExhausted)
	var srcErr *source.SourceError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, source.ErrorClassRateLimit, srcErr.Class)
	require.Equal(t, before, mock.GetRequestCount(), "blocked source must not reach upstream")

	require.NoError(t, tracker.Reset(ctx))
	_, err = second.Fetch(ctx, 3, 10)
	require.NoError(t, err)
}
