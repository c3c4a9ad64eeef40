package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tommypj/ai-content-saas-backend/internal/cache"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// startRedis runs a throwaway redis and returns its URL. Skipped with -short.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint
}

func newCache(t *testing.T) (*cache.RedisCache, string) {
	t.Helper()
	url := startRedis(t)
	rc, err := cache.NewRedisCache(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(context.Background()))
	return rc, url
}

func succeededView(owner string) *models.JobView {
	tokens := int64(120)
	model := "gemini-1.5-flash"
	return &models.JobView{
		ID:         uuid.New(),
		UserID:     owner,
		Type:       models.JobTypeKeywords,
		Status:     models.JobStatusSucceeded,
		Result:     json.RawMessage(`{"keywords":[]}`),
		TokensUsed: &tokens,
		Model:      &model,
	}
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCache("not a url")
	assert.Error(t, err)
}

func TestJobView(t *testing.T) {
	rc, url := newCache(t)
	ctx := context.Background()

	t.Run("succeeded view is owner scoped", func(t *testing.T) {
		view := succeededView("user-1")
		require.NoError(t, rc.SetJobView(ctx, view, time.Minute))

		got, found, err := rc.GetJobView(ctx, view.ID, "user-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, view.ID, got.ID)
		assert.Equal(t, models.JobStatusSucceeded, got.Status)
		assert.JSONEq(t, `{"keywords":[]}`, string(got.Result))
		assert.EqualValues(t, 120, *got.TokensUsed)

		_, found, err = rc.GetJobView(ctx, view.ID, "user-2")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("failed view keeps its error", func(t *testing.T) {
		view := &models.JobView{
			ID:     uuid.New(),
			UserID: "user-1",
			Type:   models.JobTypeSEO,
			Status: models.JobStatusFailed,
			Error:  &models.JobError{Type: models.JobErrorPrecondition, Message: "content required"},
		}
		require.NoError(t, rc.SetJobView(ctx, view, time.Minute))

		got, found, err := rc.GetJobView(ctx, view.ID, "user-1")
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, got.Error)
		assert.Equal(t, models.JobErrorPrecondition, got.Error.Type)
		assert.Nil(t, got.Result)
	})

	t.Run("non-terminal views are refused", func(t *testing.T) {
		for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning} {
			view := succeededView("user-1")
			view.Status = status
			assert.Error(t, rc.SetJobView(ctx, view, time.Minute), status)

			_, found, err := rc.GetJobView(ctx, view.ID, "user-1")
			require.NoError(t, err)
			assert.False(t, found, status)
		}
	})

	t.Run("miss", func(t *testing.T) {
		view, found, err := rc.GetJobView(ctx, uuid.New(), "user-1")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, view)
	})

	t.Run("corrupt entry", func(t *testing.T) {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		raw := redis.NewClient(opts)
		defer raw.Close()

		id := uuid.New()
		require.NoError(t, raw.Set(ctx, cache.JobViewKey(id, "user-1"), "{", time.Minute).Err())

		_, found, err := rc.GetJobView(ctx, id, "user-1")
		assert.Error(t, err)
		assert.False(t, found)
	})
}

func TestJobView_Expires(t *testing.T) {
	rc, _ := newCache(t)
	ctx := context.Background()
	view := succeededView("user-1")

	require.NoError(t, rc.SetJobView(ctx, view, time.Second))
	assert.Eventually(t, func() bool {
		_, found, err := rc.GetJobView(ctx, view.ID, "user-1")
		return err == nil && !found
	}, 5*time.Second, 100*time.Millisecond)
}

func TestIncrWithExpiry_CountsWithinWindow(t *testing.T) {
	rc, _ := newCache(t)
	ctx := context.Background()
	window := time.Now().Truncate(time.Minute).Unix()
	key := cache.RateLimitKey("user-"+uuid.NewString()[:8], window)

	for want := int64(1); want <= 3; want++ {
		got, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other, err := rc.IncrWithExpiry(ctx, cache.RateLimitKey("someone-else", window), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestIncrWithExpiry_WindowResets(t *testing.T) {
	rc, _ := newCache(t)
	ctx := context.Background()
	key := cache.RateLimitKey("user-1", time.Now().Unix())

	_, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)

	// Later increments must not push the expiry out.
	_, err = rc.IncrWithExpiry(ctx, key, time.Hour)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := rc.IncrWithExpiry(ctx, key, time.Second)
		return err == nil && n == 1
	}, 5*time.Second, 200*time.Millisecond)
}

func TestKeys(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, "job:user-1:22222222-2222-2222-2222-222222222222", cache.JobViewKey(jobID, "user-1"))
	assert.Equal(t, "ratelimit:user-1:29000000", cache.RateLimitKey("user-1", 29000000))

	seen := map[string]struct{}{}
	for _, k := range []string{
		cache.JobViewKey(jobID, "user-1"),
		cache.JobViewKey(jobID, "user-2"),
		cache.RateLimitKey("user-1", 1),
		cache.RateLimitKey("user-1", 2),
	} {
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, 4, fmt.Sprint(seen))
}
