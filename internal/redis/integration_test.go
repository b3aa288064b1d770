//go:build integration

package redisclient_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hackgods/clinic-scheduling/internal/realtime"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var rdb *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start redis container: %v\n", err)
		os.Exit(1)
	}

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379")

	rdb, err = redisclient.NewRedisClient(ctx, host+":"+port.Port(), "", "")
	if err != nil {
		_ = c.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "connect redis: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = rdb.Close()
	_ = c.Terminate(ctx)
	os.Exit(code)
}

func TestRedisLocker_ExcludesConcurrentHolders(t *testing.T) {
	locker := redisclient.NewRedisLocker(rdb, "test:lock:", 5*time.Second)
	key := "slot:" + uuid.NewString()

	var (
		wg       sync.WaitGroup
		ran      atomic.Int32
		rejected atomic.Int32
		release  = make(chan struct{})
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), key, func(context.Context) error {
				ran.Add(1)
				<-release
				return nil
			})
			if errors.Is(err, redisclient.ErrLockNotAcquired) {
				rejected.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return ran.Load()+rejected.Load() == 10 }, 5*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, ran.Load())
	assert.EqualValues(t, 9, rejected.Load())

	// released: the next caller gets in
	require.NoError(t, locker.WithLock(context.Background(), key, func(context.Context) error { return nil }))
}

func TestRedisLocker_ReleasesOnError(t *testing.T) {
	locker := redisclient.NewRedisLocker(rdb, "test:lock:", 5*time.Second)
	key := "reminders:" + uuid.NewString()
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), key, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	exists, err := rdb.Exists(context.Background(), "test:lock:"+key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisFeed_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := realtime.NewHub(8)
	feed := realtime.NewRedisFeed(rdb, hub, zerolog.Nop())
	go func() { _ = feed.Run(ctx) }()

	user := uuid.New()
	topic := realtime.Topic("notifications", "user_id", user)
	sub := feed.Subscribe(topic)
	defer sub.Close()

	ev, err := realtime.NewChangeEvent("notifications", realtime.EventInsert, map[string]string{"id": "n1"}, nil, time.Now())
	require.NoError(t, err)

	// PSUBSCRIBE is asynchronous; publish until the first event comes back.
	var got realtime.ChangeEvent
	require.Eventually(t, func() bool {
		_ = feed.Publish(ctx, topic, ev)
		select {
		case got = <-sub.C:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "notifications", got.Table)
	assert.Equal(t, realtime.EventInsert, got.Type)
}
