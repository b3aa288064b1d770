// Package app wires configuration into the concrete stores and services
// shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/directory"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

const lockPrefix = "clinic:lock:"

type App struct {
	Config config.Config
	Log    zerolog.Logger
	Clock  clock.Clock

	Pool   *pgxpool.Pool   // nil with the memory driver
	Redis  *redis.Client   // nil when Redis is disabled
	Memory *memstore.Store // only with the memory driver

	Directory     directory.Directory
	Treatments    treatment.Log
	Hub           *realtime.Hub
	Feed          realtime.Feed
	Appointments  *appointment.Service
	Notifications *notification.Service
	Mailbox       *mailbox.Service
	Reminders     reminder.Runner

	redisFeed *realtime.RedisFeed
}

type repositories struct {
	appointments  appointment.Repository
	notifications notification.Repository
	messages      mailbox.Repository
}

// New connects to the configured backends and builds every service.
// Callers must Close the result.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    log,
		Clock:  clock.System(),
		Hub:    realtime.NewHub(realtime.DefaultBuffer),
	}

	repos, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		slotLocker     redisclient.Locker = redisclient.NopLocker{}
		reminderLocker redisclient.Locker = redisclient.NopLocker{}
	)
	a.Feed = a.Hub

	if cfg.RedisEnabled() {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		slotLocker = redisclient.NewRedisLocker(rdb, lockPrefix, cfg.LockTTL)
		reminderLocker = redisclient.NewRedisLocker(rdb, lockPrefix, cfg.ReminderLockTTL)
		a.redisFeed = realtime.NewRedisFeed(rdb, a.Hub, log)
		a.Feed = a.redisFeed
	}

	a.Notifications = notification.NewService(repos.notifications, a.Feed, a.Clock, cfg.PageSize, log)
	a.Appointments = appointment.NewService(repos.appointments, a.Directory, slotLocker, a.Clock, log)
	a.Mailbox = mailbox.NewService(repos.messages, a.Feed, a.Notifications, a.Directory, a.Clock, log)

	gen := reminder.NewGenerator(repos.appointments, a.Treatments, a.Directory, a.Notifications, a.Clock, cfg.ClinicTimezone, log)
	a.Reminders = reminder.WithDailyLock(gen, reminderLocker, a.Clock, cfg.ClinicTimezone)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repositories, error) {
	if a.Config.StoreDriver == config.DriverMemory {
		a.Memory = memstore.New(a.Clock)
		a.Directory = a.Memory.Directory
		a.Treatments = a.Memory.Treatments
		a.Log.Warn().Msg("using in-memory store; data is lost on exit")
		return repositories{
			appointments:  a.Memory.Appointments,
			notifications: a.Memory.Notifications,
			messages:      a.Memory.Messages,
		}, nil
	}

	pool, err := db.ConnectPostgres(ctx, a.Config.PostgresDSN, a.Config.PostgresMaxConns)
	if err != nil {
		return repositories{}, fmt.Errorf("postgres: %w", err)
	}
	a.Pool = pool
	a.Log.Info().Msg("connected to Postgres")

	if a.Config.AutoMigrate {
		applied, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
		if err != nil {
			return repositories{}, err
		}
		a.Log.Info().Strs("applied", applied).Msg("migrations up to date")
	}

	a.Directory = directory.NewPgDirectory(pool)
	a.Treatments = treatment.NewPgLog(pool)
	return repositories{
		appointments:  appointment.NewPgRepository(pool),
		notifications: notification.NewPgRepository(pool),
		messages:      mailbox.NewPgRepository(pool),
	}, nil
}

// RunFeed pumps the Redis change feed into the local hub until ctx ends.
// Without Redis there is nothing to pump and it just waits.
func (a *App) RunFeed(ctx context.Context) error {
	if a.redisFeed == nil {
		<-ctx.Done()
		return nil
	}
	return a.redisFeed.Run(ctx)
}

// Checks are the readiness probes for the configured backends.
func (a *App) Checks() []api.Check {
	var checks []api.Check
	if a.Pool != nil {
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: a.Pool.Ping})
	}
	if a.Redis != nil {
		checks = append(checks, api.Check{Name: "redis", Ping: redisclient.PingFunc(a.Redis)})
	}
	return checks
}

func (a *App) RouterConfig(version string) api.RouterConfig {
	return api.RouterConfig{
		Appointments:  a.Appointments,
		Notifications: a.Notifications,
		Mailbox:       a.Mailbox,
		Reminders:     a.Reminders,
		Feed:          a.Feed,
		Checks:        a.Checks(),
		Logger:        a.Log,
		RateRPS:       a.Config.RateRPS,
		RateBurst:     a.Config.RateBurst,
		Env:           a.Config.Env,
		Version:       version,
	}
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("close redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
