package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/realtime"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicctl",
		Short: "Clinic scheduling operator tool",
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				for _, name := range applied {
					fmt.Printf("applied %s\n", name)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", len(applied))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("migrations need STORE_DRIVER=%s", config.DriverPostgres)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, db.Migrations()))
}

func remindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Run the reminder generator once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel, cfg.LogPretty)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.ReminderLockTTL)
			defer cancel()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Reminders.Run(ctx)
			if errors.Is(err, reminder.ErrRunInProgress) {
				fmt.Println("another reminder run holds today's lock, nothing to do")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("appointment reminders: %d\n", res.AppointmentReminders)
			fmt.Printf("follow-up reminders:   %d\n", res.FollowUpReminders)
			fmt.Printf("skipped:               %d\n", res.Skipped)
			fmt.Printf("failed:                %d\n", res.Failed)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var (
		baseURL string
		user    string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a user's unread notification count live",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watch(ctx, baseURL, userID)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&user, "user", "", "User ID to watch")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// watch subscribes before fetching the list so no change between the two is lost.
func watch(ctx context.Context, baseURL string, userID uuid.UUID) error {
	wsURL, err := toWebSocketURL(baseURL, userID)
	if err != nil {
		return err
	}

	conn, _, err := gorillawebsocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	list, unreadTotal, err := fetchNotifications(ctx, baseURL, userID)
	if err != nil {
		return err
	}
	tracker := notification.NewUnreadTracker(nil)
	tracker.ResetTotal(list, unreadTotal)
	fmt.Printf("unread: %d\n", tracker.Count())

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var ev realtime.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		before := tracker.Count()
		after := tracker.Apply(ev)
		if after != before {
			fmt.Printf("%s %s %s unread: %d\n", ev.CommitTimestamp.Format(time.TimeOnly), ev.Table, ev.Type, after)
		} else if ev.Table != notification.Table {
			fmt.Printf("%s %s %s\n", ev.CommitTimestamp.Format(time.TimeOnly), ev.Table, ev.Type)
		}
	}
}

func toWebSocketURL(baseURL string, userID uuid.UUID) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid --url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"user_id": {userID.String()}}.Encode()
	return u.String(), nil
}

// fetchNotifications returns the newest page and the user's total unread count.
func fetchNotifications(ctx context.Context, baseURL string, userID uuid.UUID) ([]notification.Notification, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/notifications?limit=100", nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-User-ID", userID.String())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("list notifications: status %d", resp.StatusCode)
	}

	var page struct {
		Notifications []notification.Notification `json:"notifications"`
		UnreadCount   int                         `json:"unread_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, 0, fmt.Errorf("decode notifications: %w", err)
	}
	return page.Notifications, page.UnreadCount, nil
}
