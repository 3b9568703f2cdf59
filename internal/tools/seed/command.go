package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/config"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/database"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/events"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/service"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/tools/common"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/tools/ui"
)

type options struct {
	envFile string
	actor   string
	ci      bool
}

type demoUser struct {
	email string
	name  string
	roles []string
}

// demoUsers is the fixture set every environment gets. Registration
// goes through the service layer with fixed idempotency keys, so
// re-running apply replays instead of failing on the email claims.
func demoUsers() []demoUser {
	return []demoUser{
		{email: "alice@example.test", name: "Alice Admin", roles: []string{"admin"}},
		{email: "bob@example.test", name: "Bob Builder", roles: []string{"editor"}},
		{email: "carol@example.test", name: "Carol Reader", roles: nil},
	}
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "seed", Short: "Demo identity seed tooling"}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().StringVar(&opts.actor, "actor", "seed-tool", "actor recorded on seeded audit entries")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newApplyCommand(opts), newDryRunCommand(opts))
	return cmd
}

func newApplyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Register demo identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "seed apply", func(ctx context.Context) ([]string, error) {
				users, closeFn, err := buildUserService(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeFn()

				var details []string
				for _, du := range demoUsers() {
					res, err := users.Register(ctx, service.RegisterCommand{
						IdempotencyKey: "seed-register-" + du.email,
						Actor:          opts.actor,
						Email:          du.email,
						Name:           du.name,
					})
					if err != nil {
						return details, fmt.Errorf("register %s: %w", du.email, err)
					}
					state := "registered"
					if res.Replayed {
						state = "already present"
					}
					details = append(details, fmt.Sprintf("%s: %s (%s)", du.email, res.User.UserID, state))

					for _, role := range du.roles {
						if _, err := users.AssignRole(ctx, service.RoleCommand{
							IdempotencyKey: "seed-role-" + du.email + "-" + role,
							Actor:          opts.actor,
							UserID:         res.User.UserID,
							Role:           role,
						}); err != nil {
							return details, fmt.Errorf("assign role %s to %s: %w", role, du.email, err)
						}
						details = append(details, fmt.Sprintf("%s: role %s assigned", du.email, role))
					}
				}
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "seed apply", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
}

func newDryRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Show what seeding would do",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "seed dry-run", func(ctx context.Context) ([]string, error) {
				if err := common.LoadEnvFile(opts.envFile); err != nil {
					return nil, err
				}
				cfg, err := config.Load()
				if err != nil {
					return nil, err
				}
				details := []string{"storage backend: " + cfg.StorageBackend}
				for _, du := range demoUsers() {
					line := fmt.Sprintf("would register %s (%s)", du.email, du.name)
					for _, role := range du.roles {
						line += ", role " + role
					}
					details = append(details, line)
				}
				details = append(details, "no mutation executed in dry-run mode")
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "seed dry-run", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		return fn(context.Background())
	}
	return ui.Run(title, fn)
}

// buildUserService wires the same service stack the API runs, minus the
// HTTP surface. Audit entries go to the log publisher regardless of the
// configured one; seeding should not depend on a broker being up.
func buildUserService(envFile string) (service.UserServiceInterface, func(), error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.DiscardHandler)

	var store storage.Store
	closeFn := func() {}
	switch cfg.StorageBackend {
	case config.StorageBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store = storage.NewRedisStore(client)
		closeFn = func() { _ = client.Close() }
	case config.StorageBackendPostgres:
		db, err := database.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(db); err != nil {
			return nil, nil, err
		}
		store = storage.NewSQLStore(db)
		closeFn = func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	userRepo := repository.NewUserRepository(store)
	auditRepo := repository.NewAuditRepository(store)
	idemRepo := repository.NewIdempotencyRepository(store)
	guard := service.NewIdempotencyGuard(idemRepo, logger, cfg.IdempotencyPendingTTL, cfg.IdempotencyCompletedTTL)
	recorder := service.NewAuditRecorder(auditRepo, events.NewLogPublisher(logger), logger)
	return service.NewUserService(userRepo, guard, recorder), closeFn, nil
}
