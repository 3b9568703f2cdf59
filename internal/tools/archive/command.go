package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/config"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/database"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/service"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/tools/common"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/tools/ui"
)

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "archive", Short: "Export audit trails to object storage"}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newUserCommand(opts), newAllCommand(opts))
	return cmd
}

func newUserCommand(opts *options) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Archive one user's audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "archive user", func(ctx context.Context) ([]string, error) {
				if strings.TrimSpace(userID) == "" {
					return nil, fmt.Errorf("--id is required")
				}
				archiver, closeFn, err := buildArchiver(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeFn()

				res, err := archiver.ArchiveUser(ctx, userID)
				if err != nil {
					return nil, err
				}
				return []string{formatResult(res)}, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "archive user", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "id", "", "user id to archive")
	return cmd
}

func newAllCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Archive audit trails for every user",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "archive all", func(ctx context.Context) ([]string, error) {
				archiver, closeFn, err := buildArchiver(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeFn()

				results, err := archiver.ArchiveAll(ctx)
				if err != nil {
					return nil, err
				}
				total := 0
				details := make([]string, 0, len(results)+1)
				for _, res := range results {
					total += res.Entries
					details = append(details, formatResult(res))
				}
				details = append(details, fmt.Sprintf("archived %d entries across %d users", total, len(results)))
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "archive all", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
}

func formatResult(res service.ArchiveResult) string {
	if res.Object == "" {
		return fmt.Sprintf("user=%s entries=%d (nothing to archive)", res.UserID, res.Entries)
	}
	return fmt.Sprintf("user=%s entries=%d object=%s", res.UserID, res.Entries, res.Object)
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func buildArchiver(envFile string) (*service.AuditArchiver, func(), error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.ArchiveEndpoint == "" {
		return nil, nil, fmt.Errorf("ARCHIVE_S3_ENDPOINT is required")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

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
		store = storage.NewSQLStore(db)
		closeFn = func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	archiver, err := service.NewAuditArchiver(
		cfg.ArchiveEndpoint,
		cfg.ArchiveAccessKey,
		cfg.ArchiveSecretKey,
		cfg.ArchiveBucket,
		cfg.ArchiveUseSSL,
		repository.NewUserRepository(store),
		repository.NewAuditRepository(store),
		cfg.ArchiveWorkers,
		logger,
	)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return archiver, closeFn, nil
}
