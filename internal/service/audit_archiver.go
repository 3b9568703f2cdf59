package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
)

const (
	archivePathPrefix      = "audit"
	archiveContentType     = "application/x-ndjson"
	defaultArchiveWorkers  = 4
	archiveObjectTimestamp = "20060102T150405Z"
)

var (
	ErrArchiveBucketFailed = errors.New("failed to prepare archive bucket")
	ErrArchiveUploadFailed = errors.New("failed to upload archive object")
)

// ArchiveResult describes one exported audit partition.
type ArchiveResult struct {
	UserID  string `json:"userId"`
	Entries int    `json:"entries"`
	Object  string `json:"object,omitempty"`
}

// AuditArchiver exports audit partitions as gzipped NDJSON objects in
// an S3-compatible bucket. Retention is an operational concern; the
// archiver only copies, it never deletes trail entries.
type AuditArchiver struct {
	client  *minio.Client
	users   repository.UserRepository
	audits  repository.AuditRepository
	bucket  string
	workers int
	logger  *slog.Logger
	now     func() time.Time

	initOnce sync.Once
	initErr  error
}

// NewAuditArchiver creates an archiver against a MinIO/S3 endpoint.
// Bucket creation is deferred until the first export.
func NewAuditArchiver(endpoint, accessKey, secretKey, bucket string, useSSL bool, users repository.UserRepository, audits repository.AuditRepository, workers int, logger *slog.Logger) (*AuditArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if workers < 1 {
		workers = defaultArchiveWorkers
	}
	return &AuditArchiver{
		client:  client,
		users:   users,
		audits:  audits,
		bucket:  bucket,
		workers: workers,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (a *AuditArchiver) lazyInit(ctx context.Context) error {
	a.initOnce.Do(func() {
		a.initErr = a.ensureBucketExists(ctx)
	})
	return a.initErr
}

func (a *AuditArchiver) ensureBucketExists(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket existence: %v", ErrArchiveBucketFailed, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrArchiveBucketFailed, err)
		}
	}
	return nil
}

// ArchiveUser exports one user's full trail in ascending sequence
// order as a single object. A user with no entries produces no object.
func (a *AuditArchiver) ArchiveUser(ctx context.Context, userID string) (ArchiveResult, error) {
	if err := a.lazyInit(ctx); err != nil {
		return ArchiveResult{}, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	entries := 0
	token := ""
	for {
		page, err := a.audits.ListByUser(ctx, userID, token, repository.MaxLimit)
		if err != nil {
			observability.RecordAuditArchive(ctx, "error", int64(entries))
			return ArchiveResult{}, fmt.Errorf("list audit entries for user %s: %w", userID, err)
		}
		for _, entry := range page.Items {
			if err := enc.Encode(entry); err != nil {
				return ArchiveResult{}, fmt.Errorf("encode audit entry %s/%d: %w", entry.UserID, entry.Seq, err)
			}
			entries++
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	if err := gz.Close(); err != nil {
		return ArchiveResult{}, fmt.Errorf("finish archive stream: %w", err)
	}
	if entries == 0 {
		return ArchiveResult{UserID: userID}, nil
	}

	objectKey := fmt.Sprintf("%s/%s/%s.ndjson.gz", archivePathPrefix, userID, a.now().Format(archiveObjectTimestamp))
	_, err := a.client.PutObject(ctx, a.bucket, objectKey, bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType:     archiveContentType,
		ContentEncoding: "gzip",
		UserMetadata: map[string]string{
			"User-Id":     userID,
			"Entry-Count": fmt.Sprintf("%d", entries),
			"Exported-At": a.now().Format(time.RFC3339),
		},
	})
	if err != nil {
		observability.RecordAuditArchive(ctx, "error", int64(entries))
		return ArchiveResult{}, fmt.Errorf("%w: %v", ErrArchiveUploadFailed, err)
	}

	observability.RecordAuditArchive(ctx, "success", int64(entries))
	a.logger.InfoContext(ctx, "audit partition archived",
		"user_id", userID,
		"entries", entries,
		"object", objectKey,
	)
	return ArchiveResult{UserID: userID, Entries: entries, Object: objectKey}, nil
}

// ArchiveAll sweeps every listable user and exports each trail on a
// bounded worker pool. Deleted users drop out of the status partitions,
// so the sweep covers active and disabled; their trails stay reachable
// through ArchiveUser by id.
func (a *AuditArchiver) ArchiveAll(ctx context.Context) ([]ArchiveResult, error) {
	if err := a.lazyInit(ctx); err != nil {
		return nil, err
	}

	var userIDs []string
	for _, status := range []domain.Status{domain.StatusActive, domain.StatusDisabled} {
		token := ""
		for {
			page, err := a.users.ListByStatus(ctx, status, token, repository.MaxLimit)
			if err != nil {
				return nil, fmt.Errorf("list %s users: %w", status, err)
			}
			for _, summary := range page.Items {
				userIDs = append(userIDs, summary.UserID)
			}
			if page.NextToken == "" {
				break
			}
			token = page.NextToken
		}
	}

	var (
		mu      sync.Mutex
		results []ArchiveResult
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, userID := range userIDs {
		g.Go(func() error {
			result, err := a.ArchiveUser(ctx, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
