package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRow is the single-table schema shared by every projection.
type RecordRow struct {
	PK        string     `gorm:"column:pk;primaryKey;size:512"`
	SK        string     `gorm:"column:sk;primaryKey;size:512"`
	Value     []byte     `gorm:"column:value;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
}

func (RecordRow) TableName() string { return "records" }

// SQLStore implements Store on one relational table keyed (pk, sk).
// Conditional puts rely on insert-conflict semantics plus row-count
// checks so the same code path works on postgres and sqlite; TTL is
// enforced on read and reclaimed on conditional create.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) Get(ctx context.Context, key Key) (*Record, error) {
	var row RecordRow
	err := s.db.WithContext(ctx).
		Where("pk = ? AND sk = ?", key.PK, key.SK).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get: %w", err)
	}
	if rowExpired(&row, s.now()) {
		return nil, ErrNotFound
	}
	return &Record{PK: row.PK, SK: row.SK, Value: row.Value}, nil
}

func (s *SQLStore) Put(ctx context.Context, rec Record, cond Condition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applyPut(tx, rec, cond)
	})
}

func (s *SQLStore) TransactWrite(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, w := range writes {
			switch {
			case w.Put != nil:
				if err := s.applyPut(tx, *w.Put, w.Condition); err != nil {
					if errors.Is(err, ErrConditionFailed) {
						return &ConditionError{Index: i}
					}
					return err
				}
			case w.Delete != nil:
				err := tx.Where("pk = ? AND sk = ?", w.Delete.PK, w.Delete.SK).
					Delete(&RecordRow{}).Error
				if err != nil {
					return fmt.Errorf("sql delete: %w", err)
				}
			default:
				return fmt.Errorf("storage: write has neither put nor delete")
			}
		}
		return nil
	})
}

// applyPut enforces the put condition inside the caller's transaction.
// Create-only puts insert with conflict-do-nothing and fall back to
// reclaiming an expired row; value-match puts update guarded by the
// expected bytes in the WHERE clause.
func (s *SQLStore) applyPut(tx *gorm.DB, rec Record, cond Condition) error {
	now := s.now()
	row := RecordRow{PK: rec.PK, SK: rec.SK, Value: rec.Value, ExpiresAt: rowExpiry(rec.ExpiresAt)}

	switch cond.Kind {
	case CondNone:
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pk"}, {Name: "sk"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("sql put: %w", res.Error)
		}
		return nil

	case CondIfAbsent:
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("sql conditional put: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
		takeover := tx.Model(&RecordRow{}).
			Where("pk = ? AND sk = ? AND expires_at IS NOT NULL AND expires_at <= ?", rec.PK, rec.SK, now).
			Updates(map[string]any{"value": rec.Value, "expires_at": rowExpiry(rec.ExpiresAt)})
		if takeover.Error != nil {
			return fmt.Errorf("sql conditional put takeover: %w", takeover.Error)
		}
		if takeover.RowsAffected == 1 {
			return nil
		}
		return ErrConditionFailed

	case CondValueEquals:
		res := tx.Model(&RecordRow{}).
			Where("pk = ? AND sk = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?)",
				rec.PK, rec.SK, cond.Expected, now).
			Updates(map[string]any{"value": rec.Value, "expires_at": rowExpiry(rec.ExpiresAt)})
		if res.Error != nil {
			return fmt.Errorf("sql value-match put: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
		return ErrConditionFailed

	default:
		return fmt.Errorf("storage: unknown condition kind %d", cond.Kind)
	}
}

func (s *SQLStore) Query(ctx context.Context, partition, afterSK string, limit int) ([]Record, string, error) {
	if limit <= 0 {
		return nil, "", fmt.Errorf("storage: query limit must be positive")
	}
	var rows []RecordRow
	q := s.db.WithContext(ctx).
		Where("pk = ? AND (expires_at IS NULL OR expires_at > ?)", partition, s.now()).
		Order("sk ASC").
		Limit(limit)
	if afterSK != "" {
		q = q.Where("sk > ?", afterSK)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("sql query: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{PK: row.PK, SK: row.SK, Value: row.Value})
	}
	next := ""
	if len(rows) == limit {
		next = rows[len(rows)-1].SK
	}
	return records, next, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func rowExpired(row *RecordRow, now time.Time) bool {
	return row.ExpiresAt != nil && !row.ExpiresAt.After(now)
}

func rowExpiry(expiresAt time.Time) *time.Time {
	if expiresAt.IsZero() {
		return nil
	}
	t := expiresAt.UTC()
	return &t
}
