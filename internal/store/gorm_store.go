package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oarkflow/followupd/internal/model"
)

// GormStore is the production Store, backed by sqlite through gorm. The
// teacher's storage_file.go held one mutex-guarded JSON file; here gorm and
// sqlite's own locking take over, and every multi-row write is wrapped in a
// transaction rather than protected by an in-process mutex.
type GormStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open creates (or attaches to) a sqlite database at path, applies the
// pragmas the spec's Data Model assumes (WAL, foreign keys, busy timeout),
// and runs AutoMigrate for every table.
func Open(path string, log zerolog.Logger) (*GormStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Followup{},
		&model.ActivityLog{},
		&model.Notification{},
		&model.Template{},
		&model.WhatsAppLog{},
		&model.SchedulerSettings{},
	); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &GormStore{db: db, log: log}, nil
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

func (s *GormStore) SaveUser(ctx context.Context, u *model.User) error {
	return s.db.WithContext(ctx).Save(u).Error
}

func (s *GormStore) GetFollowup(ctx context.Context, id string) (*model.Followup, error) {
	var f model.Followup
	if err := s.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &f, nil
}

func (s *GormStore) CreateFollowup(ctx context.Context, f *model.Followup) error {
	return s.db.WithContext(ctx).Create(f).Error
}

func (s *GormStore) UpdateFollowup(ctx context.Context, f *model.Followup) error {
	return s.db.WithContext(ctx).Save(f).Error
}

// DeleteFollowup removes a followup and its child ActivityLog rows in one
// transaction. ActivityLog has no gorm FK/association back to Followup, so
// the child rows must be deleted explicitly before the parent row or they
// are orphaned.
func (s *GormStore) DeleteFollowup(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("followup_id = ?", id).Delete(&model.ActivityLog{}).Error; err != nil {
			return fmt.Errorf("delete child activity logs: %w", err)
		}
		return tx.Delete(&model.Followup{}, "id = ?", id).Error
	})
}

// ListDueFollowups mirrors the Scheduler Loop's per-tick query: due items
// ordered ascending within each user, capped at perUserLimit per user.
func (s *GormStore) ListDueFollowups(ctx context.Context, before time.Time, perUserLimit int) (map[string][]*model.Followup, error) {
	var rows []*model.Followup
	err := s.db.WithContext(ctx).
		Where("status IN ? AND schedule_enabled = ? AND next_send_at <= ?", []model.FollowupStatus{model.StatusPending, model.StatusScheduled}, true, before).
		Order("user_id ASC, next_send_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string][]*model.Followup{}
	for _, f := range rows {
		if len(out[f.UserID]) >= perUserLimit {
			continue
		}
		out[f.UserID] = append(out[f.UserID], f)
	}
	return out, nil
}

// ListFollowupsByUser returns every followup for userID regardless of
// status or schedule state, most recently created first.
func (s *GormStore) ListFollowupsByUser(ctx context.Context, userID string) ([]*model.Followup, error) {
	var rows []*model.Followup
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) ListStaleRunning(ctx context.Context, staleBefore time.Time) ([]*model.Followup, error) {
	var rows []*model.Followup
	err := s.db.WithContext(ctx).
		Where("status = ? AND (last_attempt_at IS NULL OR last_attempt_at <= ?)", model.StatusRunning, staleBefore).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) ListUserIDsWithScheduling(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Followup{}).
		Where("schedule_enabled = ?", true).
		Distinct().
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *GormStore) TransitionFollowup(ctx context.Context, id string, fn func(f *model.Followup) (*model.ActivityLog, error)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f model.Followup
		if err := tx.First(&f, "id = ?", id).Error; err != nil {
			return wrapNotFound(err)
		}
		log, err := fn(&f)
		if err != nil {
			return err
		}
		if err := tx.Save(&f).Error; err != nil {
			return err
		}
		if log != nil {
			if err := tx.Create(log).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) GetTemplate(ctx context.Context, userID string) (*model.Template, error) {
	var t model.Template
	if err := s.db.WithContext(ctx).First(&t, "user_id = ?", userID).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &t, nil
}

func (s *GormStore) SaveTemplate(ctx context.Context, tpl *model.Template) error {
	return s.db.WithContext(ctx).Save(tpl).Error
}

func (s *GormStore) AppendNotification(ctx context.Context, n *model.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *GormStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	var rows []*model.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) AppendActivityLog(ctx context.Context, a *model.ActivityLog) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// RecordSendAttempt satisfies internal/transport's AuditLog interface,
// letting the Transport Adapter log through the same Store the rest of
// the system uses rather than a side file, generalizing oarkflow-email's
// sendlog.go JSONL append to a queryable ActivityLog row.
func (s *GormStore) RecordSendAttempt(ctx context.Context, userID, provider, to string, success bool, errMsg string) {
	action := "send_ok"
	if !success {
		action = "send_failed"
	}
	entry := &model.ActivityLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Provider:  provider,
		Message:   fmt.Sprintf("to=%s err=%s", to, errMsg),
		CreatedAt: time.Now().UTC(),
	}
	_ = s.db.WithContext(ctx).Create(entry).Error
}

// ProviderUsageSince satisfies internal/transport's UsageTracker interface.
// It counts successful sends per provider since the given instant,
// generalizing oarkflow-email/sendlog.go's weightedUsageSince from a
// recency-weighted score down to a plain count, since this domain has no
// per-recipient-domain routing to weight by.
func (s *GormStore) ProviderUsageSince(ctx context.Context, providers []string, since time.Time) (map[string]int, error) {
	type row struct {
		Provider string
		N        int
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.ActivityLog{}).
		Select("provider, count(*) as n").
		Where("action = ? AND provider IN ? AND created_at >= ?", "send_ok", providers, since).
		Group("provider").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Provider] = r.N
	}
	return out, nil
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
