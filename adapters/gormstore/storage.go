package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"careerxp/core"
)

// Dialect selects the gorm driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config holds gorm storage configuration.
type Config struct {
	Dialect Dialect `json:"dialect" env:"CAREERXP_STORAGE_GORM_DIALECT"`
	DSN     string  `json:"dsn" env:"CAREERXP_STORAGE_GORM_DSN"`
}

func DefaultConfig() Config {
	return Config{Dialect: DialectSQLite, DSN: "./data/careerxp.db"}
}

// Profile is the profiles row.
type Profile struct {
	ID        string    `gorm:"primaryKey;size:191"`
	XP        int64     `gorm:"not null;default:0"`
	Level     int64     `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (Profile) TableName() string { return "profiles" }

// XPLog is the append-only xp_logs row. A NULL ref_id never collides in the unique index.
type XPLog struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"size:191;not null;uniqueIndex:ux_xp_logs_user_action_ref,priority:1;index:ix_xp_logs_user_action_created,priority:1"`
	Action    string    `gorm:"size:64;not null;uniqueIndex:ux_xp_logs_user_action_ref,priority:2;index:ix_xp_logs_user_action_created,priority:2"`
	XP        int64     `gorm:"not null"`
	RefID     *string   `gorm:"size:191;uniqueIndex:ux_xp_logs_user_action_ref,priority:3"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false;index:ix_xp_logs_user_action_created,priority:3"`
}

func (XPLog) TableName() string { return "xp_logs" }

func (l XPLog) entry() core.XPLogEntry {
	e := core.XPLogEntry{
		ID:        l.ID,
		UserID:    core.UserID(l.UserID),
		Action:    core.Action(l.Action),
		XP:        l.XP,
		CreatedAt: l.CreatedAt.UTC(),
	}
	if l.RefID != nil {
		e.RefID = *l.RefID
	}
	return e
}

// Store implements engine.Storage with gorm.
type Store struct {
	db *gorm.DB
}

// Open connects using cfg and migrates the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("gorm dsn is required")
	}
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case DialectSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	case DialectPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported gorm dialect: %s", cfg.Dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == DialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Profile{}, &XPLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	var p Profile
	err := s.db.WithContext(ctx).Where("id = ?", string(user)).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.EmptyProfile(user), nil
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return core.Profile{UserID: core.UserID(p.ID), XP: p.XP, Level: p.Level, UpdatedAt: p.UpdatedAt.UTC()}, nil
}

func (s *Store) HasGrantForRef(ctx context.Context, user core.UserID, action core.Action, refID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&XPLog{}).
		Where("user_id = ? AND action = ? AND ref_id = ?", string(user), string(action), refID).
		Limit(1).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check ref: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CountGrantsSince(ctx context.Context, user core.UserID, action core.Action, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&XPLog{}).
		Where("user_id = ? AND action = ? AND created_at >= ?", string(user), string(action), since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return int(n), nil
}

func (s *Store) LastGrantAt(ctx context.Context, user core.UserID, action core.Action) (time.Time, bool, error) {
	var l XPLog
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND action = ?", string(user), string(action)).
		Order("created_at DESC").Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last grant: %w", err)
	}
	return l.CreatedAt.UTC(), true, nil
}

// ApplyGrant appends the log row, increments the profile and recomputes the
// level inside one transaction.
func (s *Store) ApplyGrant(ctx context.Context, entry core.XPLogEntry) (core.Profile, error) {
	row := XPLog{
		ID:        entry.ID,
		UserID:    string(entry.UserID),
		Action:    string(entry.Action),
		XP:        entry.XP,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if entry.HasRef() {
		ref := entry.RefID
		row.RefID = &ref
	}

	var out core.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicate(err) {
				return core.ErrDuplicateGrant
			}
			return fmt.Errorf("failed to append xp log: %w", err)
		}

		seed := Profile{ID: row.UserID, XP: row.XP, Level: core.Level(row.XP), UpdatedAt: row.CreatedAt}
		upsert := clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"xp":         gorm.Expr("profiles.xp + excluded.xp"),
				"updated_at": gorm.Expr("excluded.updated_at"),
			}),
		}
		if err := tx.Clauses(upsert).Create(&seed).Error; err != nil {
			return fmt.Errorf("failed to upsert profile: %w", err)
		}

		var p Profile
		if err := tx.Where("id = ?", row.UserID).Take(&p).Error; err != nil {
			return fmt.Errorf("failed to read profile: %w", err)
		}
		level := core.Level(p.XP)
		if err := tx.Model(&Profile{}).Where("id = ?", row.UserID).Update("level", level).Error; err != nil {
			return fmt.Errorf("failed to set level: %w", err)
		}
		out = core.Profile{UserID: entry.UserID, XP: p.XP, Level: level, UpdatedAt: row.CreatedAt}
		return nil
	})
	if err != nil {
		return core.Profile{}, err
	}
	return out, nil
}

// ListGrants returns up to limit entries, newest first.
func (s *Store) ListGrants(ctx context.Context, user core.UserID, limit int) ([]core.XPLogEntry, error) {
	var rows []XPLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", string(user)).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	out := make([]core.XPLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

// TopProfiles returns the highest-XP profiles, for seeding leaderboards.
func (s *Store) TopProfiles(ctx context.Context, limit int) ([]core.Profile, error) {
	var rows []Profile
	err := s.db.WithContext(ctx).Order("xp DESC").Order("id").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	out := make([]core.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Profile{UserID: core.UserID(r.ID), XP: r.XP, Level: r.Level, UpdatedAt: r.UpdatedAt.UTC()})
	}
	return out, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
