package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"careerxp/core"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" env:"CAREERXP_STORAGE_SQL_DRIVER"`
	DSN             string        `json:"dsn" env:"CAREERXP_STORAGE_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"CAREERXP_STORAGE_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"CAREERXP_STORAGE_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"CAREERXP_STORAGE_SQL_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `json:"auto_migrate" env:"CAREERXP_STORAGE_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for driver. DSN is left for the environment.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// Store implements engine.Storage on top of a relational database.
//
// Tables:
//   - profiles(id, xp, level, updated_at)
//   - xp_logs(id, user_id, action, xp, ref_id, created_at),
//     UNIQUE(user_id, action, ref_id)
type Store struct {
	db     *libsqlx.DB
	driver Driver
}

// New opens and pings the database described by cfg.
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver: %s", cfg.Driver)
	}
	db, err := libsqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db *libsqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.driver == DriverMySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		xp BIGINT NOT NULL DEFAULT 0,
		level BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS xp_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		xp BIGINT NOT NULL,
		ref_id TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_xp_logs_user_action_ref ON xp_logs (user_id, action, ref_id) WHERE ref_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS ix_xp_logs_user_action_created ON xp_logs (user_id, action, created_at)`,
}

// MySQL treats NULLs as distinct in unique keys, so no partial index is needed.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id VARCHAR(191) PRIMARY KEY,
		xp BIGINT NOT NULL DEFAULT 0,
		level BIGINT NOT NULL DEFAULT 1,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS xp_logs (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(191) NOT NULL,
		action VARCHAR(64) NOT NULL,
		xp BIGINT NOT NULL,
		ref_id VARCHAR(191) NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY ux_xp_logs_user_action_ref (user_id, action, ref_id),
		KEY ix_xp_logs_user_action_created (user_id, action, created_at)
	)`,
}

type profileRow struct {
	ID        string    `db:"id"`
	XP        int64     `db:"xp"`
	Level     int64     `db:"level"`
	UpdatedAt time.Time `db:"updated_at"`
}

type logRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Action    string         `db:"action"`
	XP        int64          `db:"xp"`
	RefID     sql.NullString `db:"ref_id"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r logRow) entry() core.XPLogEntry {
	return core.XPLogEntry{
		ID:        r.ID,
		UserID:    core.UserID(r.UserID),
		Action:    core.Action(r.Action),
		XP:        r.XP,
		RefID:     r.RefID.String,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	var row profileRow
	q := s.db.Rebind(`SELECT id, xp, level, updated_at FROM profiles WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.EmptyProfile(user), nil
		}
		return core.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return core.Profile{UserID: core.UserID(row.ID), XP: row.XP, Level: row.Level, UpdatedAt: row.UpdatedAt.UTC()}, nil
}

func (s *Store) HasGrantForRef(ctx context.Context, user core.UserID, action core.Action, refID string) (bool, error) {
	var exists bool
	q := s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM xp_logs WHERE user_id = ? AND action = ? AND ref_id = ?)`)
	if err := s.db.GetContext(ctx, &exists, q, user, action, refID); err != nil {
		return false, fmt.Errorf("failed to check ref: %w", err)
	}
	return exists, nil
}

func (s *Store) CountGrantsSince(ctx context.Context, user core.UserID, action core.Action, since time.Time) (int, error) {
	var n int
	q := s.db.Rebind(`SELECT COUNT(*) FROM xp_logs WHERE user_id = ? AND action = ? AND created_at >= ?`)
	if err := s.db.GetContext(ctx, &n, q, user, action, since.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return n, nil
}

func (s *Store) LastGrantAt(ctx context.Context, user core.UserID, action core.Action) (time.Time, bool, error) {
	var last time.Time
	q := s.db.Rebind(`SELECT created_at FROM xp_logs WHERE user_id = ? AND action = ? ORDER BY created_at DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &last, q, user, action); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last grant: %w", err)
	}
	return last.UTC(), true, nil
}

// ApplyGrant inserts the log row and increments the profile in one transaction.
// The log insert goes first so a unique violation aborts before the profile moves.
func (s *Store) ApplyGrant(ctx context.Context, entry core.XPLogEntry) (core.Profile, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to begin grant: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ref := sql.NullString{String: entry.RefID, Valid: entry.HasRef()}
	insertLog := tx.Rebind(`INSERT INTO xp_logs (id, user_id, action, xp, ref_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertLog, entry.ID, entry.UserID, entry.Action, entry.XP, ref, entry.CreatedAt.UTC()); err != nil {
		if isUniqueViolation(err) {
			return core.Profile{}, core.ErrDuplicateGrant
		}
		return core.Profile{}, fmt.Errorf("failed to append xp log: %w", err)
	}

	total, err := s.incrementProfile(ctx, tx, entry)
	if err != nil {
		return core.Profile{}, err
	}
	level := core.Level(total)
	setLevel := tx.Rebind(`UPDATE profiles SET level = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, setLevel, level, entry.UserID); err != nil {
		return core.Profile{}, fmt.Errorf("failed to set level: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Profile{}, fmt.Errorf("failed to commit grant: %w", err)
	}
	return core.Profile{UserID: entry.UserID, XP: total, Level: level, UpdatedAt: entry.CreatedAt.UTC()}, nil
}

func (s *Store) incrementProfile(ctx context.Context, tx *libsqlx.Tx, entry core.XPLogEntry) (int64, error) {
	var total int64
	initialLevel := core.Level(entry.XP)
	switch s.driver {
	case DriverMySQL:
		upsert := `INSERT INTO profiles (id, xp, level, updated_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE xp = xp + VALUES(xp), updated_at = VALUES(updated_at)`
		if _, err := tx.ExecContext(ctx, upsert, entry.UserID, entry.XP, initialLevel, entry.CreatedAt.UTC()); err != nil {
			return 0, fmt.Errorf("failed to upsert profile: %w", err)
		}
		if err := tx.GetContext(ctx, &total, `SELECT xp FROM profiles WHERE id = ?`, entry.UserID); err != nil {
			return 0, fmt.Errorf("failed to read profile: %w", err)
		}
	default:
		upsert := tx.Rebind(`INSERT INTO profiles (id, xp, level, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET xp = profiles.xp + EXCLUDED.xp, updated_at = EXCLUDED.updated_at
			RETURNING xp`)
		if err := tx.GetContext(ctx, &total, upsert, entry.UserID, entry.XP, initialLevel, entry.CreatedAt.UTC()); err != nil {
			return 0, fmt.Errorf("failed to upsert profile: %w", err)
		}
	}
	return total, nil
}

// ListGrants returns up to limit entries, newest first.
func (s *Store) ListGrants(ctx context.Context, user core.UserID, limit int) ([]core.XPLogEntry, error) {
	var rows []logRow
	q := s.db.Rebind(`SELECT id, user_id, action, xp, ref_id, created_at FROM xp_logs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, user, limit); err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	out := make([]core.XPLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
