package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"careerxp/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"CAREERXP_STORAGE_REDIS_ADDR"`
	Password     string        `json:"password" env:"CAREERXP_STORAGE_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"CAREERXP_STORAGE_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"CAREERXP_STORAGE_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"CAREERXP_STORAGE_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"CAREERXP_STORAGE_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"CAREERXP_STORAGE_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"CAREERXP_STORAGE_REDIS_WRITE_TIMEOUT"`
	KeyPrefix    string        `json:"key_prefix" env:"CAREERXP_STORAGE_REDIS_KEY_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "careerxp",
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
// - {prefix}:profile:{user} -> hash of xp, level, updated_at
// - {prefix}:refs:{user}:{action} -> set of ref ids already granted
// - {prefix}:times:{user}:{action} -> zset of entry ids scored by unix millis
// - {prefix}:log:{user} -> list of JSON log entries, newest first
// - {prefix}:leaderboard -> zset of users scored by xp
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: prefixOrDefault(config.KeyPrefix)}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: prefixOrDefault("")}
}

func prefixOrDefault(p string) string {
	if p == "" {
		return "careerxp"
	}
	return p
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) profileKey(user core.UserID) string {
	return fmt.Sprintf("%s:profile:%s", s.prefix, user)
}

func (s *Store) refsKey(user core.UserID, action core.Action) string {
	return fmt.Sprintf("%s:refs:%s:%s", s.prefix, user, action)
}

func (s *Store) timesKey(user core.UserID, action core.Action) string {
	return fmt.Sprintf("%s:times:%s:%s", s.prefix, user, action)
}

func (s *Store) logKey(user core.UserID) string {
	return fmt.Sprintf("%s:log:%s", s.prefix, user)
}

func (s *Store) leaderboardKey() string {
	return s.prefix + ":leaderboard"
}

// applyGrantScript runs the whole grant atomically. The ref check comes first
// and the ref is only recorded once HINCRBY has succeeded, so an overflow
// leaves nothing behind.
var applyGrantScript = redis.NewScript(`
	local ref = ARGV[1]
	if ref ~= '' and redis.call('SISMEMBER', KEYS[2], ref) == 1 then
		return {0}
	end

	local xp = redis.call('HINCRBY', KEYS[1], 'xp', ARGV[2])
	local level = 1
	if xp > 0 then
		level = math.floor(xp / tonumber(ARGV[3])) + 1
	end
	redis.call('HSET', KEYS[1], 'level', level, 'updated_at', ARGV[6])

	if ref ~= '' then
		redis.call('SADD', KEYS[2], ref)
	end
	redis.call('ZADD', KEYS[3], ARGV[5], ARGV[4])
	redis.call('LPUSH', KEYS[4], ARGV[7])
	redis.call('ZADD', KEYS[5], xp, ARGV[8])
	return {1, xp, level}
`)

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	vals, err := s.client.HGetAll(ctx, s.profileKey(user)).Result()
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if len(vals) == 0 {
		return core.EmptyProfile(user), nil
	}
	return parseProfile(user, vals)
}

func parseProfile(user core.UserID, vals map[string]string) (core.Profile, error) {
	xp, err := strconv.ParseInt(vals["xp"], 10, 64)
	if err != nil {
		return core.Profile{}, fmt.Errorf("corrupt xp for %s: %w", user, err)
	}
	p := core.Profile{UserID: user, XP: xp, Level: core.Level(xp)}
	if lv, err := strconv.ParseInt(vals["level"], 10, 64); err == nil {
		p.Level = lv
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		p.UpdatedAt = ts.UTC()
	}
	return p, nil
}

func (s *Store) HasGrantForRef(ctx context.Context, user core.UserID, action core.Action, refID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.refsKey(user, action), refID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ref: %w", err)
	}
	return ok, nil
}

func (s *Store) CountGrantsSince(ctx context.Context, user core.UserID, action core.Action, since time.Time) (int, error) {
	from := strconv.FormatInt(since.UnixMilli(), 10)
	n, err := s.client.ZCount(ctx, s.timesKey(user, action), from, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return int(n), nil
}

// LastGrantAt has millisecond resolution.
func (s *Store) LastGrantAt(ctx context.Context, user core.UserID, action core.Action) (time.Time, bool, error) {
	res, err := s.client.ZRevRangeWithScores(ctx, s.timesKey(user, action), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last grant: %w", err)
	}
	if len(res) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(res[0].Score)).UTC(), true, nil
}

func (s *Store) ApplyGrant(ctx context.Context, entry core.XPLogEntry) (core.Profile, error) {
	entry.CreatedAt = entry.CreatedAt.UTC()
	payload, err := json.Marshal(entry)
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to encode log entry: %w", err)
	}

	keys := []string{
		s.profileKey(entry.UserID),
		s.refsKey(entry.UserID, entry.Action),
		s.timesKey(entry.UserID, entry.Action),
		s.logKey(entry.UserID),
		s.leaderboardKey(),
	}
	res, err := applyGrantScript.Run(ctx, s.client, keys,
		entry.RefID,
		entry.XP,
		core.XPPerLevel,
		entry.ID,
		entry.CreatedAt.UnixMilli(),
		entry.CreatedAt.Format(time.RFC3339Nano),
		string(payload),
		string(entry.UserID),
	).Int64Slice()
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to apply grant: %w", err)
	}
	if len(res) == 0 {
		return core.Profile{}, errors.New("unexpected result from Redis script")
	}
	if res[0] == 0 {
		return core.Profile{}, core.ErrDuplicateGrant
	}
	if len(res) != 3 {
		return core.Profile{}, errors.New("unexpected result from Redis script")
	}
	return core.Profile{UserID: entry.UserID, XP: res[1], Level: res[2], UpdatedAt: entry.CreatedAt}, nil
}

// ListGrants returns up to limit entries, newest first.
func (s *Store) ListGrants(ctx context.Context, user core.UserID, limit int) ([]core.XPLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.logKey(user), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	out := make([]core.XPLogEntry, 0, len(raw))
	for _, item := range raw {
		var e core.XPLogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("corrupt log entry for %s: %w", user, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// TopProfiles returns the highest-XP profiles from the leaderboard zset.
func (s *Store) TopProfiles(ctx context.Context, limit int) ([]core.Profile, error) {
	if limit <= 0 {
		return nil, nil
	}
	res, err := s.client.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	out := make([]core.Profile, 0, len(res))
	for _, z := range res {
		user, _ := z.Member.(string)
		xp := int64(z.Score)
		out = append(out, core.Profile{UserID: core.UserID(user), XP: xp, Level: core.Level(xp)})
	}
	return out, nil
}
