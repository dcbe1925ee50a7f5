// Package ratelimit provides fixed-window attempt budgets keyed by string.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMissingStore indicates a limiter built without a bucket store.
	ErrMissingStore = errors.New("ratelimit: bucket store is required")
	// ErrInvalidBudget indicates a non-positive attempt count or window.
	ErrInvalidBudget = errors.New("ratelimit: attempts and window must be positive")
	// ErrEmptyKey indicates a check against an empty key.
	ErrEmptyKey = errors.New("ratelimit: key is required")
)

const (
	// DefaultMaxAttempts is reported by Remaining for keys with no bucket.
	DefaultMaxAttempts = 5
	// DefaultPruneInterval spaces the sweeps that drop expired buckets.
	DefaultPruneInterval = time.Minute
)

// Bucket is the state of one key's window.
type Bucket struct {
	Key         string    `gorm:"column:bucket_key;primaryKey;size:255;not null"`
	Count       int       `gorm:"column:count;not null"`
	MaxAttempts int       `gorm:"column:max_attempts;not null"`
	ResetAt     time.Time `gorm:"column:reset_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Bucket) TableName() string {
	return "rate_limit_buckets"
}

func (b Bucket) remaining(now time.Time) int {
	if now.After(b.ResetAt) {
		return b.MaxAttempts
	}
	left := b.MaxAttempts - b.Count
	if left < 0 {
		return 0
	}
	return left
}

// BucketStore persists buckets.
type BucketStore interface {
	Load(ctx context.Context, key string) (Bucket, bool, error)
	Save(ctx context.Context, bucket Bucket) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config describes the limiter dependencies.
type Config struct {
	Store              BucketStore
	Clock              func() time.Time
	DefaultMaxAttempts int
	PruneInterval      time.Duration
	Logger             *zap.Logger
}

// Limiter applies fixed windows: the first check opens a window, checks are
// allowed while the count is below the budget, and the window restarts once
// its reset time has passed.
type Limiter struct {
	store         BucketStore
	clock         func() time.Time
	defaultMax    int
	pruneInterval time.Duration
	lastPrune     time.Time
	logger        *zap.Logger
	mu            sync.Mutex
}

// New validates the configuration and builds a Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	defaultMax := cfg.DefaultMaxAttempts
	if defaultMax <= 0 {
		defaultMax = DefaultMaxAttempts
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = DefaultPruneInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:         cfg.Store,
		clock:         clock,
		defaultMax:    defaultMax,
		pruneInterval: pruneInterval,
		logger:        logger,
	}, nil
}

// Check consumes one attempt for key and reports whether it is allowed.
func (l *Limiter) Check(ctx context.Context, key string, maxAttempts int, window time.Duration) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrEmptyKey
	}
	if maxAttempts <= 0 || window <= 0 {
		return false, ErrInvalidBudget
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock().UTC()
	l.pruneExpired(ctx, now)
	bucket, found, err := l.store.Load(ctx, key)
	if err != nil {
		l.logger.Error("rate limit load failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	if !found || now.After(bucket.ResetAt) {
		bucket = Bucket{Key: key, Count: 1, MaxAttempts: maxAttempts, ResetAt: now.Add(window)}
		return true, l.save(ctx, bucket)
	}
	bucket.MaxAttempts = maxAttempts
	if bucket.Count >= maxAttempts {
		return false, nil
	}
	bucket.Count++
	return true, l.save(ctx, bucket)
}

// Remaining reports the attempts left for key, never negative.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, found, err := l.store.Load(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return l.defaultMax, nil
	}
	return bucket.remaining(l.clock().UTC()), nil
}

// Reset clears key's bucket.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Delete(ctx, key)
}

// pruneExpired drops buckets whose window has closed. Their state is
// indistinguishable from a missing bucket, so failures are only logged.
func (l *Limiter) pruneExpired(ctx context.Context, now time.Time) {
	if !l.lastPrune.IsZero() && now.Sub(l.lastPrune) < l.pruneInterval {
		return
	}
	l.lastPrune = now
	removed, err := l.store.DeleteExpired(ctx, now)
	if err != nil {
		l.logger.Warn("rate limit prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		l.logger.Debug("rate limit buckets pruned", zap.Int64("removed", removed))
	}
}

func (l *Limiter) save(ctx context.Context, bucket Bucket) error {
	if err := l.store.Save(ctx, bucket); err != nil {
		l.logger.Error("rate limit save failed", zap.String("key", bucket.Key), zap.Error(err))
		return err
	}
	return nil
}
