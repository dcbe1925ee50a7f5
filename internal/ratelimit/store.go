package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

// GormBucketStore keeps buckets in the rate_limit_buckets table.
type GormBucketStore struct {
	db *gorm.DB
}

// NewGormBucketStore binds a store to db.
func NewGormBucketStore(db *gorm.DB) *GormBucketStore {
	return &GormBucketStore{db: db}
}

// Load returns the bucket for key and whether it exists.
func (s *GormBucketStore) Load(ctx context.Context, key string) (Bucket, bool, error) {
	var bucket Bucket
	err := s.db.WithContext(ctx).Where("bucket_key = ?", key).Take(&bucket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Bucket{}, false, nil
	}
	if err != nil {
		return Bucket{}, false, err
	}
	return bucket, true, nil
}

// Save upserts bucket.
func (s *GormBucketStore) Save(ctx context.Context, bucket Bucket) error {
	return s.db.WithContext(ctx).Save(&bucket).Error
}

// Delete removes the bucket for key.
func (s *GormBucketStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("bucket_key = ?", key).Delete(&Bucket{}).Error
}

// DeleteExpired removes every bucket whose window closed before now.
func (s *GormBucketStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("reset_at < ?", now.UTC()).Delete(&Bucket{})
	return result.RowsAffected, result.Error
}

// MemoryBucketStore keeps buckets in process memory.
type MemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]Bucket
}

// NewMemoryBucketStore creates an empty in-memory store.
func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{buckets: make(map[string]Bucket)}
}

// Load returns the bucket for key and whether it exists.
func (s *MemoryBucketStore) Load(_ context.Context, key string) (Bucket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[key]
	return bucket, ok, nil
}

// Save stores bucket.
func (s *MemoryBucketStore) Save(_ context.Context, bucket Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucket.Key] = bucket
	return nil
}

// Delete removes the bucket for key.
func (s *MemoryBucketStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// DeleteExpired removes every bucket whose window closed before now.
func (s *MemoryBucketStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, bucket := range s.buckets {
		if now.After(bucket.ResetAt) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed, nil
}
