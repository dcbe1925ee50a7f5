package gifts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	fieldGiftID         = "gift_id"
	queryByID           = "id = ?"
	queryByContribToken = "contribution_token = ?"
	queryByOrder        = "platform = ? AND order_id = ?"
	queryByGiftID       = "gift_id = ?"
	orderCreatedDesc    = "created_at DESC, id DESC"
	orderCreatedAsc     = "created_at ASC, id ASC"
	assetDeleteLimit    = 4
	columnUpdatedAt     = "updated_at"
)

var noOpLogger = zap.NewNop()

// patchableColumns lists the columns a Patch may write. Identity, tokens and
// creation time are assigned once by Create.
var patchableColumns = map[string]struct{}{
	"project": {}, "product_type": {}, "recipient_name": {}, "sender_name": {},
	"customer_name": {}, "customer_email": {}, "order_id": {}, "platform": {},
	"status": {}, "messages": {}, "album_images": {}, "engraving_text": {},
	"design_image": {}, "title": {}, "arabic_text": {}, "audio_url": {},
	"meaning_audio_url": {}, "meaning_text": {}, "deceased_name": {},
	"life_dates": {}, "access_code": {}, "access_code_hash": {}, "is_public": {},
	"allow_contributions": {}, "locked": {}, "setup_started": {}, "viewed": {},
	"viewed_at": {}, "setup_completed_at": {},
}

// AssetRemover deletes a stored binary asset by its reference.
type AssetRemover interface {
	Remove(ctx context.Context, ref string) error
}

// Patch is a field-level merge keyed by column name.
type Patch map[string]any

// StoreConfig describes the dependencies of the record store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Tokens     TokenSource
	Retry      RetryPolicy
	Assets     AssetRemover
	Logger     *zap.Logger
}

// Store persists gift records and their contributions.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	tokens     TokenSource
	retry      RetryPolicy
	assets     AssetRemover
	logger     *zap.Logger
}

// DeleteReport lists asset removals that failed while the record was deleted.
type DeleteReport struct {
	AssetsRemoved int
	AssetErrors   []error
}

// NewStore validates the configuration and builds a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewRandomTokenSource()
	}
	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		tokens:     tokens,
		retry:      policy.normalized(),
		assets:     cfg.Assets,
		logger:     logger,
	}, nil
}

// Create assigns identity, capability tokens and timestamps, then inserts the record.
func (s *Store) Create(ctx context.Context, record *Record) (string, error) {
	if s.db == nil {
		return "", newServiceError(opStoreCreate, reasonMissingDatabase, errMissingDatabase)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opStoreCreate, reasonIDFailed, err)
		return "", newServiceError(opStoreCreate, reasonIDFailed, err)
	}
	if record.SecurityToken == "" {
		if record.SecurityToken, err = s.tokens.NewToken(); err != nil {
			s.logError(opStoreCreate, reasonTokenFailed, err)
			return "", newServiceError(opStoreCreate, reasonTokenFailed, err)
		}
	}
	if record.ContributionToken == "" {
		if record.ContributionToken, err = s.tokens.NewToken(); err != nil {
			s.logError(opStoreCreate, reasonTokenFailed, err)
			return "", newServiceError(opStoreCreate, reasonTokenFailed, err)
		}
	}
	now := s.clock().UTC()
	record.ID = id
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = StatusPending
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", newServiceError(opStoreCreate, reasonDuplicate, ErrDuplicate)
		}
		s.logError(opStoreCreate, reasonInsertFailed, err, zap.String(fieldGiftID, id))
		return "", newServiceError(opStoreCreate, reasonInsertFailed, err)
	}
	return id, nil
}

// Get loads a record under the store rules: unlocked records are readable by
// anyone, locked records only by the holder of the security token.
func (s *Store) Get(ctx context.Context, id string, credentials Credentials) (*Record, error) {
	record, err := s.load(ctx, opStoreGet, queryByID, id)
	if err != nil {
		return nil, err
	}
	if record.Locked && !record.HeldBy(credentials.SecurityToken) {
		return nil, newServiceError(opStoreGet, reasonPermissionDenied, ErrPermissionDenied)
	}
	return record, nil
}

// GetTrusted loads a record without applying the store rules.
func (s *Store) GetTrusted(ctx context.Context, id string) (*Record, error) {
	return s.load(ctx, opStoreGet, queryByID, id)
}

// FindByContributionToken resolves the record a contribution token belongs to.
func (s *Store) FindByContributionToken(ctx context.Context, token string) (*Record, error) {
	return s.load(ctx, opStoreFind, queryByContribToken, token)
}

// FindByOrder looks up the record created for an order, without retries.
func (s *Store) FindByOrder(ctx context.Context, platform, orderID string) (*Record, error) {
	if s.db == nil {
		return nil, newServiceError(opStoreFind, reasonMissingDatabase, errMissingDatabase)
	}
	var record Record
	err := s.db.WithContext(ctx).Where(queryByOrder, platform, orderID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opStoreFind, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opStoreFind, reasonQueryFailed, err, zap.String("order_id", orderID))
		return nil, newServiceError(opStoreFind, reasonQueryFailed, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return &record, nil
}

// List returns every record, newest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	if s.db == nil {
		return nil, newServiceError(opStoreList, reasonMissingDatabase, errMissingDatabase)
	}
	var records []Record
	if err := s.db.WithContext(ctx).Order(orderCreatedDesc).Find(&records).Error; err != nil {
		s.logError(opStoreList, reasonQueryFailed, err)
		return nil, newServiceError(opStoreList, reasonQueryFailed, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return records, nil
}

// Update merges the patch into the stored record. Columns absent from the
// patch keep their stored values; concurrent writers race last-write-wins.
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	if s.db == nil {
		return newServiceError(opStoreUpdate, reasonMissingDatabase, errMissingDatabase)
	}
	if len(patch) == 0 {
		return nil
	}
	updates := make(map[string]any, len(patch)+1)
	for column, value := range patch {
		if _, ok := patchableColumns[column]; !ok {
			return newServiceError(opStoreUpdate, reasonInvalidInput, validationError("column %s is not patchable", column))
		}
		updates[column] = value
	}
	updates[columnUpdatedAt] = s.clock().UTC()

	result := s.db.WithContext(ctx).Model(&Record{}).Where(queryByID, id).Updates(updates)
	if result.Error != nil {
		s.logError(opStoreUpdate, reasonUpdateFailed, result.Error, zap.String(fieldGiftID, id))
		return newServiceError(opStoreUpdate, reasonUpdateFailed, fmt.Errorf("%w: %v", ErrTransient, result.Error))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opStoreUpdate, reasonNotFound, ErrNotFound)
	}
	return nil
}

// Delete removes every referenced asset, the contributions and the record.
// Individual asset failures are reported, never fatal.
func (s *Store) Delete(ctx context.Context, id string) (DeleteReport, error) {
	record, err := s.load(ctx, opStoreDelete, queryByID, id)
	if err != nil {
		return DeleteReport{}, err
	}

	report := DeleteReport{}
	refs := record.AssetReferences()
	if s.assets != nil && len(refs) > 0 {
		var (
			mu       sync.Mutex
			failures error
			removed  int
		)
		var group errgroup.Group
		group.SetLimit(assetDeleteLimit)
		for _, ref := range refs {
			group.Go(func() error {
				removeErr := s.assets.Remove(ctx, ref)
				mu.Lock()
				defer mu.Unlock()
				if removeErr != nil {
					failures = multierr.Append(failures, fmt.Errorf("%s: %w", ref, removeErr))
					s.loggerOrDefault().Warn("asset removal failed",
						zap.String(fieldGiftID, id),
						zap.String("asset", ref),
						zap.Error(removeErr))
					return nil
				}
				removed++
				return nil
			})
		}
		_ = group.Wait()
		report.AssetsRemoved = removed
		report.AssetErrors = multierr.Errors(failures)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryByGiftID, id).Delete(&Contribution{}).Error; err != nil {
			return err
		}
		return tx.Where(queryByID, id).Delete(&Record{}).Error
	})
	if txErr != nil {
		s.logError(opStoreDelete, reasonDeleteFailed, txErr, zap.String(fieldGiftID, id))
		return report, newServiceError(opStoreDelete, reasonDeleteFailed, fmt.Errorf("%w: %v", ErrTransient, txErr))
	}
	return report, nil
}

// AddContribution appends a contribution to a record's sub-collection.
func (s *Store) AddContribution(ctx context.Context, contribution *Contribution) error {
	if s.db == nil {
		return newServiceError(opStoreContribution, reasonMissingDatabase, errMissingDatabase)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opStoreContribution, reasonIDFailed, err)
	}
	contribution.ID = id
	contribution.CreatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Create(contribution).Error; err != nil {
		s.logError(opStoreContribution, reasonInsertFailed, err, zap.String(fieldGiftID, contribution.GiftID))
		return newServiceError(opStoreContribution, reasonInsertFailed, err)
	}
	return nil
}

// ListContributions returns a record's contributions, oldest first.
func (s *Store) ListContributions(ctx context.Context, giftID string) ([]Contribution, error) {
	if s.db == nil {
		return nil, newServiceError(opStoreContribution, reasonMissingDatabase, errMissingDatabase)
	}
	var contributions []Contribution
	if err := s.db.WithContext(ctx).Where(queryByGiftID, giftID).Order(orderCreatedAsc).Find(&contributions).Error; err != nil {
		s.logError(opStoreContribution, reasonQueryFailed, err, zap.String(fieldGiftID, giftID))
		return nil, newServiceError(opStoreContribution, reasonQueryFailed, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return contributions, nil
}

// load retries a single-record query under the retry policy. A missing row is
// retried too, to absorb replication delay; ErrNotFound is returned only after
// the attempts are exhausted.
func (s *Store) load(ctx context.Context, operation, query, value string) (*Record, error) {
	if s.db == nil {
		return nil, newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	if strings.TrimSpace(value) == "" {
		return nil, newServiceError(operation, reasonNotFound, ErrNotFound)
	}

	var record Record
	err := s.retry.run(ctx, func(ctx context.Context) error {
		var found Record
		queryErr := s.db.WithContext(ctx).Where(query, value).Take(&found).Error
		switch {
		case queryErr == nil:
			record = found
			return nil
		case errors.Is(queryErr, gorm.ErrRecordNotFound):
			return retry.RetryableError(ErrNotFound)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrTransient, queryErr))
		}
	})
	if err == nil {
		return &record, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, newServiceError(operation, reasonNotFound, ErrNotFound)
	}
	s.logError(operation, reasonQueryFailed, err)
	return nil, newServiceError(operation, reasonQueryFailed, err)
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("gifts store error", attrs...)
}
