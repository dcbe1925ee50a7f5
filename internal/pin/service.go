package pin

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"go.uber.org/zap"
)

var (
	errMissingRecords = errors.New("pin: record reader is required")
	errMissingHasher  = errors.New("pin: hasher is required")
)

// RecordReader loads records without the store access rules.
type RecordReader interface {
	GetTrusted(ctx context.Context, id string) (*gifts.Record, error)
}

// VerifyResult is the outcome of a PIN check against a record.
type VerifyResult struct {
	Match  bool          `json:"match"`
	Gift   *gifts.Record `json:"giftData,omitempty"`
	// HasPin survives the wire; giftData never carries the hash.
	HasPin bool          `json:"hasPin"`
}

// ProjectionResult is the public view of a record that may not exist.
type ProjectionResult struct {
	Exists bool                    `json:"exists"`
	Locked bool                    `json:"locked"`
	Data   *gifts.PublicProjection `json:"publicData,omitempty"`
}

// ServiceConfig describes the trusted PIN service dependencies.
type ServiceConfig struct {
	Records RecordReader
	Hasher  *Hasher
	Logger  *zap.Logger
}

// Service is the trusted side of PIN verification. It reads records directly
// and is the only component that compares PINs against stored hashes.
type Service struct {
	records RecordReader
	hasher  *Hasher
	logger  *zap.Logger
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Records == nil {
		return nil, errMissingRecords
	}
	if cfg.Hasher == nil {
		return nil, errMissingHasher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{records: cfg.Records, hasher: cfg.Hasher, logger: logger}, nil
}

// Hash hashes a PIN after checking its format.
func (s *Service) Hash(ctx context.Context, pin string) (string, error) {
	if err := gifts.ValidatePIN(pin); err != nil {
		return "", err
	}
	return s.hasher.Hash(ctx, pin)
}

// Compare reports whether pin matches hash.
func (s *Service) Compare(ctx context.Context, pin, hash string) (bool, error) {
	return s.hasher.Compare(ctx, pin, hash)
}

// Verify checks pin against the record's hash. A record without a hash has no
// PIN gate and always matches.
func (s *Service) Verify(ctx context.Context, giftID, pin string) (VerifyResult, error) {
	record, err := s.records.GetTrusted(ctx, giftID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !record.HasPin() {
		return VerifyResult{Match: true, Gift: record}, nil
	}
	if pin == "" {
		return VerifyResult{Match: false}, nil
	}
	match, err := s.hasher.Compare(ctx, pin, record.AccessCodeHash)
	if err != nil {
		s.logger.Error("pin comparison failed",
			zap.String("gift_id", giftID),
			zap.Error(err))
		return VerifyResult{}, err
	}
	if !match {
		return VerifyResult{Match: false}, nil
	}
	return VerifyResult{Match: true, Gift: record, HasPin: true}, nil
}

// PublicProjection returns the safe subset of a record.
func (s *Service) PublicProjection(ctx context.Context, giftID string) (ProjectionResult, error) {
	record, err := s.records.GetTrusted(ctx, giftID)
	if errors.Is(err, gifts.ErrNotFound) {
		return ProjectionResult{Exists: false}, nil
	}
	if err != nil {
		return ProjectionResult{}, err
	}
	projection := record.Projection()
	return ProjectionResult{Exists: true, Locked: record.Locked, Data: &projection}, nil
}
