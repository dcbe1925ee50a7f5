// Package access decides what a caller may see of a gift record.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/pin"
	"go.uber.org/zap"
)

const (
	// VerifyPinKeyPrefix namespaces the per-record PIN attempt buckets.
	VerifyPinKeyPrefix = "verify_pin:"

	defaultMaxAttempts = 5
	defaultWindow      = 15 * time.Minute
)

var (
	errMissingRecords = errors.New("access: record reader is required")
	errMissingPins    = errors.New("access: pin verifier is required")
	errMissingLimiter = errors.New("access: limiter is required")
	errMissingViews   = errors.New("access: view marker is required")
)

// RecordReader applies the store access rules.
type RecordReader interface {
	Get(ctx context.Context, id string, credentials gifts.Credentials) (*gifts.Record, error)
}

// PinVerifier is the trusted PIN contract, served locally or over HTTP.
type PinVerifier interface {
	Verify(ctx context.Context, giftID, pinValue string) (pin.VerifyResult, error)
	PublicProjection(ctx context.Context, giftID string) (pin.ProjectionResult, error)
}

// Limiter budgets PIN attempts per key.
type Limiter interface {
	Check(ctx context.Context, key string, maxAttempts int, window time.Duration) (bool, error)
	Remaining(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// ViewMarker records the first reveal of a record.
type ViewMarker interface {
	MarkViewed(ctx context.Context, id string) error
}

// EventPublisher receives access notifications.
type EventPublisher interface {
	Publish(event events.Event)
}

// ReadKind classifies a read outcome.
type ReadKind string

const (
	ReadFull    ReadKind = "full"
	ReadPublic  ReadKind = "public"
	ReadMissing ReadKind = "missing"
)

// ReadResult carries exactly one of a full record or a public projection, or neither when missing.
type ReadResult struct {
	Kind   ReadKind
	Gift   *gifts.Record
	Public *gifts.PublicProjection
}

// PinStatus classifies a PIN attempt.
type PinStatus string

const (
	PinGranted     PinStatus = "granted"
	PinDenied      PinStatus = "denied"
	PinRateLimited PinStatus = "rate_limited"
)

// PinResult is the outcome of VerifyPin.
type PinResult struct {
	Status    PinStatus
	Remaining int
	Gift      *gifts.Record
	HasPin    bool
}

// GatewayConfig describes the gateway dependencies.
type GatewayConfig struct {
	Records     RecordReader
	Pins        PinVerifier
	Limiter     Limiter
	Views       ViewMarker
	Events      EventPublisher
	MaxAttempts int
	Window      time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Gateway combines the store rules, the PIN service and the limiter.
type Gateway struct {
	records     RecordReader
	pins        PinVerifier
	limiter     Limiter
	views       ViewMarker
	publisher   EventPublisher
	maxAttempts int
	window      time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

// NewGateway validates the configuration and builds a Gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	switch {
	case cfg.Records == nil:
		return nil, errMissingRecords
	case cfg.Pins == nil:
		return nil, errMissingPins
	case cfg.Limiter == nil:
		return nil, errMissingLimiter
	case cfg.Views == nil:
		return nil, errMissingViews
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		records:     cfg.Records,
		pins:        cfg.Pins,
		limiter:     cfg.Limiter,
		views:       cfg.Views,
		publisher:   cfg.Events,
		maxAttempts: maxAttempts,
		window:      window,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Read returns the full record when the store rules allow it, otherwise the
// public projection, or Missing when the record does not exist.
func (g *Gateway) Read(ctx context.Context, id string, credentials gifts.Credentials) (ReadResult, error) {
	record, err := g.records.Get(ctx, id, credentials)
	switch {
	case err == nil:
		return ReadResult{Kind: ReadFull, Gift: record}, nil
	case errors.Is(err, gifts.ErrNotFound):
		return ReadResult{Kind: ReadMissing}, nil
	case errors.Is(err, gifts.ErrPermissionDenied):
		projection, projectionErr := g.pins.PublicProjection(ctx, id)
		if projectionErr != nil {
			if errors.Is(projectionErr, gifts.ErrNotFound) {
				return ReadResult{Kind: ReadMissing}, nil
			}
			g.logger.Error("public projection failed", zap.String("gift_id", id), zap.Error(projectionErr))
			return ReadResult{}, projectionErr
		}
		if !projection.Exists || projection.Data == nil {
			return ReadResult{Kind: ReadMissing}, nil
		}
		return ReadResult{Kind: ReadPublic, Public: projection.Data}, nil
	default:
		return ReadResult{}, err
	}
}

// Open is the recipient entry point. A locked record without a PIN is
// revealed immediately once the PIN service confirms it has no gate.
func (g *Gateway) Open(ctx context.Context, id string) (ReadResult, error) {
	result, err := g.Read(ctx, id, gifts.Credentials{})
	if err != nil || result.Kind != ReadPublic || result.Public.HasPin {
		return result, err
	}
	verified, err := g.pins.Verify(ctx, id, "")
	if err != nil {
		if errors.Is(err, gifts.ErrNotFound) {
			return ReadResult{Kind: ReadMissing}, nil
		}
		return ReadResult{}, err
	}
	if !verified.Match || verified.Gift == nil {
		return result, nil
	}
	g.markViewed(ctx, id)
	return ReadResult{Kind: ReadFull, Gift: verified.Gift}, nil
}

// VerifyPin checks a PIN under the per-record attempt budget. A successful
// match resets the budget and marks the record viewed.
func (g *Gateway) VerifyPin(ctx context.Context, id, pinValue string) (PinResult, error) {
	if err := gifts.ValidatePIN(pinValue); err != nil {
		return PinResult{}, err
	}
	key := VerifyPinKeyPrefix + id

	allowed, err := g.limiter.Check(ctx, key, g.maxAttempts, g.window)
	if err != nil {
		return PinResult{}, err
	}
	if !allowed {
		g.logger.Warn("pin attempts exceeded", zap.String("gift_id", id), logging.Redacted("pin"))
		g.publish(events.TypePinAttemptsExceeded, id)
		return PinResult{Status: PinRateLimited, Remaining: 0}, nil
	}

	verified, err := g.pins.Verify(ctx, id, pinValue)
	if errors.Is(err, pin.ErrAttemptsExceeded) {
		return PinResult{Status: PinRateLimited, Remaining: 0}, nil
	}
	if errors.Is(err, gifts.ErrNotFound) {
		// Unknown ids must not leave buckets behind.
		if resetErr := g.limiter.Reset(ctx, key); resetErr != nil {
			g.logger.Warn("pin bucket reset failed", zap.String("gift_id", id), zap.Error(resetErr))
		}
		return PinResult{}, err
	}
	if err != nil {
		return PinResult{}, err
	}

	if !verified.Match || verified.Gift == nil {
		remaining, remainingErr := g.limiter.Remaining(ctx, key)
		if remainingErr != nil {
			return PinResult{}, remainingErr
		}
		g.logger.Info("pin rejected", zap.String("gift_id", id), zap.Int("remaining", remaining), logging.Redacted("pin"))
		return PinResult{Status: PinDenied, Remaining: remaining}, nil
	}

	if err := g.limiter.Reset(ctx, key); err != nil {
		g.logger.Warn("pin bucket reset failed", zap.String("gift_id", id), zap.Error(err))
	}
	g.markViewed(ctx, id)
	return PinResult{Status: PinGranted, Remaining: g.maxAttempts, Gift: verified.Gift, HasPin: verified.HasPin}, nil
}

func (g *Gateway) markViewed(ctx context.Context, id string) {
	if err := g.views.MarkViewed(ctx, id); err != nil {
		g.logger.Warn("mark viewed failed", zap.String("gift_id", id), zap.Error(err))
	}
}

func (g *Gateway) publish(eventType events.Type, giftID string) {
	if g.publisher == nil {
		return
	}
	g.publisher.Publish(events.Event{Type: eventType, GiftID: giftID, Timestamp: g.clock().UTC()})
}
