package gifts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/logging"
	"go.uber.org/zap"
)

// PinHasher turns a PIN into the stored verification hash.
type PinHasher interface {
	Hash(ctx context.Context, pin string) (string, error)
}

// SetupPolicy reports whether a category needs a customer setup step.
type SetupPolicy interface {
	SetupRequired(project, productType string) bool
}

// EventPublisher receives lifecycle notifications.
type EventPublisher interface {
	Publish(event events.Event)
}

type discardPublisher struct{}

func (discardPublisher) Publish(events.Event) {}

// LifecycleConfig describes the dependencies of the lifecycle state machine.
type LifecycleConfig struct {
	Store  *Store
	Hasher PinHasher
	Policy SetupPolicy
	Events EventPublisher
	Clock  func() time.Time
	Logger *zap.Logger
}

// Lifecycle validates and records stage transitions of gift records.
type Lifecycle struct {
	store     *Store
	hasher    PinHasher
	policy    SetupPolicy
	publisher EventPublisher
	clock     func() time.Time
	logger    *zap.Logger
}

// NewLifecycle validates the configuration and builds a Lifecycle.
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opLifecycleNew, reasonMissingStore, errMissingStore)
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opLifecycleNew, reasonMissingHasher, errMissingHasher)
	}
	if cfg.Policy == nil {
		return nil, newServiceError(opLifecycleNew, reasonMissingPolicy, errMissingPolicy)
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = discardPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Lifecycle{
		store:     cfg.Store,
		hasher:    cfg.Hasher,
		policy:    cfg.Policy,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Store exposes the underlying record store.
func (l *Lifecycle) Store() *Store {
	return l.store
}

// CreateRequest describes a new gift record.
type CreateRequest struct {
	Project            string
	ProductType        string
	RecipientName      string
	SenderName         string
	CustomerName       string
	CustomerEmail      string
	OrderID            string
	Platform           string
	Details            Details
	Messages           []Message
	Pin                string
	Lock               bool
	AllowContributions bool
	IsPublic           bool
}

func (r CreateRequest) validate() error {
	if err := checkLength("project", r.Project, 32); err != nil {
		return err
	}
	if err := checkLength("product_type", r.ProductType, 32); err != nil {
		return err
	}
	for field, value := range map[string]string{
		"recipient_name": r.RecipientName,
		"sender_name":    r.SenderName,
		"customer_name":  r.CustomerName,
	} {
		if err := checkLength(field, value, maxNameLength); err != nil {
			return err
		}
	}
	if err := checkLength("order_id", r.OrderID, maxIdentifierLength); err != nil {
		return err
	}
	if err := checkLength("platform", r.Platform, 64); err != nil {
		return err
	}
	if err := validateEmail(r.CustomerEmail); err != nil {
		return err
	}
	if err := validateDetailsFor(ResolveCategory(r.Project, r.ProductType), r.Details); err != nil {
		return err
	}
	if err := ValidateMessages(r.Messages); err != nil {
		return err
	}
	if r.Pin != "" {
		return ValidatePIN(r.Pin)
	}
	return nil
}

// Create validates and stores a new record. Products without a setup step are
// sealed at creation; a PIN is stored only as its hash plus the display copy.
func (l *Lifecycle) Create(ctx context.Context, request CreateRequest) (*Record, error) {
	if err := request.validate(); err != nil {
		return nil, newServiceError(opCreate, reasonInvalidInput, err)
	}

	record := Record{
		Project:            strings.ToLower(strings.TrimSpace(request.Project)),
		ProductType:        strings.ToLower(strings.TrimSpace(request.ProductType)),
		RecipientName:      strings.TrimSpace(request.RecipientName),
		SenderName:         strings.TrimSpace(request.SenderName),
		CustomerName:       strings.TrimSpace(request.CustomerName),
		CustomerEmail:      strings.TrimSpace(request.CustomerEmail),
		OrderID:            strings.TrimSpace(request.OrderID),
		Platform:           strings.TrimSpace(request.Platform),
		Messages:           messagesValue(request.Messages),
		AlbumImages:        []string{},
		AllowContributions: request.AllowContributions,
		IsPublic:           request.IsPublic,
		Status:             StatusPending,
	}
	if request.Details != nil {
		applyDetails(&record, request.Details)
	}
	if request.Pin != "" {
		hash, err := l.hasher.Hash(ctx, request.Pin)
		if err != nil {
			l.logError(opCreate, reasonHashFailed, err, logging.Redacted("pin"))
			return nil, newServiceError(opCreate, reasonHashFailed, err)
		}
		record.AccessCodeHash = hash
		record.AccessCode = request.Pin
	}
	record.Locked = request.Lock || !l.policy.SetupRequired(record.Project, record.ProductType)
	if record.Locked {
		record.Status = StatusReady
	}

	if _, err := l.store.Create(ctx, &record); err != nil {
		return nil, err
	}
	l.publish(events.TypeGiftCreated, record.ID)
	return &record, nil
}

// StartSetup moves an open, setup-required record into SetupStarted. It is
// idempotent and leaves sealed records untouched.
func (l *Lifecycle) StartSetup(ctx context.Context, id, token string) (*Record, error) {
	record, err := l.holderRecord(ctx, opStartSetup, id, token)
	if err != nil {
		return nil, err
	}
	if record.Locked || record.SetupStarted {
		return record, nil
	}
	if !l.policy.SetupRequired(record.Project, record.ProductType) {
		return nil, newServiceError(opStartSetup, reasonSetupNotRequired, ErrSetupNotRequired)
	}
	if err := l.store.Update(ctx, id, Patch{"setup_started": true, "status": StatusInSetup}); err != nil {
		return nil, err
	}
	record.SetupStarted = true
	record.Status = StatusInSetup
	l.publish(events.TypeSetupStarted, id)
	return record, nil
}

// ContentPatch is the customer-editable content of a record during setup.
// Nil fields are left untouched.
type ContentPatch struct {
	RecipientName *string
	SenderName    *string
	Messages      *[]Message
	Details       Details
}

// SaveContent merges customer edits into an unlocked record.
func (l *Lifecycle) SaveContent(ctx context.Context, id, token string, content ContentPatch) (*Record, error) {
	record, err := l.holderRecord(ctx, opSaveContent, id, token)
	if err != nil {
		return nil, err
	}
	if record.Locked {
		return nil, newServiceError(opSaveContent, reasonLocked, ErrLocked)
	}
	if !l.policy.SetupRequired(record.Project, record.ProductType) {
		return nil, newServiceError(opSaveContent, reasonSetupNotRequired, ErrSetupNotRequired)
	}

	patch := Patch{}
	if content.RecipientName != nil {
		if err := checkLength("recipient_name", *content.RecipientName, maxNameLength); err != nil {
			return nil, newServiceError(opSaveContent, reasonInvalidInput, err)
		}
		patch["recipient_name"] = strings.TrimSpace(*content.RecipientName)
	}
	if content.SenderName != nil {
		if err := checkLength("sender_name", *content.SenderName, maxNameLength); err != nil {
			return nil, newServiceError(opSaveContent, reasonInvalidInput, err)
		}
		patch["sender_name"] = strings.TrimSpace(*content.SenderName)
	}
	if content.Messages != nil {
		if err := ValidateMessages(*content.Messages); err != nil {
			return nil, newServiceError(opSaveContent, reasonInvalidInput, err)
		}
		patch["messages"] = messagesValue(*content.Messages)
	}
	if content.Details != nil {
		if err := validateDetailsFor(record.Category(), content.Details); err != nil {
			return nil, newServiceError(opSaveContent, reasonInvalidInput, err)
		}
		for column, value := range content.Details.columns() {
			patch[column] = value
		}
	}
	if !record.SetupStarted {
		patch["setup_started"] = true
		patch["status"] = StatusInSetup
	}
	if err := l.store.Update(ctx, id, patch); err != nil {
		return nil, err
	}
	l.publish(events.TypeGiftUpdated, id)
	return l.store.Get(ctx, id, Credentials{SecurityToken: token})
}

// SealRequest is the customer's final submission.
type SealRequest struct {
	Pin string
}

// Seal locks the record for edits and timestamps setup completion.
func (l *Lifecycle) Seal(ctx context.Context, id, token string, request SealRequest) (*Record, error) {
	if request.Pin != "" {
		if err := ValidatePIN(request.Pin); err != nil {
			return nil, newServiceError(opSeal, reasonInvalidInput, err)
		}
	}
	record, err := l.holderRecord(ctx, opSeal, id, token)
	if err != nil {
		return nil, err
	}
	if record.Locked {
		return nil, newServiceError(opSeal, reasonLocked, ErrLocked)
	}

	completedAt := l.clock().UTC()
	patch := Patch{
		"locked":             true,
		"setup_started":      true,
		"setup_completed_at": completedAt,
		"status":             StatusCompleted,
	}
	if request.Pin != "" {
		hash, err := l.hasher.Hash(ctx, request.Pin)
		if err != nil {
			l.logError(opSeal, reasonHashFailed, err, zap.String(fieldGiftID, id), logging.Redacted("pin"))
			return nil, newServiceError(opSeal, reasonHashFailed, err)
		}
		patch["access_code_hash"] = hash
		patch["access_code"] = request.Pin
		record.AccessCodeHash = hash
		record.AccessCode = request.Pin
	}
	if err := l.store.Update(ctx, id, patch); err != nil {
		return nil, err
	}
	record.Locked = true
	record.SetupStarted = true
	record.SetupCompletedAt = &completedAt
	record.Status = StatusCompleted
	l.publish(events.TypeGiftSealed, id)
	return record, nil
}

// MarkViewed records the first successful reveal. It never changes the lock.
func (l *Lifecycle) MarkViewed(ctx context.Context, id string) error {
	record, err := l.store.GetTrusted(ctx, id)
	if err != nil {
		return err
	}
	if record.Viewed {
		return nil
	}
	if err := l.store.Update(ctx, id, Patch{"viewed": true, "viewed_at": l.clock().UTC()}); err != nil {
		return err
	}
	l.publish(events.TypeGiftViewed, id)
	return nil
}

// ContributionInput is a third party's message.
type ContributionInput struct {
	Author  string
	Content string
}

// ContributionInvite is what a contribution-token holder may learn about the record.
type ContributionInvite struct {
	GiftID             string
	RecipientName      string
	AllowContributions bool
}

// Invite resolves the record behind a contribution token.
func (l *Lifecycle) Invite(ctx context.Context, token string) (ContributionInvite, error) {
	record, err := l.store.FindByContributionToken(ctx, token)
	if err != nil {
		return ContributionInvite{}, err
	}
	return ContributionInvite{
		GiftID:             record.ID,
		RecipientName:      record.RecipientName,
		AllowContributions: record.AllowContributions,
	}, nil
}

// Contribute appends a contribution while the record accepts them. The lock
// state does not matter and owner fields are never written.
func (l *Lifecycle) Contribute(ctx context.Context, token string, input ContributionInput) (*Contribution, error) {
	author := strings.TrimSpace(input.Author)
	content := strings.TrimSpace(input.Content)
	if author == "" || content == "" {
		return nil, newServiceError(opContribute, reasonInvalidInput, validationError("author and content are required"))
	}
	if err := checkLength("author", author, maxAuthorLength); err != nil {
		return nil, newServiceError(opContribute, reasonInvalidInput, err)
	}
	if err := checkLength("content", content, maxContributionText); err != nil {
		return nil, newServiceError(opContribute, reasonInvalidInput, err)
	}

	record, err := l.store.FindByContributionToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !tokensEqual(record.ContributionToken, token) {
		return nil, newServiceError(opContribute, reasonInvalidToken, ErrInvalidToken)
	}
	if !record.AllowContributions {
		return nil, newServiceError(opContribute, reasonContribClosed, ErrContributionsClosed)
	}

	contribution := &Contribution{
		GiftID:            record.ID,
		Author:            author,
		Content:           content,
		ContributionToken: token,
	}
	if err := l.store.AddContribution(ctx, contribution); err != nil {
		return nil, err
	}
	l.publish(events.TypeContributionAdded, record.ID)
	return contribution, nil
}

// IntakeOrder creates the record for an incoming order once. A repeated
// delivery of the same order returns the existing record.
func (l *Lifecycle) IntakeOrder(ctx context.Context, request CreateRequest) (*Record, bool, error) {
	platform := strings.TrimSpace(request.Platform)
	orderID := strings.TrimSpace(request.OrderID)
	if platform == "" || orderID == "" {
		return nil, false, newServiceError(opIntakeOrder, reasonInvalidInput, validationError("platform and order id are required"))
	}
	existing, err := l.store.FindByOrder(ctx, platform, orderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	record, err := l.Create(ctx, request)
	if errors.Is(err, ErrDuplicate) {
		// A concurrent delivery of the same order won the insert.
		existing, findErr := l.store.FindByOrder(ctx, platform, orderID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func (l *Lifecycle) holderRecord(ctx context.Context, operation, id, token string) (*Record, error) {
	record, err := l.store.Get(ctx, id, Credentials{SecurityToken: token})
	if err != nil {
		return nil, err
	}
	if !record.HeldBy(token) {
		return nil, newServiceError(operation, reasonInvalidToken, ErrInvalidToken)
	}
	return record, nil
}

func (l *Lifecycle) publish(eventType events.Type, giftID string) {
	l.publisher.Publish(events.Event{Type: eventType, GiftID: giftID, Timestamp: l.clock().UTC()})
}

func (l *Lifecycle) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("gifts lifecycle error", attrs...)
}

func validateDetailsFor(category Category, details Details) error {
	if details == nil {
		return nil
	}
	if details.Category() != category {
		return validationError("%s details do not match category %s", details.Category(), category)
	}
	return details.validate()
}
