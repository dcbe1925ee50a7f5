package gifts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a genuine absence after read retries were exhausted.
	ErrNotFound = errors.New("gifts: record not found")
	// ErrPermissionDenied indicates a locked record read without the matching security token.
	ErrPermissionDenied = errors.New("gifts: permission denied")
	// ErrTransient indicates a store failure that persisted through every retry.
	ErrTransient = errors.New("gifts: transient store failure")
	// ErrValidation indicates malformed or oversized input rejected before any store call.
	ErrValidation = errors.New("gifts: validation failed")
	// ErrLocked indicates an edit attempted on a sealed record.
	ErrLocked = errors.New("gifts: record is locked")
	// ErrInvalidToken indicates a capability token that does not belong to the record.
	ErrInvalidToken = errors.New("gifts: invalid token")
	// ErrSetupNotRequired indicates a setup action on a product without a setup step.
	ErrSetupNotRequired = errors.New("gifts: setup not required")
	// ErrContributionsClosed indicates a contribution to a record that does not accept them.
	ErrContributionsClosed = errors.New("gifts: contributions closed")
	// ErrDuplicate indicates a second record for an order that already has one.
	ErrDuplicate = errors.New("gifts: record already exists")
	// ErrUpload indicates a failed binary upload; the record is left unchanged.
	ErrUpload = errors.New("gifts: upload failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingStore      = errors.New("store is required")
	errMissingHasher     = errors.New("pin hasher is required")
	errMissingPolicy     = errors.New("setup policy is required")
)

// ServiceError pairs a stable dotted code with its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew          = "gifts.store.new"
	opStoreCreate       = "gifts.store.create"
	opStoreGet          = "gifts.store.get"
	opStoreList         = "gifts.store.list"
	opStoreUpdate       = "gifts.store.update"
	opStoreDelete       = "gifts.store.delete"
	opStoreFind         = "gifts.store.find"
	opStoreContribution = "gifts.store.contribution"
	opLifecycleNew      = "gifts.lifecycle.new"
	opCreate            = "gifts.create"
	opStartSetup        = "gifts.start_setup"
	opSaveContent       = "gifts.save_content"
	opSeal              = "gifts.seal"
	opMarkViewed        = "gifts.mark_viewed"
	opContribute        = "gifts.contribute"
	opAttachAsset       = "gifts.attach_asset"
	opIntakeOrder       = "gifts.intake_order"
	opAdminUpdate       = "gifts.admin_update"
)

const (
	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonMissingStore      = "missing_store"
	reasonMissingHasher     = "missing_hasher"
	reasonMissingPolicy     = "missing_policy"
	reasonInvalidInput      = "invalid_input"
	reasonIDFailed          = "id_generation_failed"
	reasonTokenFailed       = "token_generation_failed"
	reasonInsertFailed      = "insert_failed"
	reasonDuplicate         = "duplicate"
	reasonQueryFailed       = "query_failed"
	reasonNotFound          = "not_found"
	reasonPermissionDenied  = "permission_denied"
	reasonUpdateFailed      = "update_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonHashFailed        = "hash_failed"
	reasonLocked            = "locked"
	reasonInvalidToken      = "invalid_token"
	reasonSetupNotRequired  = "setup_not_required"
	reasonContribClosed     = "contributions_closed"
	reasonAssetKind         = "asset_kind_not_allowed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
