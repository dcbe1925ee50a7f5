package gifts

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/logging"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// AssetKind names the record slot an uploaded binary fills.
type AssetKind string

const (
	AssetAlbumImage   AssetKind = "album_image"
	AssetDesignImage  AssetKind = "design_image"
	AssetAudio        AssetKind = "audio"
	AssetMeaningAudio AssetKind = "meaning_audio"
)

// ParseAssetKind validates a raw asset kind.
func ParseAssetKind(raw string) (AssetKind, error) {
	switch kind := AssetKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case AssetAlbumImage, AssetDesignImage, AssetAudio, AssetMeaningAudio:
		return kind, nil
	default:
		return "", validationError("unsupported asset kind %q", raw)
	}
}

// Actor identifies who performs a write: the security-token holder or an admin.
type Actor struct {
	token string
	admin bool
}

// AsHolder acts with the record's security token.
func AsHolder(token string) Actor {
	return Actor{token: token}
}

// AsAdmin acts with administrative authority.
func AsAdmin() Actor {
	return Actor{admin: true}
}

// Authorize reports whether actor may fill the kind slot on the record. It
// writes nothing and runs before any object reaches the bucket.
func (l *Lifecycle) Authorize(ctx context.Context, id string, actor Actor, kind AssetKind) error {
	_, err := l.assetRecord(ctx, id, actor, kind)
	return err
}

// AttachAsset writes an uploaded asset reference into its slot. Holders may
// only add album images to an unlocked record; admins may fill any slot.
func (l *Lifecycle) AttachAsset(ctx context.Context, id string, actor Actor, kind AssetKind, ref string) (*Record, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, newServiceError(opAttachAsset, reasonInvalidInput, validationError("asset reference is required"))
	}
	if err := checkOptionalURL("asset", ref); err != nil {
		return nil, newServiceError(opAttachAsset, reasonInvalidInput, err)
	}
	record, err := l.assetRecord(ctx, id, actor, kind)
	if err != nil {
		return nil, err
	}

	patch := Patch{}
	switch kind {
	case AssetAlbumImage:
		images := append(append([]string{}, record.AlbumImages...), ref)
		patch["album_images"] = datatypes.JSONSlice[string](images)
		record.AlbumImages = images
	case AssetDesignImage:
		patch["design_image"] = ref
		record.DesignImage = ref
	case AssetAudio:
		patch["audio_url"] = ref
		record.AudioURL = ref
	case AssetMeaningAudio:
		patch["meaning_audio_url"] = ref
		record.MeaningAudioURL = ref
	default:
		return nil, newServiceError(opAttachAsset, reasonAssetKind, validationError("unsupported asset kind %q", kind))
	}
	if err := l.store.Update(ctx, id, patch); err != nil {
		return nil, err
	}
	l.publish(events.TypeAssetAttached, id)
	return record, nil
}

func (l *Lifecycle) assetRecord(ctx context.Context, id string, actor Actor, kind AssetKind) (*Record, error) {
	switch kind {
	case AssetAlbumImage, AssetDesignImage, AssetAudio, AssetMeaningAudio:
	default:
		return nil, newServiceError(opAttachAsset, reasonAssetKind, validationError("unsupported asset kind %q", kind))
	}

	var (
		record *Record
		err    error
	)
	if actor.admin {
		record, err = l.store.GetTrusted(ctx, id)
	} else {
		if kind != AssetAlbumImage {
			return nil, newServiceError(opAttachAsset, reasonAssetKind, ErrPermissionDenied)
		}
		record, err = l.holderRecord(ctx, opAttachAsset, id, actor.token)
		if err == nil && record.Locked {
			err = newServiceError(opAttachAsset, reasonLocked, ErrLocked)
		}
	}
	if err != nil {
		return nil, err
	}
	if kind == AssetAlbumImage && len(record.AlbumImages) >= maxAlbumImages {
		return nil, newServiceError(opAttachAsset, reasonInvalidInput, validationError("at most %d album images are allowed", maxAlbumImages))
	}
	return record, nil
}

// RecordPatch is an administrative edit. Nil fields are left untouched; an
// empty Pin clears the PIN gate.
type RecordPatch struct {
	Project            *string
	ProductType        *string
	RecipientName      *string
	SenderName         *string
	CustomerName       *string
	CustomerEmail      *string
	Status             *string
	Messages           *[]Message
	Details            Details
	AllowContributions *bool
	IsPublic           *bool
	Locked             *bool
	Pin                *string
}

// AdminUpdate merges an administrative edit. Lock state and view state are
// written independently.
func (l *Lifecycle) AdminUpdate(ctx context.Context, id string, edit RecordPatch) (*Record, error) {
	record, err := l.store.GetTrusted(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := Patch{}
	project, productType := record.Project, record.ProductType
	codes := map[string]*string{"project": edit.Project, "product_type": edit.ProductType, "status": edit.Status}
	for column, value := range codes {
		if value == nil {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(*value))
		if err := checkLength(column, normalized, 32); err != nil {
			return nil, newServiceError(opAdminUpdate, reasonInvalidInput, err)
		}
		patch[column] = normalized
	}
	if edit.Project != nil {
		project = patch["project"].(string)
	}
	if edit.ProductType != nil {
		productType = patch["product_type"].(string)
	}
	names := map[string]*string{"recipient_name": edit.RecipientName, "sender_name": edit.SenderName, "customer_name": edit.CustomerName}
	for column, value := range names {
		if value == nil {
			continue
		}
		if err := checkLength(column, *value, maxNameLength); err != nil {
			return nil, newServiceError(opAdminUpdate, reasonInvalidInput, err)
		}
		patch[column] = strings.TrimSpace(*value)
	}
	if edit.CustomerEmail != nil {
		if err := validateEmail(strings.TrimSpace(*edit.CustomerEmail)); err != nil {
			return nil, newServiceError(opAdminUpdate, reasonInvalidInput, err)
		}
		patch["customer_email"] = strings.TrimSpace(*edit.CustomerEmail)
	}
	if edit.Messages != nil {
		if err := ValidateMessages(*edit.Messages); err != nil {
			return nil, newServiceError(opAdminUpdate, reasonInvalidInput, err)
		}
		patch["messages"] = messagesValue(*edit.Messages)
	}
	if edit.Details != nil {
		if err := validateDetailsFor(ResolveCategory(project, productType), edit.Details); err != nil {
			return nil, newServiceError(opAdminUpdate, reasonInvalidInput, err)
		}
		for column, value := range edit.Details.columns() {
			patch[column] = value
		}
	}
	if edit.AllowContributions != nil {
		patch["allow_contributions"] = *edit.AllowContributions
	}
	if edit.IsPublic != nil {
		patch["is_public"] = *edit.IsPublic
	}
	if edit.Locked != nil {
		patch["locked"] = *edit.Locked
	}
	if edit.Pin != nil {
		if *edit.Pin == "" {
			patch["access_code"] = ""
			patch["access_code_hash"] = ""
		} else {
			if err := ValidatePIN(*edit.Pin); err != nil {
				return nil, newServiceError(opAdminUpdate, reasonInvalidInput, err)
			}
			hash, err := l.hasher.Hash(ctx, *edit.Pin)
			if err != nil {
				l.logError(opAdminUpdate, reasonHashFailed, err, zap.String(fieldGiftID, id), logging.Redacted("pin"))
				return nil, newServiceError(opAdminUpdate, reasonHashFailed, err)
			}
			patch["access_code"] = *edit.Pin
			patch["access_code_hash"] = hash
		}
	}

	if err := l.store.Update(ctx, id, patch); err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		l.publish(events.TypeGiftUpdated, id)
	}
	return l.store.GetTrusted(ctx, id)
}

// Delete removes the record with its assets and contributions.
func (l *Lifecycle) Delete(ctx context.Context, id string) (DeleteReport, error) {
	report, err := l.store.Delete(ctx, id)
	if err != nil {
		return report, err
	}
	l.publish(events.TypeGiftDeleted, id)
	return report, nil
}

func messagesValue(messages []Message) datatypes.JSONSlice[Message] {
	if messages == nil {
		return datatypes.JSONSlice[Message]{}
	}
	return datatypes.JSONSlice[Message](messages)
}
