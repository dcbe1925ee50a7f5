package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxImageBytes = 15 << 20
	maxAudioBytes = 50 << 20
)

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var audioTypes = map[string]string{
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/aac":  ".aac",
	"audio/ogg":  ".ogg",
	"audio/wav":  ".wav",
	"audio/webm": ".weba",
}

// ObjectStore persists binary objects.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Remove(ctx context.Context, ref string) error
}

// Attacher authorizes and records an uploaded reference on a gift.
type Attacher interface {
	Authorize(ctx context.Context, id string, actor gifts.Actor, kind gifts.AssetKind) error
	AttachAsset(ctx context.Context, id string, actor gifts.Actor, kind gifts.AssetKind, ref string) (*gifts.Record, error)
}

// UploadRequest is one file destined for a gift slot.
type UploadRequest struct {
	GiftID      string
	Actor       gifts.Actor
	Kind        gifts.AssetKind
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploaderConfig describes the uploader dependencies.
type UploaderConfig struct {
	Objects  ObjectStore
	Attacher Attacher
	Logger   *zap.Logger
}

// Uploader writes an object and attaches it to its gift. Uploads for the same
// gift are serialized across both steps.
type Uploader struct {
	objects  ObjectStore
	attacher Attacher
	locks    *keyedMutex
	logger   *zap.Logger
}

// NewUploader validates the configuration and builds an Uploader.
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if cfg.Objects == nil {
		return nil, errors.New("assets: object store is required")
	}
	if cfg.Attacher == nil {
		return nil, errors.New("assets: attacher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{objects: cfg.Objects, attacher: cfg.Attacher, locks: newKeyedMutex(), logger: logger}, nil
}

// Upload authorizes the caller, stores the file and attaches it. When the attach step fails the
// object is removed again and the record is left unchanged.
func (u *Uploader) Upload(ctx context.Context, request UploadRequest) (*gifts.Record, error) {
	extension, err := validateUpload(request)
	if err != nil {
		return nil, err
	}
	objectID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gifts.ErrUpload, err)
	}
	key := path.Join("gifts", request.GiftID, string(request.Kind), objectID.String()+extension)

	unlock := u.locks.Lock(request.GiftID)
	defer unlock()

	if err := u.attacher.Authorize(ctx, request.GiftID, request.Actor, request.Kind); err != nil {
		return nil, err
	}
	ref, err := u.objects.Put(ctx, key, request.ContentType, request.Body, request.Size)
	if err != nil {
		u.logger.Error("asset upload failed",
			zap.String("gift_id", request.GiftID),
			zap.String("kind", string(request.Kind)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", gifts.ErrUpload, err)
	}

	record, err := u.attacher.AttachAsset(ctx, request.GiftID, request.Actor, request.Kind, ref)
	if err != nil {
		if removeErr := u.objects.Remove(context.WithoutCancel(ctx), ref); removeErr != nil {
			u.logger.Warn("orphaned asset cleanup failed",
				zap.String("gift_id", request.GiftID),
				zap.String("asset", ref),
				zap.Error(removeErr))
		}
		return nil, err
	}
	return record, nil
}

func validateUpload(request UploadRequest) (string, error) {
	if strings.TrimSpace(request.GiftID) == "" {
		return "", fmt.Errorf("%w: gift id is required", gifts.ErrValidation)
	}
	if strings.ContainsAny(request.GiftID, `/\`) || strings.Contains(request.GiftID, "..") {
		return "", fmt.Errorf("%w: gift id %q is not a valid object prefix", gifts.ErrValidation, request.GiftID)
	}
	if request.Body == nil {
		return "", fmt.Errorf("%w: file is required", gifts.ErrValidation)
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(request.ContentType, ";")[0]))
	allowed := imageTypes
	if request.Kind == gifts.AssetAudio || request.Kind == gifts.AssetMeaningAudio {
		allowed = audioTypes
	}
	extension, ok := allowed[contentType]
	if !ok {
		return "", fmt.Errorf("%w: content type %q is not accepted for %s", gifts.ErrValidation, request.ContentType, request.Kind)
	}
	if request.Size <= 0 {
		return "", fmt.Errorf("%w: file is empty", gifts.ErrValidation)
	}
	if request.Size > limitFor(request.Kind) {
		return "", fmt.Errorf("%w: file exceeds %d bytes", gifts.ErrValidation, limitFor(request.Kind))
	}
	return extension, nil
}

func limitFor(kind gifts.AssetKind) int64 {
	if kind == gifts.AssetAudio || kind == gifts.AssetMeaningAudio {
		return maxAudioBytes
	}
	return maxImageBytes
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
