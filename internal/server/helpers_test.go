package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/access"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/experience"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/pin"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/ratelimit"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testAdminAPIKey  = "admin-key"
	testIntakeSecret = "intake-secret"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func (m *memoryObjects) Put(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	ref := "https://cdn.example.com/" + key
	m.objects[ref] = data
	return ref, nil
}

func (m *memoryObjects) Remove(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	m.removed = append(m.removed, ref)
	return nil
}

func (m *memoryObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type testServer struct {
	handler   http.Handler
	lifecycle *gifts.Lifecycle
	bus       *events.Bus
	objects   *memoryObjects
	logs      *observer.ObservedLogs
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	dsn := fmt.Sprintf("file:keepsake_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&gifts.Record{}, &gifts.Contribution{}, &ratelimit.Bucket{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	objects := &memoryObjects{}
	store, err := gifts.NewStore(gifts.StoreConfig{
		Database:   db,
		IDProvider: gifts.NewUUIDProvider(),
		Retry:      gifts.RetryPolicy{Attempts: 1},
		Assets:     objects,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	registry := experience.NewRegistry(experience.Config{Environment: "development"})
	pins, err := pin.NewService(pin.ServiceConfig{Records: store, Hasher: pin.NewFastHasher(), Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct pin service: %v", err)
	}
	bus := events.NewBus()
	lifecycle, err := gifts.NewLifecycle(gifts.LifecycleConfig{
		Store:  store,
		Hasher: pins,
		Policy: registry,
		Events: bus,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to construct lifecycle: %v", err)
	}
	limiter, err := ratelimit.New(ratelimit.Config{Store: ratelimit.NewGormBucketStore(db), Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct limiter: %v", err)
	}
	gateway, err := access.NewGateway(access.GatewayConfig{
		Records: store,
		Pins:    pins,
		Limiter: limiter,
		Views:   lifecycle,
		Events:  bus,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}
	uploader, err := assets.NewUploader(assets.UploaderConfig{Objects: objects, Attacher: lifecycle, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct uploader: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		AdminAPIKey:   testAdminAPIKey,
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Lifecycle:    lifecycle,
		Gateway:      gateway,
		PinFunctions: pins,
		PinLimiter:   limiter,
		Registry:     registry,
		Uploader:     uploader,
		TokenManager: issuer,
		Events:       bus,
		IntakeSecret: testIntakeSecret,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return testServer{handler: handler, lifecycle: lifecycle, bus: bus, objects: objects, logs: logs}
}

func (s testServer) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s testServer) adminToken(t *testing.T) string {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/auth/admin", map[string]string{"api_key": testAdminAPIKey, "subject": "ops"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin auth failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var response authResponsePayload
	decode(t, recorder, &response)
	return response.AccessToken
}

func (s testServer) admin(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, target, body, map[string]string{"Authorization": "Bearer " + s.adminToken(t)})
}

func (s testServer) upload(t *testing.T, target string, headers map[string]string, fields map[string]string, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="upload.bin"`)
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, target, &buffer)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type giftResponse struct {
	ID               string          `json:"id"`
	RecipientName    string          `json:"recipientName"`
	Category         string          `json:"category"`
	Locked           bool            `json:"locked"`
	Viewed           bool            `json:"viewed"`
	HasPin           bool            `json:"hasPin"`
	SetupStarted     bool            `json:"setupStarted"`
	AccessCode       string          `json:"accessCode"`
	SetupLink        string          `json:"setupLink"`
	ContributionLink string          `json:"contributionLink"`
	ViewerURL        string          `json:"viewerUrl"`
	AlbumImages      []string        `json:"albumImages"`
	Messages         []gifts.Message `json:"messages"`
	EngravingText    string          `json:"engravingText"`
	AudioURL         string          `json:"audioUrl"`
}

func (s testServer) createGift(t *testing.T, payload map[string]any) giftResponse {
	t.Helper()
	recorder := s.admin(t, http.MethodPost, "/admin/gifts", payload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var gift giftResponse
	decode(t, recorder, &gift)
	return gift
}

type stubAdminTokenManager struct {
	validateErr error
	subject     string
}

func (s stubAdminTokenManager) Authenticate(context.Context, string, string) (string, int64, error) {
	return "", 0, auth.ErrInvalidCredentials
}

func (s stubAdminTokenManager) ValidateToken(string) (string, error) {
	return s.subject, s.validateErr
}
