package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeAdminLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/admin/gifts", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubAdminTokenManager{validateErr: fmt.Errorf("%w: exp", auth.ErrExpiredToken)},
		logger: zap.New(core),
	}

	handler.authorizeAdmin(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeAdminLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/admin/gifts", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubAdminTokenManager{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeAdmin(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeAdminRejectsMissingBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/admin/gifts", http.NoBody)
	request.Header.Set("Authorization", "Basic abc")
	ctx.Request = request

	handler := &httpHandler{tokens: stubAdminTokenManager{subject: "ops"}, logger: zap.NewNop()}
	handler.authorizeAdmin(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
	if !ctx.IsAborted() {
		t.Fatalf("expected the chain to be aborted")
	}
}

func TestAuthorizeAdminStoresSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/admin/gifts", http.NoBody)
	request.Header.Set("Authorization", "Bearer good-token")
	ctx.Request = request

	handler := &httpHandler{tokens: stubAdminTokenManager{subject: "ops"}, logger: zap.NewNop()}
	handler.authorizeAdmin(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected the chain to continue")
	}
	if subject := ctx.GetString(adminSubjectContextKey); subject != "ops" {
		t.Fatalf("expected subject ops, got %q", subject)
	}
}

func TestAdminAuthExchangesAPIKey(t *testing.T) {
	server := newTestServer(t)

	rejected := server.do(t, http.MethodPost, "/auth/admin", map[string]string{"api_key": "wrong"}, nil)
	if rejected.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for wrong key, got %d", rejected.Code)
	}
	missing := server.do(t, http.MethodPost, "/auth/admin", map[string]string{}, nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request without key, got %d", missing.Code)
	}

	token := server.adminToken(t)
	if token == "" {
		t.Fatalf("expected an access token")
	}
	listed := server.do(t, http.MethodGet, "/admin/gifts", nil, map[string]string{"Authorization": "Bearer " + token})
	if listed.Code != http.StatusOK {
		t.Fatalf("expected admin list to succeed, got %d", listed.Code)
	}
	anonymous := server.do(t, http.MethodGet, "/admin/gifts", nil, nil)
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without token, got %d", anonymous.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingLifecycle) {
		t.Fatalf("expected missing lifecycle error, got %v", err)
	}
}
