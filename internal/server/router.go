package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/access"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/experience"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/pin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	adminSubjectContextKey = "keepsake_admin_subject"
	intakeSecretHeader     = "X-Intake-Secret"
	setupTokenQuery        = "token"
)

var (
	errMissingLifecycle     = errors.New("lifecycle dependency required")
	errMissingGateway       = errors.New("access gateway dependency required")
	errMissingPinFunctions  = errors.New("pin functions dependency required")
	errMissingPinLimiter    = errors.New("pin limiter dependency required")
	errMissingRegistry      = errors.New("experience registry dependency required")
	errMissingUploader      = errors.New("uploader dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingEvents        = errors.New("event source dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AdminTokenManager exchanges the admin API key for bearer tokens and validates them.
type AdminTokenManager interface {
	Authenticate(ctx context.Context, apiKey, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// PinFunctions is the trusted PIN contract exposed under /functions.
type PinFunctions interface {
	Hash(ctx context.Context, pin string) (string, error)
	Compare(ctx context.Context, pin, hash string) (bool, error)
	Verify(ctx context.Context, giftID, pin string) (pin.VerifyResult, error)
	PublicProjection(ctx context.Context, giftID string) (pin.ProjectionResult, error)
}

// EventSource streams lifecycle events.
type EventSource interface {
	Subscribe(ctx context.Context, giftID string) (<-chan events.Event, func())
}

type Dependencies struct {
	Lifecycle      *gifts.Lifecycle
	Gateway        *access.Gateway
	PinFunctions   PinFunctions
	PinLimiter     access.Limiter
	Registry       *experience.Registry
	Uploader       *assets.Uploader
	TokenManager   AdminTokenManager
	Events         EventSource
	IntakeSecret   string
	PinMaxAttempts int
	PinWindow      time.Duration
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Lifecycle == nil:
		return nil, errMissingLifecycle
	case deps.Gateway == nil:
		return nil, errMissingGateway
	case deps.PinFunctions == nil:
		return nil, errMissingPinFunctions
	case deps.PinLimiter == nil:
		return nil, errMissingPinLimiter
	case deps.Registry == nil:
		return nil, errMissingRegistry
	case deps.Uploader == nil:
		return nil, errMissingUploader
	case deps.TokenManager == nil:
		return nil, errMissingTokenManager
	case deps.Events == nil:
		return nil, errMissingEvents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := deps.PinMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	window := deps.PinWindow
	if window <= 0 {
		window = 15 * time.Minute
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		lifecycle:    deps.Lifecycle,
		store:        deps.Lifecycle.Store(),
		gateway:      deps.Gateway,
		pins:         deps.PinFunctions,
		pinLimiter:   deps.PinLimiter,
		registry:     deps.Registry,
		uploader:     deps.Uploader,
		tokens:       deps.TokenManager,
		events:       deps.Events,
		intakeSecret: deps.IntakeSecret,
		maxAttempts:  maxAttempts,
		window:       window,
		logger:       logger,
	}

	router.POST("/auth/admin", handler.handleAdminAuth)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeAdmin)
	admin.GET("/gifts", handler.handleListGifts)
	admin.POST("/gifts", handler.handleCreateGift)
	admin.GET("/gifts/:id", handler.handleGetGift)
	admin.PATCH("/gifts/:id", handler.handleUpdateGift)
	admin.DELETE("/gifts/:id", handler.handleDeleteGift)
	admin.POST("/gifts/:id/assets", handler.handleAdminUpload)
	admin.GET("/gifts/:id/contributions", handler.handleListContributions)
	admin.GET("/events", handler.handleEventStream)

	router.GET("/setup/:id", handler.handleSetupGet)
	router.PATCH("/setup/:id", handler.handleSetupSave)
	router.POST("/setup/:id/images", handler.handleSetupUpload)
	router.POST("/setup/:id/seal", handler.handleSetupSeal)

	router.GET("/v/:id", handler.handleViewerOpen)
	router.POST("/v/:id/unlock", handler.handleViewerUnlock)

	router.GET("/join/:token", handler.handleJoinGet)
	router.POST("/join/:token", handler.handleJoinPost)

	router.POST("/intake/orders", handler.handleIntakeOrder)

	functions := router.Group("/functions")
	functions.POST("/hashPin", handler.handleHashPin)
	functions.POST("/comparePin", handler.handleComparePin)
	functions.POST("/verifyGiftPin", handler.handleVerifyGiftPin)
	functions.POST("/getPublicGiftData", handler.handleGetPublicGiftData)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", intakeSecretHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	lifecycle    *gifts.Lifecycle
	store        *gifts.Store
	gateway      *access.Gateway
	pins         PinFunctions
	pinLimiter   access.Limiter
	registry     *experience.Registry
	uploader     *assets.Uploader
	tokens       AdminTokenManager
	events       EventSource
	intakeSecret string
	maxAttempts  int
	window       time.Duration
	logger       *zap.Logger
}

type adminAuthRequestPayload struct {
	APIKey  string `json:"api_key"`
	Subject string `json:"subject"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleAdminAuth(c *gin.Context) {
	var request adminAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.APIKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.Authenticate(c.Request.Context(), request.APIKey, request.Subject)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.logger.Warn("admin authentication rejected", zap.String("subject", request.Subject))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, subject)
	c.Next()
}
