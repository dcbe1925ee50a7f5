package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/pin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// functionVerifyKeyPrefix keeps the function budget apart from the viewer budget.
const functionVerifyKeyPrefix = "fn.verify_gift_pin:"

func (h *httpHandler) handleHashPin(c *gin.Context) {
	var request pin.HashRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	hash, err := h.pins.Hash(c.Request.Context(), request.Pin)
	if err != nil {
		h.writeError(c, "functions.hash_pin", err)
		return
	}
	c.JSON(http.StatusOK, pin.HashResponse{Hash: hash})
}

func (h *httpHandler) handleComparePin(c *gin.Context) {
	var request pin.CompareRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Pin == "" || request.Hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	match, err := h.pins.Compare(c.Request.Context(), request.Pin, request.Hash)
	if errors.Is(err, pin.ErrMalformedHash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.writeError(c, "functions.compare_pin", err)
		return
	}
	c.JSON(http.StatusOK, pin.CompareResponse{Match: match})
}

// handleVerifyGiftPin applies its own attempt budget per gift before comparing.
func (h *httpHandler) handleVerifyGiftPin(c *gin.Context) {
	var request pin.VerifyRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.GiftID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ctx := c.Request.Context()
	key := functionVerifyKeyPrefix + request.GiftID
	allowed, err := h.pinLimiter.Check(ctx, key, h.maxAttempts, h.window)
	if err != nil {
		h.writeError(c, "functions.verify_gift_pin", err)
		return
	}
	if !allowed {
		h.logger.Warn("pin function attempts exceeded", zap.String("gift_id", request.GiftID), logging.Redacted("pin"))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "code": "functions.verify_gift_pin.rate_limited"})
		return
	}

	result, err := h.pins.Verify(ctx, request.GiftID, request.Pin)
	// A match or an unknown id releases the bucket.
	if result.Match || errors.Is(err, gifts.ErrNotFound) {
		if resetErr := h.pinLimiter.Reset(ctx, key); resetErr != nil {
			h.logger.Warn("failed to reset pin function budget", zap.String("gift_id", request.GiftID), zap.Error(resetErr))
		}
	}
	if err != nil {
		h.writeError(c, "functions.verify_gift_pin", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleGetPublicGiftData(c *gin.Context) {
	var request pin.ProjectionRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.GiftID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.pins.PublicProjection(c.Request.Context(), request.GiftID)
	if err != nil {
		h.writeError(c, "functions.get_public_gift_data", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
