package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/access"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleSetupGet(c *gin.Context) {
	record, err := h.lifecycle.StartSetup(c.Request.Context(), c.Param("id"), c.Query(setupTokenQuery))
	if err != nil {
		h.writeError(c, "setup.get", err)
		return
	}
	c.JSON(http.StatusOK, h.setupView(*record))
}

func (h *httpHandler) handleSetupSave(c *gin.Context) {
	var payload setupContentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	id, token := c.Param("id"), c.Query(setupTokenQuery)
	current, err := h.store.Get(c.Request.Context(), id, gifts.Credentials{SecurityToken: token})
	if err != nil {
		h.writeError(c, "setup.save", err)
		return
	}
	details, err := payload.Details.forCategory(current.Category())
	if err != nil {
		h.writeError(c, "setup.save", err)
		return
	}
	record, err := h.lifecycle.SaveContent(c.Request.Context(), id, token, gifts.ContentPatch{
		RecipientName: payload.RecipientName,
		SenderName:    payload.SenderName,
		Messages:      payload.Messages,
		Details:       details,
	})
	if err != nil {
		h.writeError(c, "setup.save", err)
		return
	}
	c.JSON(http.StatusOK, h.setupView(*record))
}

func (h *httpHandler) handleSetupUpload(c *gin.Context) {
	h.upload(c, "setup.upload", gifts.AsHolder(c.Query(setupTokenQuery)), gifts.AssetAlbumImage, func(record gifts.Record) any {
		return h.setupView(record)
	})
}

func (h *httpHandler) handleSetupSeal(c *gin.Context) {
	var payload sealPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	record, err := h.lifecycle.Seal(c.Request.Context(), c.Param("id"), c.Query(setupTokenQuery), gifts.SealRequest{Pin: payload.Pin})
	if err != nil {
		h.writeError(c, "setup.seal", err)
		return
	}
	h.logger.Info("gift sealed", zap.String("gift_id", record.ID), zap.Bool("has_pin", record.HasPin()))
	c.JSON(http.StatusOK, h.setupView(*record))
}

// setupView is the holder view; it carries the contribution link when contributions are open.
func (h *httpHandler) setupView(record gifts.Record) gin.H {
	view := gin.H{"gift": h.giftView(record)}
	if record.AllowContributions {
		view["contributionLink"] = gifts.ContributionPath(record)
	}
	return view
}

func (h *httpHandler) handleViewerOpen(c *gin.Context) {
	result, err := h.gateway.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "viewer.open", err)
		return
	}
	h.writeReadResult(c, result)
}

func (h *httpHandler) writeReadResult(c *gin.Context, result access.ReadResult) {
	switch result.Kind {
	case access.ReadFull:
		c.JSON(http.StatusOK, gin.H{"kind": result.Kind, "gift": h.giftView(*result.Gift)})
	case access.ReadPublic:
		c.JSON(http.StatusOK, gin.H{"kind": result.Kind, "publicData": result.Public})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	}
}

func (h *httpHandler) handleViewerUnlock(c *gin.Context) {
	var payload pinPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	id := c.Param("id")
	result, err := h.gateway.VerifyPin(c.Request.Context(), id, payload.Pin)
	if err != nil {
		h.writeError(c, "viewer.unlock", err)
		return
	}
	switch result.Status {
	case access.PinGranted:
		view := h.giftView(*result.Gift)
		view.HasPin = result.HasPin
		c.JSON(http.StatusOK, gin.H{"status": result.Status, "gift": view})
	case access.PinRateLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "status": result.Status, "remaining": 0})
	default:
		h.logger.Info("pin rejected", zap.String("gift_id", id), logging.Redacted("pin"), zap.Int("remaining", result.Remaining))
		c.JSON(http.StatusForbidden, gin.H{"error": "pin_mismatch", "status": result.Status, "remaining": result.Remaining})
	}
}

func (h *httpHandler) handleJoinGet(c *gin.Context) {
	invite, err := h.lifecycle.Invite(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeError(c, "join.get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"giftId":             invite.GiftID,
		"recipientName":      invite.RecipientName,
		"allowContributions": invite.AllowContributions,
	})
}

func (h *httpHandler) handleJoinPost(c *gin.Context) {
	var payload contributionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	contribution, err := h.lifecycle.Contribute(c.Request.Context(), c.Param("token"), gifts.ContributionInput{
		Author:  payload.Author,
		Content: payload.Content,
	})
	if err != nil {
		h.writeError(c, "join.contribute", err)
		return
	}
	c.JSON(http.StatusCreated, newContributionView(*contribution))
}

func (h *httpHandler) handleIntakeOrder(c *gin.Context) {
	if h.intakeSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	presented := strings.TrimSpace(c.GetHeader(intakeSecretHeader))
	if subtle.ConstantTimeCompare([]byte(h.intakeSecret), []byte(presented)) != 1 {
		h.logger.Warn("order intake rejected", zap.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var payload createGiftPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	request, err := payload.toRequest()
	if err != nil {
		h.writeError(c, "intake.order", err)
		return
	}
	record, created, err := h.lifecycle.IntakeOrder(c.Request.Context(), request)
	if err != nil {
		h.writeError(c, "intake.order", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("order intake created gift",
			zap.String("gift_id", record.ID),
			zap.String("platform", record.Platform),
			zap.String("order_id", record.OrderID))
	}
	c.JSON(status, gin.H{
		"created":          created,
		"id":               record.ID,
		"setupLink":        gifts.SetupPath(*record),
		"contributionLink": gifts.ContributionPath(*record),
		"viewerUrl":        h.registry.Resolve(record).ViewerURL(*record),
	})
}
