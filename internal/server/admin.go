package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	uploadFileField = "file"
	uploadKindField = "kind"
)

func (h *httpHandler) handleListGifts(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		h.writeError(c, "admin.list", err)
		return
	}
	views := make([]adminGiftView, 0, len(records))
	for _, record := range records {
		views = append(views, h.adminGiftView(record))
	}
	c.JSON(http.StatusOK, gin.H{"gifts": views})
}

func (h *httpHandler) handleCreateGift(c *gin.Context) {
	var payload createGiftPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	request, err := payload.toRequest()
	if err != nil {
		h.writeError(c, "admin.create", err)
		return
	}
	record, err := h.lifecycle.Create(c.Request.Context(), request)
	if err != nil {
		h.writeError(c, "admin.create", err)
		return
	}
	h.logger.Info("gift created",
		zap.String("gift_id", record.ID),
		zap.String("admin", c.GetString(adminSubjectContextKey)),
		zap.String("category", string(record.Category())))
	c.JSON(http.StatusCreated, h.adminGiftView(*record))
}

func (h *httpHandler) handleGetGift(c *gin.Context) {
	record, err := h.store.GetTrusted(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "admin.get", err)
		return
	}
	c.JSON(http.StatusOK, h.adminGiftView(*record))
}

func (h *httpHandler) handleUpdateGift(c *gin.Context) {
	var payload updateGiftPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	id := c.Param("id")
	current, err := h.store.GetTrusted(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "admin.update", err)
		return
	}
	patch, err := payload.toPatch(*current)
	if err != nil {
		h.writeError(c, "admin.update", err)
		return
	}
	record, err := h.lifecycle.AdminUpdate(c.Request.Context(), id, patch)
	if err != nil {
		h.writeError(c, "admin.update", err)
		return
	}
	c.JSON(http.StatusOK, h.adminGiftView(*record))
}

func (h *httpHandler) handleDeleteGift(c *gin.Context) {
	id := c.Param("id")
	report, err := h.lifecycle.Delete(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "admin.delete", err)
		return
	}
	if len(report.AssetErrors) > 0 {
		h.logger.Warn("gift deleted with orphaned assets",
			zap.String("gift_id", id),
			zap.Int("asset_errors", len(report.AssetErrors)))
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            id,
		"deleted":       true,
		"assetsRemoved": report.AssetsRemoved,
		"assetErrors":   len(report.AssetErrors),
	})
}

func (h *httpHandler) handleAdminUpload(c *gin.Context) {
	kind, err := gifts.ParseAssetKind(c.PostForm(uploadKindField))
	if err != nil {
		h.writeError(c, "admin.upload", err)
		return
	}
	h.upload(c, "admin.upload", gifts.AsAdmin(), kind, func(record gifts.Record) any {
		return h.adminGiftView(record)
	})
}

func (h *httpHandler) handleListContributions(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetTrusted(c.Request.Context(), id); err != nil {
		h.writeError(c, "admin.contributions", err)
		return
	}
	contributions, err := h.store.ListContributions(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "admin.contributions", err)
		return
	}
	views := make([]contributionView, 0, len(contributions))
	for _, contribution := range contributions {
		views = append(views, newContributionView(contribution))
	}
	c.JSON(http.StatusOK, gin.H{"contributions": views})
}

// upload streams the multipart file into the uploader and renders the updated record.
func (h *httpHandler) upload(c *gin.Context, operation string, actor gifts.Actor, kind gifts.AssetKind, render func(gifts.Record) any) {
	header, err := c.FormFile(uploadFileField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	file, err := header.Open()
	if err != nil {
		h.logger.Error("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()

	record, err := h.uploader.Upload(c.Request.Context(), assets.UploadRequest{
		GiftID:      c.Param("id"),
		Actor:       actor,
		Kind:        kind,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.writeError(c, operation, err)
		return
	}
	c.JSON(http.StatusOK, render(*record))
}
