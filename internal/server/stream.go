package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventHeartbeat = "heartbeat"
	streamSource         = "keepsake-backend"
	streamGiftQuery      = "gift"
	heartbeatInterval    = 25 * time.Second
)

// handleEventStream relays bus events as server-sent events until the client leaves.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	giftID := strings.TrimSpace(c.Query(streamGiftQuery))
	if giftID == "" {
		giftID = events.AllGifts
	}
	ctx := c.Request.Context()
	stream, unsubscribe := h.events.Subscribe(ctx, giftID)
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("event stream opened",
		zap.String("admin", c.GetString(adminSubjectContextKey)),
		zap.String("gift_id", giftID))

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case now := <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"source": streamSource, "timestamp": now.UTC()})
			return true
		}
	})
}
