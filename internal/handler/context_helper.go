package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/geo-attendance-api/internal/dto"
	"github.com/noah-isme/geo-attendance-api/internal/service"
)

const defaultHeartbeat = 25 * time.Second

// locatorFromPayload turns the browser-reported fix into a locator.
func locatorFromPayload(p dto.LocationPayload) service.ReportedPosition {
	return service.ReportedPosition{
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Accuracy:     p.Accuracy,
		CapturedAt:   p.CapturedTime(),
		SentAt:       p.SentTime(),
		ReceivedAt:   time.Now(),
		ErrorCode:    p.LocationError,
		ErrorMessage: p.LocationErrorMessage,
	}
}

// streamEvents writes server-sent events until events closes or the client
// goes away. A comment line goes out every heartbeat so proxies keep the
// connection open.
func streamEvents[T any](c *gin.Context, events <-chan T, heartbeat time.Duration, name func(T) string) {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(name(ev), ev)
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
