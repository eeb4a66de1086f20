package events

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// KeepAliveInterval is how often an idle stream receives a comment line.
const KeepAliveInterval = 15 * time.Second

// StreamSSE streams every published event as server-sent events until the client goes away.
// The server never ends the stream itself.
func StreamSSE(n *Notifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sub := n.Subscribe()
		defer sub.Close()

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		c.Writer.Flush()

		keepAlive := time.NewTicker(KeepAliveInterval)
		defer keepAlive.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				logger.Debug("sse client disconnected")
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if err := writeSSE(c.Writer, ev); err != nil {
					logger.Debug("sse write failed", zap.Error(err))
					return
				}
				c.Writer.Flush()
			case <-keepAlive.C:
				if _, err := io.WriteString(c.Writer, ": keep-alive\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

func writeSSE(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, ev.Data)
	return err
}
