package main

import (
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/drum_backend/events"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const sseKeepalive = 30 * time.Second

// sseHandler streams hub events for topics until the client goes away.
func (a *app) sseHandler(topics ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		client := a.hub.Subscribe(topics...)
		defer func() {
			a.hub.Unsubscribe(client.ID)
			a.logger.WithFields(logrus.Fields{
				"client_id": client.ID,
				"topics":    topics,
				"clients":   a.hub.ClientCount(),
				"dropped":   a.hub.Dropped(),
			}).Info("sse client disconnected")
		}()

		hello, err := events.Encode("connected", gin.H{"clientId": client.ID})
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := events.WriteSSE(c.Writer, hello); err != nil {
			return
		}
		c.Writer.Flush()

		ticker := time.NewTicker(sseKeepalive)
		defer ticker.Stop()
		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-client.Events:
				if !ok {
					return
				}
				if err := events.WriteSSE(c.Writer, ev); err != nil {
					return
				}
				c.Writer.Flush()
			case <-ticker.C:
				if err := events.WriteKeepalive(c.Writer); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	}
}
