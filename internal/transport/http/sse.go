package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirantepos/table-service/internal/event"
	"github.com/mirantepos/table-service/internal/fanout"
	"github.com/mirantepos/table-service/internal/service"
)

func channelAllowed(role service.Role, ch event.Channel) bool {
	switch role {
	case service.RoleAdmin:
		return true
	case service.RoleWaiter:
		return ch == event.ChanWaiters
	case service.RoleCashier:
		return ch == event.ChanCashiers
	case service.RoleKitchen:
		return ch == event.ChanKitchen
	case service.RoleBar:
		return ch == event.ChanBar
	}
	return false
}

// eventsHandler is the SSE egress: one subscriber session per request. With
// last_version set, the broker replays the missed frames first; a 409 with
// {"resync": true} tells the client to reload snapshots instead.
func eventsHandler(broker *fanout.Broker, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		ch := event.Channel(c.Query("channel"))
		if !channelAllowed(actor.Role, ch) {
			c.JSON(http.StatusForbidden, gin.H{"error": "channel not allowed for role"})
			return
		}
		var lastSeen *uint64
		if v := c.Query("last_version"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_version"})
				return
			}
			lastSeen = &n
		}

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		sess := fanout.NewSession(fmt.Sprintf("%s-%d", actor.ID, time.Now().UnixNano()), 64)
		if err := broker.Subscribe(sess, ch, lastSeen); err != nil {
			if errors.Is(err, fanout.ErrResyncRequired) {
				c.JSON(http.StatusConflict, gin.H{"resync": true})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer broker.Unsubscribe(sess, ch)
		log.Infow("subscriber joined", "session", sess.ID, "channel", ch)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()
		for {
			select {
			case <-c.Request.Context().Done():
				log.Infow("subscriber left", "session", sess.ID, "channel", ch)
				return
			case <-heartbeat.C:
				fmt.Fprint(c.Writer, ": ping\n\n")
				flusher.Flush()
			case evt := <-sess.C:
				frame, _ := json.Marshal(evt)
				fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
				flusher.Flush()
			}
		}
	}
}
