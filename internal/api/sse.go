package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/torrentlink/internal/event"
	log "github.com/sirupsen/logrus"
)

// SSEHandler 把总线上的事件推给打开的页面 (popup / options)
func (h *Handler) SSEHandler(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan := make(chan event.Event, 16)

	bridgeHandler := func(e event.Event) {
		// 非阻塞发送，慢客户端直接丢消息
		select {
		case clientChan <- e:
		default:
			log.WithField("topic", e.Type).Debug("SSE client too slow, event dropped")
		}
	}

	subIDs := make(map[event.EventType]string, len(event.AllTopics))
	for _, t := range event.AllTopics {
		subIDs[t] = h.Bus.Subscribe(t, bridgeHandler)
	}

	// 总线 handler 是异步的，退订后仍可能写入，所以不 close(clientChan)
	defer func() {
		for t, id := range subIDs {
			h.Bus.Unsubscribe(t, id)
		}
		log.Debug("SSE client disconnected")
	}()

	c.SSEvent("message", "connected")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case evt := <-clientChan:
			data, err := json.Marshal(evt.Payload)
			if err != nil {
				log.WithError(err).Warn("SSE marshal failed")
				continue
			}
			c.SSEvent(string(evt.Type), string(data))
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
