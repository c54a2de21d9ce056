// Event stream handler.
//
//   - GET /groups/{id}/events   (server-sent events)
//
// The stream opens with a "status" event carrying the reply status board,
// then relays every observer event of the group, named by its type
// (reply.started, reply.progress, reply.terminal, replies.settled, ...).
// A slow client never stalls the event bus: when its queue is full, events
// are dropped and a "dropped" event reports how many were lost.
package handlers

import (
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-groupchat-backend/internal/events"
	"github.com/tbourn/go-groupchat-backend/internal/http/middleware"
	"github.com/tbourn/go-groupchat-backend/internal/utils"
)

// Events godoc
// @ID          groupEvents
// @Summary     Stream group events
// @Description Server-sent events for one group. Filter with ?types=reply.progress,reply.terminal.
// @Tags        Events
// @Produce     text/event-stream
// @Param       id     path   string  true  "Group ID"  format(uuid)
// @Param       types  query  string  false "Comma separated event types"
// @Success     200  {string}  string  "event stream"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /groups/{id}/events [get]
func (h *Handlers) Events(c *gin.Context) {
	ctx := c.Request.Context()
	id, valid := pathID(c, "id", "group")
	if !valid {
		return
	}
	status, err := h.groups.Statuses(ctx, id)
	if err != nil {
		serviceFailure(c, err)
		return
	}

	var only map[events.Type]bool
	if types := utils.SplitList(c.Query("types")); len(types) > 0 {
		only = make(map[events.Type]bool, len(types))
		for _, t := range types {
			only[events.Type(t)] = true
		}
	}

	queue := make(chan events.Event, max(h.StreamBuffer, 1))
	var dropped atomic.Int64
	unsubscribe := h.events.SubscribeGroup(id, events.ObserverFunc(func(e events.Event) {
		if only != nil && !only[e.Type] {
			return
		}
		select {
		case queue <- e:
		default:
			dropped.Add(1)
		}
	}))
	defer unsubscribe()
	defer middleware.TrackStream()()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// The server WriteTimeout would otherwise cut long streams.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	var seq int64
	send := func(name string, data any) {
		seq++
		c.Render(-1, sse.Event{Id: strconv.FormatInt(seq, 10), Event: name, Data: data})
	}
	send("status", StatusResponse{GroupID: id, Members: status})
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.KeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e := <-queue:
			if n := dropped.Swap(0); n > 0 {
				send("dropped", gin.H{"count": n})
			}
			send(string(e.Type), e)
			return true
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})
}
