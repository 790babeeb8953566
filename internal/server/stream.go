package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rmoura-dev/docflow/internal/events"
)

// How long to keep the stream open after the terminal event, so slow
// clients receive it before EOF.
const terminalLinger = time.Second

// How soon after subscribing to re-check history. Covers a client that
// attaches just as the terminal event lands.
const attachRecheck = 200 * time.Millisecond

// handleJobStream serves a job's progress log over SSE. Buffered history is
// replayed on connect, then live events follow. Disconnecting only detaches
// the viewer; the job itself keeps running.
func (s *Server) handleJobStream(c *gin.Context) {
	jobID := c.Param("id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// sized above the bus history cap so replay never blocks inside the bus
	ch := make(chan events.Event, 256)
	unsubscribe := s.bus.Subscribe(jobID, func(ev events.Event) {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("stream.event_dropped", "job_id", jobID, "sequence", ev.Sequence)
		}
	}, true)
	defer unsubscribe()

	idle := s.cfg.StreamTimeout
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	flusher, _ := c.Writer.(http.Flusher)
	lastSeq := -1
	var closeAt <-chan time.Time

	send := func(ev events.Event) {
		if ev.Sequence <= lastSeq {
			return
		}
		lastSeq = ev.Sequence
		c.SSEvent(string(ev.Type), ev)
		if flusher != nil {
			flusher.Flush()
		}
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(idle)
		if ev.Type.IsTerminal() && closeAt == nil {
			closeAt = time.After(terminalLinger)
		}
	}

	recheck := time.After(attachRecheck)
	ctx := c.Request.Context()
	for {
		select {
		case ev := <-ch:
			send(ev)
		case <-recheck:
			// a terminal event appended just before our subscription is in
			// history; the sequence guard makes this replay idempotent
			if s.bus.IsJobComplete(jobID) {
				for _, ev := range s.bus.GetHistory(jobID) {
					send(ev)
				}
			}
		case <-closeAt:
			return
		case <-idleTimer.C:
			// synthetic stream-side timeout; the job's own history is untouched
			c.SSEvent(string(events.EventError), events.Event{
				JobID: jobID,
				Type:  events.EventError,
				Data:  events.EventData{Status: "timeout", Error: "no progress received, closing stream"},
			})
			if flusher != nil {
				flusher.Flush()
			}
			s.logger.Debug("stream.idle_timeout", "job_id", jobID)
			return
		case <-ctx.Done():
			return
		}
	}
}
