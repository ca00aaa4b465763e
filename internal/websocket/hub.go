// Package websocket exposes job progress over a websocket connection as an
// alternative to the SSE stream. Frames carry the same ProgressEvent JSON in
// the same order; a dropped connection never affects the job.
package websocket

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/leadpilot/api/internal/model"
	"github.com/leadpilot/api/internal/runner"
	"github.com/leadpilot/api/internal/stream"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Hub serves job progress connections. Events come from the shared stream
// hub; the persisted event list backs the replay so a consumer that connects
// late, or gets dropped for falling behind, still sees every frame.
type Hub struct {
	stream *stream.Hub
	runs   *runner.Service
}

func NewHub(streamHub *stream.Hub, runs *runner.Service) *Hub {
	return &Hub{stream: streamHub, runs: runs}
}

// HandleConnection streams one job's events until a terminal phase, the
// client disconnects, or the write side fails. Closing the connection never
// cancels the job.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	defer c.Close()

	if _, err := h.runs.Get(context.Background(), jobID); err != nil {
		c.WriteJSON(map[string]string{"error": "job not found"})
		return
	}

	// Read pump: the client sends nothing meaningful, but reading drives
	// pong handling and tells us when the peer is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	lastSeq := 0
	for {
		events, cancel := h.subscribeAndReplay(c, jobID, &lastSeq)
		if events == nil {
			return
		}

		resubscribe := false
		for !resubscribe {
			select {
			case <-done:
				cancel()
				return
			case <-ping.C:
				c.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case ev, ok := <-events:
				if !ok {
					// Dropped by the hub for falling behind: resubscribe and
					// let the replay fill the gap.
					resubscribe = true
					break
				}
				if ev.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Seq
				if err := h.write(c, ev); err != nil {
					cancel()
					return
				}
				if model.TerminalPhase(ev.Phase) {
					cancel()
					return
				}
			}
		}
		cancel()
	}
}

// subscribeAndReplay registers a live subscription, then writes every
// persisted event the client has not seen. Subscribing first means events
// published during the replay are buffered, not lost; the seq dedupe handles
// the overlap.
func (h *Hub) subscribeAndReplay(c *websocket.Conn, jobID string, lastSeq *int) (<-chan model.ProgressEvent, func()) {
	events, cancel := h.stream.Subscribe(jobID)

	history, err := h.runs.Events(context.Background(), jobID)
	if err != nil {
		log.Printf("job %s: failed to load events for replay: %v", jobID, err)
		cancel()
		return nil, nil
	}
	for _, ev := range history {
		if ev.Seq <= *lastSeq {
			continue
		}
		*lastSeq = ev.Seq
		if err := h.write(c, ev); err != nil {
			cancel()
			return nil, nil
		}
		if model.TerminalPhase(ev.Phase) {
			cancel()
			return nil, nil
		}
	}
	return events, cancel
}

func (h *Hub) write(c *websocket.Conn, ev model.ProgressEvent) error {
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WriteJSON(ev)
}
