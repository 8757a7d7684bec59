package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/publish"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	backlogSize = 20
	clientQueue = 64
)

// Feed streams results published by any process running scenarios.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan publish.Message, error)
	Latest(ctx context.Context, n int64) ([]publish.Message, error)
}

// RunEvent is one run status change pushed to live clients.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	ScenarioID string    `json:"scenario_id"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

const (
	sourceDashboard = "dashboard"
	sourceFeed      = "feed"
)

// liveMessage is the websocket frame. The first frame of a connection is a
// snapshot; every later one carries a single run event.
type liveMessage struct {
	Type string     `json:"type"`
	Runs []RunEvent `json:"runs,omitempty"`
	Run  *RunEvent  `json:"run,omitempty"`
}

func feedEvent(m publish.Message) RunEvent {
	return RunEvent{
		RunID:      m.RunID,
		ScenarioID: m.ScenarioID,
		Status:     string(m.Status),
		Source:     sourceFeed,
		Error:      m.Error,
		DurationMS: m.DurationMS,
		At:         m.StartedAt.Add(time.Duration(m.DurationMS) * time.Millisecond),
	}
}

type liveClient struct {
	conn *websocket.Conn
	send chan RunEvent
}

// hub fans run events out to connected clients.
type hub struct {
	done       <-chan struct{}
	register   chan *liveClient
	unregister chan *liveClient
	broadcast  chan RunEvent
	clients    map[*liveClient]struct{}
}

func newHub(done <-chan struct{}) *hub {
	return &hub{
		done:       done,
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		broadcast:  make(chan RunEvent, 256),
		clients:    make(map[*liveClient]struct{}),
	}
}

func (h *hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case ev := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					// slow client
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

func (h *hub) publish(ev RunEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

func (h *hub) add(c *liveClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) remove(c *liveClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// relayFeed forwards feed messages for runs this server did not start.
func (s *Server) relayFeed() {
	defer s.jobs.Done()
	msgs, err := s.opts.Feed.Subscribe(s.ctx)
	if err != nil {
		s.logger.Warn("live feed unavailable", zap.Error(err))
		return
	}
	for m := range msgs {
		if s.known(m.RunID) {
			continue
		}
		s.hub.publish(feedEvent(m))
	}
}

func (s *Server) known(runID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[runID]
	return ok
}

// snapshot lists runs still queued or running here, then recent feed
// results oldest first.
func (s *Server) snapshot(ctx context.Context) []RunEvent {
	out := []RunEvent{}
	s.mu.RLock()
	for _, p := range s.pending {
		if p.Result == nil {
			out = append(out, RunEvent{RunID: p.RunID, ScenarioID: p.ScenarioID, Status: p.Status, Source: sourceDashboard, At: p.updated})
		}
	}
	s.mu.RUnlock()

	if s.opts.Feed != nil {
		latest, err := s.opts.Feed.Latest(ctx, backlogSize)
		if err != nil {
			s.logger.Warn("failed to read latest results", zap.Error(err))
		}
		for i := len(latest) - 1; i >= 0; i-- {
			out = append(out, feedEvent(latest[i]))
		}
	}
	return out
}

func (s *Server) liveRuns(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &liveClient{conn: conn, send: make(chan RunEvent, clientQueue)}
	if !s.hub.add(client) {
		_ = conn.Close()
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(liveMessage{Type: "snapshot", Runs: s.snapshot(c.Request.Context())}); err != nil {
		s.hub.remove(client)
		_ = conn.Close()
		return
	}

	go s.readPump(client)
	s.writePump(client)
}

// readPump discards client frames and unregisters on disconnect.
func (s *Server) readPump(c *liveClient) {
	defer s.hub.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *liveClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(liveMessage{Type: "run", Run: &ev}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// the dashboard has no authentication; any origin may watch
		CheckOrigin: func(*http.Request) bool { return true },
	}
}
