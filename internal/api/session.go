package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/geocoding"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024
)

// Session commands sent by the site picker
const (
	cmdQuery    = "query"
	cmdClick    = "click"
	cmdDrag     = "drag"
	cmdDragEnd  = "dragEnd"
	cmdSelect   = "select"
	cmdSiteName = "siteName"
)

// sessionCommand is one inbound site picker event
type sessionCommand struct {
	Type  string  `json:"type"`
	Query string  `json:"query,omitempty"`
	Lat   float64 `json:"lat,omitempty"`
	Lng   float64 `json:"lng,omitempty"`
	Index int     `json:"index,omitempty"`
	Name  string  `json:"name,omitempty"`
}

// sessionMessage is one outbound frame
type sessionMessage struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId"`
	State     *geocoding.State `json:"state,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// siteSession connects one websocket peer to a geocoding assistant. Only the
// newest assistant state is kept for the writer; older ones are skipped.
type siteSession struct {
	id        string
	conn      *websocket.Conn
	assistant *geocoding.Assistant

	mu       sync.Mutex
	latest   *geocoding.State
	sent     uint64
	failures []string

	wake chan struct{}
	done chan struct{}
}

func (s *RESTServer) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.config.API.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleGeocodeSession upgrades to a websocket driving an interactive site picker
func (s *RESTServer) HandleGeocodeSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Site picker upgrade failed")
		return
	}

	assistant := geocoding.NewAssistant(s.geocoder,
		geocoding.WithDebounce(s.config.Geocoder.Debounce),
		geocoding.WithSearchLimit(s.config.Geocoder.SearchLimit),
		geocoding.WithLookupTimeout(s.config.Geocoder.Timeout),
	)

	sess := &siteSession{
		id:        uuid.New().String(),
		conn:      conn,
		assistant: assistant,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	assistant.OnChange(sess.publish)

	log.Debug().Str("session", sess.id).Msg("Site picker session opened")

	go sess.writePump()
	sess.publish(assistant.State())
	sess.readPump()
}

// publish queues a state snapshot for the writer
func (c *siteSession) publish(state geocoding.State) {
	c.mu.Lock()
	if c.latest == nil || state.Version > c.latest.Version {
		c.latest = &state
	}
	c.mu.Unlock()
	c.signal()
}

func (c *siteSession) fail(msg string) {
	c.mu.Lock()
	c.failures = append(c.failures, msg)
	c.mu.Unlock()
	c.signal()
}

func (c *siteSession) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// readPump applies inbound commands until the peer goes away
func (c *siteSession) readPump() {
	defer func() {
		c.assistant.Close()
		close(c.done)
		c.conn.Close()
		log.Debug().Str("session", c.id).Msg("Site picker session closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session", c.id).Msg("Site picker read failed")
			}
			return
		}

		var cmd sessionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.fail("invalid message")
			continue
		}
		c.apply(cmd)
	}
}

func (c *siteSession) apply(cmd sessionCommand) {
	switch cmd.Type {
	case cmdQuery:
		c.assistant.SetQuery(cmd.Query)
	case cmdClick:
		c.assistant.MapClick(cmd.Lat, cmd.Lng)
	case cmdDrag:
		c.assistant.Drag(cmd.Lat, cmd.Lng)
	case cmdDragEnd:
		c.assistant.DragEnd(cmd.Lat, cmd.Lng)
	case cmdSelect:
		if err := c.assistant.Select(cmd.Index); err != nil {
			c.fail(err.Error())
		}
	case cmdSiteName:
		c.assistant.SetSiteName(cmd.Name)
	default:
		c.fail("unknown command " + cmd.Type)
	}
}

// writePump sends queued states and errors, and keeps the connection alive
func (c *siteSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-c.wake:
			if err := c.flush(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *siteSession) flush() error {
	c.mu.Lock()
	state := c.latest
	c.latest = nil
	failures := c.failures
	c.failures = nil
	sent := c.sent
	if state != nil && state.Version >= sent {
		c.sent = state.Version
	} else {
		state = nil
	}
	c.mu.Unlock()

	for _, msg := range failures {
		if err := c.write(sessionMessage{Type: "error", SessionID: c.id, Error: msg}); err != nil {
			return err
		}
	}
	if state != nil {
		return c.write(sessionMessage{Type: "state", SessionID: c.id, State: state})
	}
	return nil
}

func (c *siteSession) write(msg sessionMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}
