package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Sink is one connected viewer. The hub is the only writer: every call happens under the
// owning room's lock.
type Sink interface {
	Send(ev Event) error
	Ping() error
	Close() error
}

var ErrSinkClosed = errors.New("realtime: sink closed")

type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewSSESink writes the event-stream headers. It fails when w cannot flush.
func NewSSESink(w http.ResponseWriter, writeTimeout time.Duration) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSESink{w: w, flusher: flusher, rc: http.NewResponseController(w), timeout: writeTimeout}, nil
}

func (s *SSESink) write(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.timeout > 0 {
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	if _, err := fmt.Fprint(s.w, chunk); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *SSESink) Send(ev Event) error {
	raw, err := ev.MarshalFrame()
	if err != nil {
		return err
	}
	return s.write(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, raw))
}

func (s *SSESink) Ping() error {
	return s.write(":heartbeat\n\n")
}

func (s *SSESink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type WSSink struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func NewWSSink(conn *websocket.Conn, writeWait time.Duration) *WSSink {
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &WSSink{conn: conn, writeWait: writeWait}
}

func (s *WSSink) Send(ev Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteJSON(ev.Frame())
}

func (s *WSSink) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

func (s *WSSink) Close() error {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
