package terminal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/metrics"
)

const (
	writeWait       = 10 * time.Second
	maxMessageSize  = 64 * 1024
	viewerQueueSize = 64
)

// ControlMessage is a JSON text frame sent by the viewer
type ControlMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// Attach makes conn the session's viewer, replacing any previous one. The
// replay buffer is sent before live output.
func (b *Broker) Attach(s *Session, conn *websocket.Conn) error {
	v := newViewerConn(conn)

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		v.close(ErrSessionNotFound.Message)
		return ErrSessionNotFound
	}

	prev := s.viewer
	if replay := s.replay.Snapshot(); len(replay) > 0 {
		v.enqueue(replay)
	}
	s.viewer = v
	s.lastActivity = time.Now()
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.close("replaced by another viewer")
	}

	log.Debug().
		Str("hostname", s.Hostname).
		Str("kind", string(s.Kind)).
		Msg("Viewer attached")

	go v.writePump(s.Hostname)
	go b.readViewer(s, v)
	return nil
}

// readViewer forwards viewer input to the remote. Frames for read-only
// sessions are dropped before they are decoded.
func (b *Broker) readViewer(s *Session, v *viewerConn) {
	defer s.wg.Done()

	v.conn.SetReadLimit(maxMessageSize)

	for {
		messageType, data, err := v.conn.ReadMessage()
		if err != nil {
			break
		}

		s.touch()

		if s.Kind == KindNvtop {
			continue
		}

		switch messageType {
		case websocket.BinaryMessage:
			writeInput(s, data)
		case websocket.TextMessage:
			var msg ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug().Err(err).Str("hostname", s.Hostname).Msg("Ignoring malformed control message")
				continue
			}
			handleControl(s, msg)
		}
	}

	s.mu.Lock()
	current := s.viewer == v
	if current {
		s.viewer = nil
	}
	active := s.state == StateActive
	s.mu.Unlock()

	v.close("")

	if current && active {
		log.Debug().Str("hostname", s.Hostname).Str("kind", string(s.Kind)).Msg("Viewer detached")
		if b.opts.CloseOnDetach {
			go b.closeSession(s, ReasonDetached)
		}
	}
}

func handleControl(s *Session, msg ControlMessage) {
	switch msg.Type {
	case "input":
		writeInput(s, []byte(msg.Data))
	case "resize":
		if msg.Cols <= 0 || msg.Rows <= 0 {
			return
		}
		if err := s.remote.Resize(msg.Cols, msg.Rows); err != nil {
			log.Debug().Err(err).Str("hostname", s.Hostname).Msg("Failed to resize terminal")
		}
	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring unknown control message")
	}
}

func writeInput(s *Session, data []byte) {
	if len(data) == 0 {
		return
	}
	if _, err := s.remote.Write(data); err != nil {
		log.Debug().Err(err).Str("hostname", s.Hostname).Msg("Failed to write terminal input")
		return
	}
	metrics.TerminalBytesTotal.WithLabelValues(string(s.Kind), "in").Add(float64(len(data)))
}

// deliver records output for replay and queues it for the attached viewer.
// A viewer that cannot keep up is disconnected.
func deliver(s *Session, chunk []byte) {
	var slow *viewerConn

	s.mu.Lock()
	s.replay.Write(chunk)
	if s.viewer != nil {
		if s.viewer.enqueue(chunk) {
			s.lastActivity = time.Now()
		} else {
			slow = s.viewer
		}
	}
	s.mu.Unlock()

	metrics.TerminalBytesTotal.WithLabelValues(string(s.Kind), "out").Add(float64(len(chunk)))

	if slow != nil && slow.close("") {
		log.Warn().Str("hostname", s.Hostname).Str("kind", string(s.Kind)).Msg("Viewer is not reading output, disconnecting it")
	}
}

// viewerConn is an attached websocket. Output is written by its own pump so
// a stalled viewer never blocks the session.
type viewerConn struct {
	conn      *websocket.Conn
	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once
}

func newViewerConn(conn *websocket.Conn) *viewerConn {
	return &viewerConn{
		conn: conn,
		send: make(chan []byte, viewerQueueSize),
		quit: make(chan struct{}),
	}
}

// enqueue queues p without blocking and reports whether it fit
func (v *viewerConn) enqueue(p []byte) bool {
	select {
	case v.send <- p:
		return true
	default:
		return false
	}
}

func (v *viewerConn) writePump(hostname string) {
	for {
		select {
		case <-v.quit:
			return
		case msg := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				log.Debug().Err(err).Str("hostname", hostname).Msg("Failed to write to viewer")
				v.close("")
				return
			}
		}
	}
}

// close stops the pump and closes the connection. A non-empty reason is sent
// as a close frame first. It reports whether this call did the closing.
func (v *viewerConn) close(reason string) bool {
	closed := false
	v.closeOnce.Do(func() {
		closed = true
		close(v.quit)
		if reason != "" {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			_ = v.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		v.conn.Close()
	})
	return closed
}
