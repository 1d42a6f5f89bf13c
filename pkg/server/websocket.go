package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/itohio/goecg/pkg/hub"
)

// handleWebSocket streams every new sample to the client as {"time","voltage"}.
// Each connection owns one hub subscription.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("[server] websocket upgrade failed", zap.Error(err))
		return
	}

	s.clients.Add(1)
	defer s.clients.Done()
	defer conn.Close()

	sub := s.backend.Subscribe()
	defer s.backend.Unsubscribe(sub)

	log := s.logger.With(zap.String("subscriber", sub.ID()), zap.String("remote", r.RemoteAddr))
	log.Info("[server] websocket client connected")

	// The read pump handles control frames and notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			s.closeGracefully(conn)
			return
		case <-gone:
			log.Info("[server] websocket client disconnected", zap.Uint64("dropped", sub.Dropped()))
			return
		case <-ping.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				s.fail(log, sub, err)
				return
			}
		case v, ok := <-sub.C():
			if !ok {
				s.closeGracefully(conn)
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				log.Warn("[server] failed to encode sample", zap.Error(err))
				continue
			}
			if err := s.write(conn, websocket.TextMessage, data); err != nil {
				s.fail(log, sub, err)
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

func (s *Server) fail(log *zap.Logger, sub *hub.Subscriber, err error) {
	sub.Fail(err)
	log.Info("[server] websocket write failed", zap.Error(err))
}

func (s *Server) closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
