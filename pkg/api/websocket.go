package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/power"
)

// wsWriteTimeout bounds how long a single outbound frame write may take
// before the connection is considered dead.
const wsWriteTimeout = 10 * time.Second

// upgrader checks Origin the same way the HTTP auth middleware does: an
// empty Origin header (non-browser clients) is always allowed, otherwise
// the request must match the configured allow-list.
func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || !s.auth.Enabled {
				return true
			}
			for _, o := range s.auth.AllowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// outboundFrame is the wire shape pushed to WebSocket subscribers, tagged
// by event name per the original implementation's WsMessage enum.
type outboundFrame struct {
	Event string   `json:"event"`
	Args  []string `json:"args"`
}

// inboundFrame is the wire shape accepted from a WebSocket client: exactly
// one of the three fields is populated per message.
type inboundFrame struct {
	Power       []string `json:"power"`
	SendCommand []string `json:"send_command"`
	Logs        []string `json:"logs"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	internalID := chi.URLParam(r, "id")
	logger := log.WithContainer(internalID)

	if s.auth.Enabled {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if s.deps.TokenAuth == nil {
			http.Error(w, "token auth unavailable", http.StatusServiceUnavailable)
			return
		}
		valid, err := s.deps.TokenAuth.Validate(token, true)
		if err != nil {
			http.Error(w, "token validation failed", http.StatusInternalServerError)
			return
		}
		if !valid {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.deps.Hub.GetOrCreateChannel(internalID)
	subID, events, lagged := ch.Subscribe()
	defer ch.Unsubscribe(subID)

	done := make(chan struct{})
	go s.pumpInbound(internalID, conn, ch, done)

	for {
		select {
		case <-done:
			return
		case <-lagged:
			logger.Warn().Msg("websocket subscriber fell behind, disconnecting")
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(outboundFrame{Event: string(evt.Kind), Args: evt.Args}); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed, disconnecting")
				return
			}
		}
	}
}

func (s *Server) pumpInbound(internalID string, conn *websocket.Conn, ch *eventhub.Channel, done chan<- struct{}) {
	defer close(done)
	logger := log.WithContainer(internalID)

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch {
		case len(frame.Power) > 0:
			action := power.Action(frame.Power[0])
			if err := s.deps.Power.Execute(internalID, action); err != nil {
				logger.Warn().Err(err).Str("action", string(action)).Msg("websocket power command failed")
			}
		case len(frame.SendCommand) > 0:
			ch.SendCommand(frame.SendCommand[0])
		case len(frame.Logs) > 0:
			count, err := strconv.Atoi(frame.Logs[0])
			if err != nil || count <= 0 {
				count = 100
			}
			s.deps.Hub.SendLogs(internalID, count)
		default:
			logger.Debug().Msg("received unrecognised websocket frame")
		}
	}
}
