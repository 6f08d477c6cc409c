package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gridworld.ai/internal/protocol"
	"gridworld.ai/internal/sim/world"
)

type Server struct {
	world *world.World
	log   zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger zerolog.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		agentID, out := s.handshake(r.Context(), conn)
		if agentID == "" {
			return
		}
		log := s.log.With().Str("agent_id", agentID).Logger()
		log.Info().Str("remote", r.RemoteAddr).Msg("worker connected")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeConv {
				continue
			}
			if err := protocol.ValidateConv(msg); err != nil {
				log.Debug().Err(err).Msg("invalid CONV dropped")
				continue
			}
			var cm protocol.ConvMsg
			if err := json.Unmarshal(msg, &cm); err != nil {
				continue
			}
			if cm.ProtocolVersion != protocol.Version || cm.AgentID != agentID {
				log.Debug().Str("claimed", cm.AgentID).Msg("CONV for another agent dropped")
				continue
			}
			if !s.world.Deliver(agentID, cm) {
				log.Debug().Str("conv", cm.ConversationID).Str("performative", cm.Performative).Msg("late CONV dropped")
			}
		}

		// Cleanup.
		s.world.Disconnect(agentID)
		log.Info().Msg("worker disconnected")
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (agentID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", nil
	}
	if err := protocol.ValidateHello(msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", nil
	}
	if hello.AgentName == "" {
		hello.AgentName = "agent"
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	// Welcome is handed out at the next step boundary.
	_ = conn.SetReadDeadline(time.Time{})
	welcome, err := s.world.Join(ctx, hello.AgentName, world.OutboxPeer{Out: out})
	if err != nil {
		s.log.Warn().Err(err).Str("name", hello.AgentName).Msg("join rejected")
		closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return "", nil
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.world.Disconnect(welcome.AgentID)
		return "", nil
	}
	return welcome.AgentID, out
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
