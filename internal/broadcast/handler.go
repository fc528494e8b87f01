package broadcast

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// viewers are read-only and unauthenticated
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades a request to a websocket and keeps the client registered
// with s until the peer goes away.
func Handler(s *Scheduler, clock clockwork.Clock) http.HandlerFunc {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		log := *hlog.FromRequest(r)
		if log.GetLevel() == zerolog.Disabled {
			log = s.log
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := NewClient(conn, clock, log)
		if err := s.Register(client); err != nil {
			log.Error().Err(err).Msg("failed to register client")
			client.Close()
			return
		}
		log.Info().Str("client_id", client.ID().String()).Msg("client connected")

		err = client.ReadLoop(func(msg []byte) {
			s.HandleClientMessage(client, msg)
		})
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Warn().Err(err).Str("client_id", client.ID().String()).Msg("client read error")
		}

		s.Unregister(client.ID())
		client.Close()
		log.Info().Str("client_id", client.ID().String()).Msg("client disconnected")
	}
}
