package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades a request to a debug stream. The subscriber_id and
// outcome query parameters narrow what the client receives. Browser origins
// must match originPatterns; requests without an Origin header are accepted.
func HandleWebSocket(hub *Hub, logger *slog.Logger, originPatterns ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := FilterFromQuery(r.URL.Query())
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		logger.Debug("stream client connected",
			"remote", r.RemoteAddr,
			"subscriber_id", filter.SubscriberID,
			"outcome", filter.Outcome,
		)

		NewClient(hub, conn, filter).Run(r.Context())
		conn.CloseNow()
	}
}
