package handlers

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/phototheology/palace/internal/feed"
	"github.com/phototheology/palace/internal/middleware"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
)

// FeedWSHandler upgrades spectators of a game to a websocket and streams each
// judged move to them. The game must exist; finished games may still be watched.
func FeedWSHandler(logger logrus.FieldLogger, hub *feed.Hub, st store.Store, originPatterns []string) http.HandlerFunc {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, err := gameIDParam(r)
		if err != nil {
			writeError(w, logger, err, nil)
			return
		}
		if _, err := st.GetGame(r.Context(), gameID); err != nil {
			writeError(w, logger, err, logrus.Fields{"game": gameID})
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{feed.Subprotocol},
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.WithField("game", gameID).Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "feed closed")

		if c.Subprotocol() != feed.Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the feed subprotocol")
			return
		}

		path := r.URL.Path
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, path)
		err = hub.Stream(r.Context(), c, gameID)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, path, err)
	}
}
