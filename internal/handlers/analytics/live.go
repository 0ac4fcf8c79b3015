package handlers_analytics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Le tableau de bord peut être servi depuis un autre domaine
		return true
	},
	EnableCompression: true,
}

// LiveRefreshInterval est la cadence de push vers le tableau de bord
const LiveRefreshInterval = 5 * time.Second

// LiveRealtime pousse la vue temps réel sur une connexion WebSocket à
// intervalle régulier, jusqu'à la fermeture côté client.
func (ah *AnalyticsHandler) LiveRealtime(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Draine les messages entrants pour détecter la fermeture
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(LiveRefreshInterval)
	defer ticker.Stop()

	for {
		overview, err := ah.reports.RealtimeOverview()
		if err != nil {
			log.Warn().Err(err).Msg("realtime overview failed")
		} else if err := conn.WriteJSON(overview); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
