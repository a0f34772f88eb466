package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
	"github.com/kenton-clearsky/headachemd-telemetry/realtime"
)

const (
	wsWriteWait      = 10 * time.Second
	wsSnapshotBuffer = 8
)

type RealtimeHandlers struct {
	Realtime *realtime.Service
	upgrader websocket.Upgrader
}

func NewRealtimeHandlers(rt *realtime.Service) *RealtimeHandlers {
	return &RealtimeHandlers{
		Realtime: rt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS middleware in
			// front of the upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream upgrades to a websocket and pushes every activity snapshot to the
// client, starting with the current one. Slow clients drop intermediate
// snapshots rather than stalling the service.
func (h *RealtimeHandlers) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading realtime websocket: %v", err)
		return
	}

	snapshots := make(chan models.RealTimeActivity, wsSnapshotBuffer)
	unsubscribe := h.Realtime.Subscribe(func(snapshot models.RealTimeActivity) {
		select {
		case snapshots <- snapshot:
		default:
			// Buffer full: skip this update, a newer one replaces it.
		}
	})

	// Reader goroutine: only there to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case snapshot := <-snapshots:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				log.Printf("realtime: dropping websocket client: %v", err)
				return
			}
		}
	}
}
