package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"stutterguard/server"
	"stutterguard/server/internal/net/intake"
	"stutterguard/server/internal/telemetry"
	"stutterguard/server/logging"
)

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Limits    intake.Limits
}

// Handler upgrades player connections and runs their sessions.
type Handler struct {
	hub       *server.Hub
	logger    telemetry.Logger
	publisher logging.Publisher
	limits    intake.Limits
	upgrader  websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:       hub,
		logger:    logger,
		publisher: publisher,
		limits:    cfg.Limits,
		upgrader:  upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := r.URL.Query().Get("id")
	if playerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", playerID, err)
		return
	}

	h.Serve(r.Context(), playerID, conn)
}
