package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/zyro/backend/internal/config"
	"github.com/zyro/backend/internal/models"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// PublicConfig returns non-sensitive configuration for the frontend
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.PublicConfigResponse{
		WebSocketPath: "/ws/issues/{project_id}?token={access_token}",
		SharedBroker:  h.cfg.RedisURL != "",
	})
}

// Pinger reports broker reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness. A broker outage degrades realtime updates
// but the API stays up, so the status code is 200 either way.
type HealthHandler struct {
	broker Pinger
}

func NewHealthHandler(broker Pinger) *HealthHandler {
	return &HealthHandler{broker: broker}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := models.HealthResponse{Status: "ok", Realtime: "ok"}
	if err := h.broker.Ping(ctx); err != nil {
		resp.Realtime = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
