package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"ipclick/internal/shared/lifecycle"
	"ipclick/internal/shared/logger"
	"ipclick/internal/shared/types"
)

// StatusProvider is the read-only view of the running service the handlers
// need. AppServer implements it.
type StatusProvider interface {
	Phase() lifecycle.Phase
	Stats() types.DispatchStats
	RecentTargets() []string
	ListenerInfo() *types.ListenerInfo
}

// Handler holds the HTTP handlers of the status service.
type Handler struct {
	provider  StatusProvider
	hub       *Hub
	version   string
	startedAt time.Time
}

func NewHandler(provider StatusProvider, hub *Hub, version string) *Handler {
	return &Handler{
		provider:  provider,
		hub:       hub,
		version:   version,
		startedAt: time.Now(),
	}
}

// HandleStatus - 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type StatusResponse struct {
		GlobalStatus  string              `json:"globalStatus"`
		Version       string              `json:"version"`
		UptimeSeconds int64               `json:"uptimeSeconds"`
		Goroutines    int                 `json:"goroutines"`
		WSClients     int                 `json:"wsClients"`
		Listener      *types.ListenerInfo `json:"listener,omitempty"`
	}

	info := h.provider.ListenerInfo()
	response := StatusResponse{
		GlobalStatus:  string(h.provider.Phase()),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Listener:      info,
	}
	if h.hub != nil {
		response.WSClients = h.hub.ClientCount()
	}
	writeJSON(w, response)
}

// HandleStats - 处理 GET /api/stats 请求
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.provider.Stats())
}

// HandleGetRecentTargets - 处理 GET /api/recent_targets 请求
func (h *Handler) HandleGetRecentTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.provider.RecentTargets())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("[Handler] Failed to encode response")
	}
}
