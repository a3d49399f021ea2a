package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ipclick/internal/core/dispatcher"
	"ipclick/internal/core/retry"
	"ipclick/internal/shared/logger"
	"ipclick/internal/shared/types"
	"ipclick/model"
)

// TaskEvent 定义了单个已完成任务的广播结构
type TaskEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	UUID       string    `json:"uuid"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Adapter    string    `json:"adapter"`
	StatusCode int       `json:"status_code"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	Error      string    `json:"error,omitempty"`
	Fault      bool      `json:"fault,omitempty"`
}

// StatsUpdate 定义了仪表盘所需的实时统计数据
type StatsUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	types.DispatchStats
}

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to the
// clients. It also observes the dispatcher so finished tasks are pushed as
// task_completed messages.
type Hub struct {
	dispatcher.NopObserver

	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

var _ dispatcher.Observer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
					// Assume client is disconnected, let the read pump handle unregistering
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and closes every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) send(msgType string, data interface{}) {
	jsonMsg, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("type", msgType).Msg("Hub: Failed to marshal message")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		// Do not log warning for full channel here to avoid log spam
	}
}

// BroadcastTaskCompleted 广播单个任务的完成事件
func (h *Hub) BroadcastTaskCompleted(ev *TaskEvent) {
	h.send("task_completed", ev)
}

// BroadcastStatsUpdate 广播派发服务的实时统计数据
func (h *Hub) BroadcastStatsUpdate(stats types.DispatchStats) {
	h.send("stats_update", &StatsUpdate{Timestamp: time.Now(), DispatchStats: stats})
}

// TaskFinished implements dispatcher.Observer.
func (h *Hub) TaskFinished(res *dispatcher.Result) {
	h.BroadcastTaskCompleted(newTaskEvent(res))
}

// TaskRetried is only logged; retries are too frequent to broadcast.
func (h *Hub) TaskRetried(task *model.Task, used model.AdapterKind, ev retry.Event) {
	logger.Debug().Str("uuid", task.UUID).Str("adapter", used.String()).Int("attempt", ev.Attempt).Msg("Hub: task retry observed")
}

func newTaskEvent(res *dispatcher.Result) *TaskEvent {
	ev := &TaskEvent{
		Timestamp: time.Now(),
		UUID:      res.TaskUUID,
		Adapter:   res.Adapter.String(),
		ElapsedMs: res.Elapsed.Milliseconds(),
		Fault:     res.Fault,
	}
	if res.Task != nil {
		ev.URL = res.Task.URL
		ev.Method = res.Task.Method.String()
	}
	if r := res.Response; r != nil {
		ev.StatusCode = r.StatusCode
		ev.Error = r.ErrorMessage
		if ev.URL == "" {
			ev.URL = r.URL
		}
	}
	return ev
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	// This is a read pump. It's needed to detect when a client closes the connection.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
