package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 Run Events Handler
// =============================================================================

// EventsHandler 推送运行事件：websocket 优先，否则回退为 SSE
type EventsHandler struct {
	engine         *workflow.Engine
	originPatterns []string
	writeTimeout   time.Duration
	logger         *zap.Logger
}

// EventsOption 配置 EventsHandler
type EventsOption func(*EventsHandler)

// WithOriginPatterns 设置允许的 websocket Origin（host 模式，例如 "*.example.com"）
func WithOriginPatterns(patterns []string) EventsOption {
	return func(h *EventsHandler) {
		h.originPatterns = patterns
	}
}

// WithEventWriteTimeout 设置单条事件的写超时
func WithEventWriteTimeout(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewEventsHandler 创建事件推送 handler
func NewEventsHandler(engine *workflow.Engine, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		engine:       engine,
		writeTimeout: 10 * time.Second,
		logger:       logger.With(zap.String("handler", "events")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleRunEvents 订阅运行事件。迟到的订阅者会先收到已发生的全部事件，
// 最后一条总是 run_complete，随后连接关闭。
// @Summary Stream run events
// @Tags workflow
// @Produce json
// @Produce text/event-stream
// @Param id path string true "Run ID"
// @Success 101 {object} workflow.RunEvent "WebSocket stream"
// @Success 200 {object} workflow.RunEvent "SSE stream"
// @Failure 404 {object} Response "Run not found"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id}/events [get]
func (h *EventsHandler) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := lookupRun(h.engine, w, r, h.logger)
	if !ok {
		return
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		h.streamWebSocket(w, r, run)
		return
	}
	h.streamSSE(w, r, run)
}

func (h *EventsHandler) streamWebSocket(w http.ResponseWriter, r *http.Request, run *workflow.Run) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket accept failed", zap.String("run_id", run.ID()), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端只读；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := run.Subscribe(0)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "run complete")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode run event", zap.Error(err))
				_ = conn.Close(websocket.StatusInternalError, "encode failed")
				return
			}
			if err := h.write(ctx, conn, data); err != nil {
				h.logger.Debug("websocket write failed", zap.String("run_id", run.ID()), zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *EventsHandler) streamSSE(w http.ResponseWriter, r *http.Request, run *workflow.Run) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := run.Subscribe(0)
	defer unsubscribe()

	rc := http.NewResponseController(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode run event", zap.Error(err))
				return
			}
			_ = rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: ")); err != nil {
				return
			}
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
