package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"productstream/internal/pkg/logger"
	"productstream/internal/pkg/tracing"
	"productstream/internal/service/productstream/application"
	"productstream/internal/service/productstream/domain"
)

const (
	maxBodyBytes      = 1 << 20
	sessionBaggageKey = "productstream.session"
)

// EditorHandler 封装了商品流条件编辑的 HTTP 处理器
type EditorHandler struct {
	service *application.EditorService
	ws      http.Handler
	addWait time.Duration
}

// NewEditorHandler 创建一个新的 HTTP 处理器实例。
// addWait 是添加条件时等待处理器产出的时长，超时后返回 202。ws 为空时不注册 /ws。
func NewEditorHandler(service *application.EditorService, ws http.Handler, addWait time.Duration) *EditorHandler {
	if addWait <= 0 {
		addWait = 2 * time.Second
	}
	return &EditorHandler{service: service, ws: ws, addWait: addWait}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *EditorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	if h.ws != nil {
		mux.Handle("GET /ws", h.ws)
	}

	mux.HandleFunc("GET /handlers", h.withContext(h.handleListHandlers))
	mux.HandleFunc("POST /sessions", h.withContext(h.handleOpenSession))
	mux.HandleFunc("GET /sessions/{id}", h.withContext(h.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", h.withContext(h.handleCloseSession))
	mux.HandleFunc("GET /sessions/{id}/conditions", h.withContext(h.handleSerialize))
	mux.HandleFunc("POST /sessions/{id}/conditions", h.withContext(h.handleAddCondition))
	mux.HandleFunc("PUT /sessions/{id}/conditions/{key}", h.withContext(h.handleUpdateCondition))
	mux.HandleFunc("DELETE /sessions/{id}/conditions/{key}", h.withContext(h.handleRemoveCondition))
	mux.HandleFunc("POST /sessions/{id}/preview", h.withContext(h.handleRefreshPreview))
	mux.HandleFunc("POST /sessions/{id}/save", h.withContext(h.handleSave))
}

type ctxHandler func(ctx context.Context, w http.ResponseWriter, r *http.Request)

// withContext 提取上游追踪上下文，并把带 trace_id 的 logger 放进 context。
// 会话 ID 通过 Baggage 继续传给 Kafka 和目录服务等下游。
func (h *EditorHandler) withContext(next ctxHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		fields := map[string]string{"path": r.URL.Path, "method": r.Method}
		if traceID := tracing.GetTraceIDFromContext(ctx); traceID != "" {
			fields["trace_id"] = traceID
		}
		if sessionID := r.PathValue("id"); sessionID != "" {
			fields["session"] = sessionID
			if member, err := baggage.NewMember(sessionBaggageKey, sessionID); err == nil {
				if b, err := baggage.FromContext(ctx).SetMember(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, b)
				}
			}
		}
		next(logger.WithFields(ctx, fields), w, r)
	}
}

func (h *EditorHandler) handleListHandlers(_ context.Context, w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Handlers())
}

func (h *EditorHandler) handleOpenSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req application.OpenSessionRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	session, err := h.service.Open(ctx, req.StreamID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.NewSessionView(session))
}

func (h *EditorHandler) handleGetSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, application.NewSessionView(session))
}

func (h *EditorHandler) handleCloseSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := h.service.Close(ctx, r.PathValue("id")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EditorHandler) handleSerialize(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Serialize())
}

type pendingResponse struct {
	ContainerID string `json:"containerId"`
	Status      string `json:"status"`
}

func (h *EditorHandler) handleAddCondition(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req application.AddConditionRequest
	if err := decodeBody(r, &req); err != nil || req.Handler == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	session, err := h.service.Session(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	pending, err := session.AddConditionByKey(ctx, req.Handler, req.Options)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.addWait)
	defer cancel()
	entry, err := pending.Wait(waitCtx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, application.NewConditionView(entry))
	case errors.Is(err, context.DeadlineExceeded) && !pending.Resolved():
		// 处理器可能稍后才产出，也可能永远不产出，结果通过会话视图查看
		writeJSON(w, http.StatusAccepted, pendingResponse{ContainerID: pending.Container.ID, Status: "pending"})
	default:
		writeError(ctx, w, err)
	}
}

func (h *EditorHandler) handleUpdateCondition(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !json.Valid(raw) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key := r.PathValue("key")
	if err := session.UpdateCondition(ctx, key, raw); err != nil {
		if errors.Is(err, domain.ErrConditionNotFound) || errors.Is(err, domain.ErrSessionClosed) {
			writeError(ctx, w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entry, ok := session.Entry(key)
	if !ok {
		writeError(ctx, w, domain.ErrConditionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, application.NewConditionView(entry))
}

func (h *EditorHandler) handleRemoveCondition(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if !session.RemoveCondition(ctx, r.PathValue("key")) {
		writeError(ctx, w, domain.ErrConditionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EditorHandler) handleRefreshPreview(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := session.RefreshPreview(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *EditorHandler) handleSave(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req application.SaveRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	stream, err := h.service.Save(ctx, r.PathValue("id"), req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, application.SaveResponse{
		StreamID:   stream.StreamID,
		Name:       stream.Name,
		Conditions: stream.Conditions(),
	})
}

// statusOf 根据错误类型返回不同的 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrStreamNotFound),
		errors.Is(err, domain.ErrHandlerNotFound),
		errors.Is(err, domain.ErrConditionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateSingleton),
		errors.Is(err, domain.ErrStreamNameTaken):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidConditions),
		errors.Is(err, domain.ErrStreamNameRequired),
		errors.Is(err, domain.ErrConditionDeclined):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrContainerClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
