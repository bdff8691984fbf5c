// internal/service/productstream/application/service.go
package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"productstream/internal/pkg/logger"
	"productstream/internal/service/productstream/condition"
	"productstream/internal/service/productstream/domain"
	"productstream/internal/service/productstream/domain/port"
)

// NotifierFactory 为每个会话生成一个通知端口，使提示只推送给该会话的编辑端。
type NotifierFactory func(sessionID string) port.Notifier

// EditorService 定义了商品流条件编辑提供的所有用例：
// 打开会话、查找会话、保存、关闭。
type EditorService struct {
	registry  *condition.Registry
	repo      domain.StreamRepository
	locker    port.StreamLocker
	preview   port.PreviewPublisher
	notifiers NotifierFactory
	tracer    trace.Tracer

	mu       sync.RWMutex
	sessions map[string]*ConditionSession
}

// NewEditorService 创建一个编辑服务实例。locker、notifiers 可以为 nil。
func NewEditorService(registry *condition.Registry, repo domain.StreamRepository, locker port.StreamLocker, preview port.PreviewPublisher, notifiers NotifierFactory, tracer trace.Tracer) *EditorService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &EditorService{
		registry:  registry,
		repo:      repo,
		locker:    locker,
		preview:   preview,
		notifiers: notifiers,
		tracer:    tracer,
		sessions:  make(map[string]*ConditionSession),
	}
}

// Handlers 返回可添加的条件类型，顺序与注册顺序一致。
func (s *EditorService) Handlers() []HandlerInfo {
	handlers := s.registry.Handlers()
	out := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, HandlerInfo{Key: h.Key(), Label: h.Label(), Singleton: h.IsSingleton()})
	}
	return out
}

// Open 打开一个编辑会话。streamID 为 0 时打开一个空的新商品流，不会请求预览。
func (s *EditorService) Open(ctx context.Context, streamID int64) (*ConditionSession, error) {
	ctx, span := s.tracer.Start(ctx, "service.OpenSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("stream.id", streamID))

	record := domain.NewProductStream()
	if streamID > 0 {
		found, err := s.repo.FindByID(ctx, streamID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load product stream")
			return nil, err
		}
		record = found
	}

	id := uuid.New().String()
	var notifier port.Notifier
	if s.notifiers != nil {
		notifier = s.notifiers(id)
	}
	session := NewConditionSession(id, s.registry, notifier, s.preview, s.tracer)
	if err := session.Load(ctx, record); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()
	activeSessions.Inc()

	logger.Ctx(ctx).Info().Str("session", id).Int64("stream", streamID).Int("conditions", len(session.ActiveKeys())).Msg("condition session opened")
	return session, nil
}

// Session 查找一个仍然打开的会话。
func (s *EditorService) Session(id string) (*ConditionSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return session, nil
}

// Save 校验会话中的条件，通过后持久化。
// 已存在的商品流在保存期间持有分布式锁，防止多个编辑端同时覆盖。
func (s *EditorService) Save(ctx context.Context, sessionID string, req SaveRequest) (*domain.ProductStream, error) {
	ctx, span := s.tracer.Start(ctx, "service.Save")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.Check(); err != nil {
		span.SetStatus(codes.Error, "conditions invalid")
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConditions, err)
	}

	streamID := session.StreamID()
	if streamID > 0 && s.locker != nil {
		unlock, err := s.locker.Lock(ctx, streamID)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("lock product stream %d: %w", streamID, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				logger.Ctx(ctx).Error().Err(err).Int64("stream", streamID).Msg("failed to release product stream lock")
			}
		}()
	}

	stream := domain.NewProductStream()
	if streamID > 0 {
		if stream, err = s.repo.FindByID(ctx, streamID); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if err := stream.Rename(req.Name, req.Description); err != nil {
		return nil, err
	}
	stream.ReplaceConditions(session.Serialize())

	if err := s.repo.Save(ctx, stream); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save product stream")
		return nil, err
	}
	session.setStreamID(stream.StreamID)

	span.AddEvent("product stream saved")
	logger.Ctx(ctx).Info().Str("session", sessionID).Int64("stream", stream.StreamID).Int("conditions", stream.Filters.Len()).Msg("product stream saved")
	return stream, nil
}

// Close 关闭并移除会话。
func (s *EditorService) Close(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	session.Close()
	activeSessions.Dec()
	logger.Ctx(ctx).Info().Str("session", sessionID).Msg("condition session closed")
	return nil
}

// Shutdown 关闭所有会话，用于服务优雅退出。
func (s *EditorService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*ConditionSession)
	s.mu.Unlock()
	for _, session := range sessions {
		session.Close()
		activeSessions.Dec()
	}
}
