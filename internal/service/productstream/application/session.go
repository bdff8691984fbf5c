// internal/service/productstream/application/session.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"productstream/internal/pkg/logger"
	"productstream/internal/pkg/tracing"
	"productstream/internal/service/productstream/condition"
	"productstream/internal/service/productstream/domain"
	"productstream/internal/service/productstream/domain/port"
)

const (
	singletonTitle   = "Singleton filter"
	singletonMessage = "Filter can only be added one time"

	originLoad = "load"
	originAdd  = "add"
)

// ConditionSession 是一次商品流编辑的内存状态：
// 它持有处理器注册表、有序的激活条目，并负责加载、增删、校验和序列化。
//
// 所有变更都经过 mu 串行化，相当于编辑界面的事件线程。
// 调用处理器的 Create 和通知端口时绝不持有锁，因为处理器可能同步回调。
type ConditionSession struct {
	id       string
	registry *condition.Registry
	notifier port.Notifier
	preview  port.PreviewPublisher
	tracer   trace.Tracer

	mu       sync.Mutex
	streamID int64
	entries  entryList
	pending  map[*Pending]struct{}
	closed   bool
}

// NewConditionSession 创建一个新会话。notifier、preview、tracer 为 nil 时使用空实现。
func NewConditionSession(id string, registry *condition.Registry, notifier port.Notifier, preview port.PreviewPublisher, tracer trace.Tracer) *ConditionSession {
	if notifier == nil {
		notifier = logNotifier{}
	}
	if preview == nil {
		preview = nopPreview{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &ConditionSession{
		id:       id,
		registry: registry,
		notifier: notifier,
		preview:  preview,
		tracer:   tracer,
		pending:  make(map[*Pending]struct{}),
	}
}

func (s *ConditionSession) ID() string {
	return s.id
}

func (s *ConditionSession) Registry() *condition.Registry {
	return s.registry
}

// StreamID 返回会话对应的商品流 ID，0 表示尚未保存。
func (s *ConditionSession) StreamID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

func (s *ConditionSession) setStreamID(id int64) {
	s.mu.Lock()
	s.streamID = id
	s.mu.Unlock()
}

// Load 把持久化记录中的条件还原到会话中。
//
// 每个存储的 key 都会交给所有处理器尝试（不会在第一个认领者处停止）；
// 没有处理器认领的 key 被静默忽略。记录有 ID 时，加载完成后发出一次预览请求。
func (s *ConditionSession) Load(ctx context.Context, record domain.Record) error {
	ctx, span := s.tracer.Start(ctx, "session.Load")
	defer span.End()

	stored := record.Conditions()
	log := logger.Ctx(ctx).With().Str("session", s.id).Logger()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	loaded := 0
	for _, key := range stored.Keys() {
		raw, _ := stored.Get(key)
		claimed := false
		for _, h := range s.registry.Handlers() {
			item, err := h.Load(key, raw, s.entries.keys(), stored)
			if err != nil {
				claimed = true
				log.Warn().Err(err).Str("key", key).Str("handler", h.Key()).Msg("stored condition is malformed, skipped")
				continue
			}
			if item == nil {
				continue
			}
			claimed = true
			container := domain.NewContainer(h.Label(), nil)
			container.SetCollapsed(true)
			s.bindLocked(h, item, container)
			conditionsAdded.WithLabelValues(h.Key(), originLoad).Inc()
			loaded++
		}
		if !claimed {
			unrecognizedKeys.Inc()
			log.Debug().Str("key", key).Msg("no handler recognizes stored condition, ignored")
		}
	}
	id, persisted := record.ID()
	s.streamID = id
	s.mu.Unlock()

	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.Int("conditions.stored", stored.Len()),
		attribute.Int("conditions.loaded", loaded),
	)

	if !persisted {
		return nil
	}
	if err := s.publishPreview(ctx, domain.PreviewTriggerLoad, stored.Clone()); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("failed to request preview after load")
	}
	return nil
}

// AddCondition 让处理器为一个新容器产出载荷。
// 返回的 Pending 在产出被接受、被拒绝或会话关闭时决议。
func (s *ConditionSession) AddCondition(ctx context.Context, h domain.Handler, options domain.Options) (*Pending, error) {
	ctx, span := s.tracer.Start(ctx, "session.AddCondition")
	defer span.End()

	if h == nil {
		return nil, domain.ErrHandlerNotFound
	}
	span.SetAttributes(attribute.String("condition.handler", h.Key()))

	container := domain.NewContainer(h.Label(), options)
	pending := newPending(container)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	s.pending[pending] = struct{}{}
	keys := s.entries.keys()
	s.mu.Unlock()

	// 回调可能在请求结束之后才到来
	resolveCtx := context.WithoutCancel(ctx)
	var once sync.Once
	produce := func(item domain.Item, err error) {
		if err == nil && item == nil {
			return
		}
		once.Do(func() {
			if err != nil {
				s.decline(resolveCtx, h, pending, err)
				return
			}
			s.resolve(resolveCtx, h, container, item, pending)
		})
	}

	h.Create(ctx, produce, container, keys)
	return pending, nil
}

// AddConditionByKey 按处理器 key 查找后调用 AddCondition。
func (s *ConditionSession) AddConditionByKey(ctx context.Context, handlerKey string, options domain.Options) (*Pending, error) {
	h, ok := s.registry.Lookup(handlerKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrHandlerNotFound, handlerKey)
	}
	return s.AddCondition(ctx, h, options)
}

// resolve 在产出回调时执行。单例检查读取的是此刻的激活列表，而不是调用 Create 时的快照。
func (s *ConditionSession) resolve(ctx context.Context, h domain.Handler, container *domain.Container, item domain.Item, pending *Pending) {
	log := logger.Ctx(ctx).With().Str("session", s.id).Str("handler", h.Key()).Logger()

	s.mu.Lock()
	delete(s.pending, pending)
	if s.closed {
		s.mu.Unlock()
		log.Debug().Msg("session closed before condition was produced, discarded")
		pending.resolve(nil, domain.ErrSessionClosed)
		return
	}
	if container.Closed() {
		s.mu.Unlock()
		log.Debug().Msg("container closed before condition was produced, discarded")
		pending.resolve(nil, domain.ErrContainerClosed)
		return
	}
	key := keyOf(item)
	if h.IsSingleton() && s.entries.containsKey(key) {
		s.mu.Unlock()
		singletonRejections.WithLabelValues(h.Key()).Inc()
		log.Info().Str("key", key).Msg("singleton condition already active, rejected")
		s.notifier.Notify(ctx, singletonTitle, singletonMessage)
		pending.resolve(nil, domain.ErrDuplicateSingleton)
		return
	}
	entry := s.bindLocked(h, item, container)
	s.mu.Unlock()

	conditionsAdded.WithLabelValues(h.Key(), originAdd).Inc()
	log.Info().Str("key", key).Msg("condition added")
	pending.resolve(entry, nil)
}

// decline 在处理器放弃创建时执行，Pending 以 ErrConditionDeclined 决议。
func (s *ConditionSession) decline(ctx context.Context, h domain.Handler, pending *Pending, err error) {
	s.mu.Lock()
	delete(s.pending, pending)
	s.mu.Unlock()

	if !errors.Is(err, domain.ErrConditionDeclined) {
		err = fmt.Errorf("%w: %w", domain.ErrConditionDeclined, err)
	}
	conditionsDeclined.WithLabelValues(h.Key()).Inc()
	logger.Ctx(ctx).Info().Err(err).Str("session", s.id).Str("handler", h.Key()).Msg("condition declined by handler")
	pending.resolve(nil, err)
}

// bindLocked 把载荷放进容器并追加到条目列表，调用方必须持有 mu。
func (s *ConditionSession) bindLocked(h domain.Handler, item domain.Item, container *domain.Container) *Entry {
	key := keyOf(item)
	entry := &Entry{
		ID:        container.ID,
		Key:       key,
		Handler:   h,
		Item:      item,
		Container: container,
	}
	container.Bind(key, item, s.onContainerClose)
	s.entries.append(entry)
	return entry
}

func (s *ConditionSession) onContainerClose(c *domain.Container) {
	s.mu.Lock()
	_, ok := s.entries.removeByID(c.ID)
	s.mu.Unlock()
	if ok {
		conditionsRemoved.Inc()
	}
}

// RemoveCondition 移除第一个绑定到 key 的条目。key 不存在时什么也不做并返回 false。
func (s *ConditionSession) RemoveCondition(ctx context.Context, key string) bool {
	_, span := s.tracer.Start(ctx, "session.RemoveCondition", trace.WithAttributes(attribute.String("condition.key", key)))
	defer span.End()

	s.mu.Lock()
	entry, ok := s.entries.removeFirstKey(key)
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry.Container.Detach()
	conditionsRemoved.Inc()
	return true
}

// UpdateCondition 用新的 JSON 替换第一个绑定到 key 的条目的载荷。
func (s *ConditionSession) UpdateCondition(ctx context.Context, key string, raw []byte) error {
	_, span := s.tracer.Start(ctx, "session.UpdateCondition", trace.WithAttributes(attribute.String("condition.key", key)))
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	entry, ok := s.entries.firstByKey(key)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConditionNotFound, key)
	}
	if err := entry.Item.Update(raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	return nil
}

// ActiveKeys 按激活顺序返回条件 key。
func (s *ConditionSession) ActiveKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.keys()
}

// Entries 返回当前条目的快照。
func (s *ConditionSession) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.snapshot()
}

func (s *ConditionSession) Entry(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.firstByKey(key)
}

// Validate 当且仅当所有激活条目的载荷都通过校验时返回 true。
func (s *ConditionSession) Validate() bool {
	return s.Check() == nil
}

// Check 返回所有未通过校验的条目错误，每个错误以条件 key 为前缀。
func (s *ConditionSession) Check() error {
	var errs []error
	for _, e := range s.Entries() {
		if err := e.Item.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Serialize 汇总所有位于 "condition." 命名空间下的字段，剥离前缀后生成条件映射。
// 同一个 key 出现多次时，后面的条目覆盖前面的。
func (s *ConditionSession) Serialize() *domain.Conditions {
	out := domain.NewConditions()
	for _, e := range s.Entries() {
		key, ok := domain.KeyOf(e.Item.Name())
		if !ok {
			continue
		}
		if err := out.SetValue(key, e.Item.Value()); err != nil {
			logger.Ctx(context.Background()).Error().Err(err).Str("session", s.id).Str("key", key).Msg("failed to serialize condition")
		}
	}
	return out
}

// RefreshPreview 在用户要求时发出不带载荷的预览请求，下游应回查会话当前状态。
func (s *ConditionSession) RefreshPreview(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "session.RefreshPreview")
	defer span.End()

	if s.Closed() {
		return domain.ErrSessionClosed
	}
	if err := s.publishPreview(ctx, domain.PreviewTriggerRefresh, nil); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *ConditionSession) publishPreview(ctx context.Context, trigger domain.PreviewTrigger, conditions *domain.Conditions) error {
	req := domain.PreviewRequested{
		TraceID:     tracing.GetTraceIDFromContext(ctx),
		SessionID:   s.id,
		StreamID:    s.StreamID(),
		Trigger:     trigger,
		Conditions:  conditions,
		RequestedAt: time.Now(),
	}
	if err := s.preview.LoadPreview(ctx, req); err != nil {
		previewRequests.WithLabelValues(string(trigger), "error").Inc()
		return err
	}
	previewRequests.WithLabelValues(string(trigger), "ok").Inc()
	return nil
}

// Close 结束会话：未决的 AddCondition 全部以 ErrSessionClosed 决议，
// 之后到达的回调不再产生任何效果。重复调用无副作用。
func (s *ConditionSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[*Pending]struct{})
	entries := s.entries.reset()
	s.mu.Unlock()

	for p := range pending {
		p.resolve(nil, domain.ErrSessionClosed)
	}
	for _, e := range entries {
		e.Container.Detach()
	}
}

func (s *ConditionSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// keyOf 返回载荷对应的条件 key；不在条件命名空间下的字段以原名跟踪。
func keyOf(item domain.Item) string {
	if key, ok := domain.KeyOf(item.Name()); ok {
		return key
	}
	return item.Name()
}

type logNotifier struct{}

func (logNotifier) Notify(ctx context.Context, title, message string) {
	logger.Ctx(ctx).Info().Str("title", title).Msg(message)
}

type nopPreview struct{}

func (nopPreview) LoadPreview(context.Context, domain.PreviewRequested) error {
	return nil
}
