package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"productstream/internal/service/productstream/domain"
)

type notification struct {
	title, message string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) Notify(_ context.Context, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{title, message})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

type recordingPreview struct {
	mu   sync.Mutex
	reqs []domain.PreviewRequested
	err  error
}

func (p *recordingPreview) LoadPreview(_ context.Context, req domain.PreviewRequested) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	return p.err
}

func (p *recordingPreview) all() []domain.PreviewRequested {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PreviewRequested(nil), p.reqs...)
}

// stubItem 是一个可控校验结果的载荷
type stubItem struct {
	name  string
	value any
	err   error
}

func (i *stubItem) Name() string    { return i.name }
func (i *stubItem) Value() any      { return i.value }
func (i *stubItem) Validate() error { return i.err }
func (i *stubItem) Update(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	i.value = v
	return nil
}

// deferredHandler 在 Create 时只记录 produce，由测试决定何时回调
type deferredHandler struct {
	key       string
	singleton bool

	mu       sync.Mutex
	produces []domain.Producer
}

func (h *deferredHandler) Key() string       { return h.key }
func (h *deferredHandler) Label() string     { return h.key }
func (h *deferredHandler) IsSingleton() bool { return h.singleton }

func (h *deferredHandler) Load(key string, raw json.RawMessage, _ []string, _ *domain.Conditions) (domain.Item, error) {
	if key != h.key {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &stubItem{name: domain.FieldName(key), value: v}, nil
}

func (h *deferredHandler) Create(_ context.Context, produce domain.Producer, _ *domain.Container, _ []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.produces = append(h.produces, produce)
}

func (h *deferredHandler) fire(i int, value any) {
	h.mu.Lock()
	produce := h.produces[i]
	h.mu.Unlock()
	produce(&stubItem{name: domain.FieldName(h.key), value: value}, nil)
}

// decline 让第 i 次 Create 以 err 放弃创建
func (h *deferredHandler) decline(i int, err error) {
	h.mu.Lock()
	produce := h.produces[i]
	h.mu.Unlock()
	produce(nil, err)
}

type fakeRepo struct {
	mu      sync.Mutex
	streams map[int64]*domain.ProductStream
	nextID  int64
	saves   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{streams: make(map[int64]*domain.ProductStream), nextID: 1}
}

func (r *fakeRepo) put(s *domain.ProductStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.StreamID == 0 {
		s.StreamID = r.nextID
		r.nextID++
	}
	r.streams[s.StreamID] = s
}

func (r *fakeRepo) FindByID(_ context.Context, id int64) (*domain.ProductStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	cp := *s
	cp.Filters = s.Filters.Clone()
	return &cp, nil
}

func (r *fakeRepo) Save(_ context.Context, s *domain.ProductStream) error {
	r.mu.Lock()
	r.saves++
	for id, other := range r.streams {
		if other.Name == s.Name && id != s.StreamID {
			r.mu.Unlock()
			return domain.ErrStreamNameTaken
		}
	}
	r.mu.Unlock()
	cp := *s
	cp.Filters = s.Filters.Clone()
	r.put(&cp)
	s.StreamID = cp.StreamID
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	locked   []int64
	unlocked int
	err      error
}

func (l *fakeLocker) Lock(_ context.Context, streamID int64) (func() error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	l.locked = append(l.locked, streamID)
	l.mu.Unlock()
	return func() error {
		l.mu.Lock()
		l.unlocked++
		l.mu.Unlock()
		return nil
	}, nil
}

var errPreviewDown = errors.New("preview backend down")
