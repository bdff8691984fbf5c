package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"productstream/internal/service/productstream/application"
	"productstream/internal/service/productstream/condition"
	"productstream/internal/service/productstream/domain"
)

type memoryRepo struct {
	mu      sync.Mutex
	streams map[int64]*domain.ProductStream
}

func (r *memoryRepo) FindByID(_ context.Context, id int64) (*domain.ProductStream, error) {
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

func (r *memoryRepo) Save(_ context.Context, s *domain.ProductStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.StreamID == 0 {
		s.StreamID = int64(len(r.streams) + 1)
	}
	cp := *s
	cp.Filters = s.Filters.Clone()
	r.streams[s.StreamID] = &cp
	return nil
}

// stalledCatalog 让分类条件的创建一直挂起，直到请求上下文超时
type stalledCatalog struct{}

func (stalledCatalog) Missing(ctx context.Context, _ []int) ([]int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := condition.Build(condition.Dependencies{Categories: stalledCatalog{}, LookupTimeout: time.Second})
	service := application.NewEditorService(registry, &memoryRepo{streams: map[int64]*domain.ProductStream{}}, nil, nil, nil, nil)
	mux := http.NewServeMux()
	NewEditorHandler(service, nil, 30*time.Millisecond).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		service.Shutdown()
	})
	return srv
}

func do(t *testing.T, method, target string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func openSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := do(t, http.MethodPost, srv.URL+"/sessions", map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var view application.SessionView
	require.NoError(t, json.Unmarshal(body, &view))
	require.NotEmpty(t, view.ID)
	return view.ID
}

func TestListHandlers(t *testing.T) {
	srv := newTestServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/handlers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var handlers []application.HandlerInfo
	require.NoError(t, json.Unmarshal(body, &handlers))
	assert.Len(t, handlers, 12)
}

func TestConditionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	id := openSession(t, srv)
	base := srv.URL + "/sessions/" + id

	resp, body := do(t, http.MethodPost, base+"/conditions", application.AddConditionRequest{
		Handler: condition.KeyPrice,
		Options: domain.Options{"min": 1, "max": 10},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var view application.ConditionView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "price", view.Key)
	assert.False(t, view.Collapsed)

	resp, _ = do(t, http.MethodPost, base+"/conditions", application.AddConditionRequest{Handler: condition.KeyPrice})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, base+"/conditions", application.AddConditionRequest{Handler: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodPut, base+"/conditions/price", `{"min":2,"max":20}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodPut, base+"/conditions/price", `{"min":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, base+"/conditions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"price":{"min":2,"max":20}}`, string(body))

	resp, _ = do(t, http.MethodDelete, base+"/conditions/price", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, base+"/conditions/price", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQualifiedKeyInPath(t *testing.T) {
	srv := newTestServer(t)
	id := openSession(t, srv)
	base := srv.URL + "/sessions/" + id

	resp, body := do(t, http.MethodPost, base+"/conditions", application.AddConditionRequest{
		Handler: condition.KeyProperty,
		Options: domain.Options{"groupId": 3, "valueIds": []int{1}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	// 同一属性组已激活，处理器当场放弃，不应等到超时再返回 202
	resp, body = do(t, http.MethodPost, base+"/conditions", application.AddConditionRequest{
		Handler: condition.KeyProperty,
		Options: domain.Options{"groupId": 3},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodDelete, base+"/conditions/"+url.PathEscape("property|3"), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAddConditionStillPendingReturnsAccepted(t *testing.T) {
	srv := newTestServer(t)
	id := openSession(t, srv)

	resp, body := do(t, http.MethodPost, srv.URL+"/sessions/"+id+"/conditions", application.AddConditionRequest{
		Handler: condition.KeyCategory,
		Options: domain.Options{"categoryIds": []int{1}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var pending pendingResponse
	require.NoError(t, json.Unmarshal(body, &pending))
	assert.Equal(t, "pending", pending.Status)
	assert.NotEmpty(t, pending.ContainerID)
}

func TestSaveOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	id := openSession(t, srv)
	base := srv.URL + "/sessions/" + id

	resp, _ := do(t, http.MethodPost, base+"/conditions", application.AddConditionRequest{Handler: condition.KeyManufacturer})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, http.MethodPost, base+"/save", application.SaveRequest{Name: "Brands"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodPut, base+"/conditions/manufacturer", `{"manufacturerIds":[4,5]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodPost, base+"/save", application.SaveRequest{Name: "Brands"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var saved struct {
		StreamID   int64           `json:"streamId"`
		Conditions json.RawMessage `json:"conditions"`
	}
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.EqualValues(t, 1, saved.StreamID)
	assert.JSONEq(t, `{"manufacturer":{"manufacturerIds":[4,5]}}`, string(saved.Conditions))

	// 重新打开已保存的商品流
	resp, body = do(t, http.MethodPost, srv.URL+"/sessions", application.OpenSessionRequest{StreamID: saved.StreamID})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var view application.SessionView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, []string{"manufacturer"}, view.ActiveKeys)
	assert.True(t, view.Valid)
	assert.True(t, view.Conditions[0].Collapsed)
}

func TestSessionNotFoundAndClose(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := do(t, http.MethodGet, srv.URL+"/sessions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/sessions", application.OpenSessionRequest{StreamID: 77})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	id := openSession(t, srv)
	resp, _ = do(t, http.MethodPost, srv.URL+"/sessions/"+id+"/preview", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", domain.ErrSessionNotFound), http.StatusNotFound},
		{domain.ErrDuplicateSingleton, http.StatusConflict},
		{domain.ErrStreamNameTaken, http.StatusConflict},
		{fmt.Errorf("%w: %w", domain.ErrInvalidConditions, errors.New("price: bad")), http.StatusUnprocessableEntity},
		{domain.ErrSessionClosed, http.StatusGone},
		{domain.ErrContainerClosed, http.StatusGone},
		{fmt.Errorf("%w: property|3 is already active", domain.ErrConditionDeclined), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
