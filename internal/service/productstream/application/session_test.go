package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"productstream/internal/service/productstream/condition"
	"productstream/internal/service/productstream/domain"
)

type storedRecord struct {
	id         int64
	conditions *domain.Conditions
}

func (r storedRecord) Conditions() *domain.Conditions { return r.conditions }
func (r storedRecord) ID() (int64, bool)              { return r.id, r.id > 0 }

func mustConditions(t *testing.T, pairs ...any) *domain.Conditions {
	t.Helper()
	c, err := domain.ConditionsOf(pairs...)
	require.NoError(t, err)
	return c
}

func newTestSession(t *testing.T, registry *condition.Registry) (*ConditionSession, *recordingNotifier, *recordingPreview) {
	t.Helper()
	if registry == nil {
		registry = condition.Build(condition.Dependencies{})
	}
	n := &recordingNotifier{}
	p := &recordingPreview{}
	s := NewConditionSession("s-1", registry, n, p, nil)
	t.Cleanup(s.Close)
	return s, n, p
}

func addAndWait(t *testing.T, s *ConditionSession, key string, opts domain.Options) (*Entry, error) {
	t.Helper()
	pending, err := s.AddConditionByKey(context.Background(), key, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return pending.Wait(ctx)
}

func TestLoadKeepsStoredOrderAndRequestsPreview(t *testing.T) {
	s, _, p := newTestSession(t, nil)
	stored := mustConditions(t,
		"sales", condition.SalesPayload{MinSales: 10},
		"unknown_key", map[string]int{"x": 1},
		"price", condition.PricePayload{Min: 1, Max: 9},
		"property|4", condition.PropertyPayload{GroupID: 4, ValueIDs: []int{1}},
	)

	require.NoError(t, s.Load(context.Background(), storedRecord{id: 42, conditions: stored}))

	assert.Equal(t, []string{"sales", "price", "property|4"}, s.ActiveKeys())
	for _, e := range s.Entries() {
		assert.True(t, e.Container.Collapsed(), "loaded containers start collapsed")
	}
	assert.EqualValues(t, 42, s.StreamID())

	reqs := p.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.PreviewTriggerLoad, reqs[0].Trigger)
	assert.Equal(t, "s-1", reqs[0].SessionID)
	assert.EqualValues(t, 42, reqs[0].StreamID)
	assert.Equal(t, stored.Keys(), reqs[0].Conditions.Keys(), "preview receives the stored mapping as-is")
}

func TestLoadWithoutIDDoesNotRequestPreview(t *testing.T) {
	s, _, p := newTestSession(t, nil)
	stored := mustConditions(t, "price", condition.PricePayload{Min: 1})

	require.NoError(t, s.Load(context.Background(), storedRecord{conditions: stored}))
	assert.Equal(t, []string{"price"}, s.ActiveKeys())
	assert.Empty(t, p.all())
}

func TestLoadPreviewFailureDoesNotFailLoad(t *testing.T) {
	registry := condition.Build(condition.Dependencies{})
	p := &recordingPreview{err: errPreviewDown}
	s := NewConditionSession("s-2", registry, nil, p, nil)
	defer s.Close()

	err := s.Load(context.Background(), storedRecord{id: 1, conditions: mustConditions(t, "sales", condition.SalesPayload{})})
	require.NoError(t, err)
	assert.Len(t, p.all(), 1)
}

func TestLoadSkipsMalformedClaimedKey(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	stored := domain.NewConditions()
	stored.Set("price", json.RawMessage(`"not an object"`))
	stored.Set("sales", json.RawMessage(`{"minSales":2}`))

	require.NoError(t, s.Load(context.Background(), storedRecord{conditions: stored}))
	assert.Equal(t, []string{"sales"}, s.ActiveKeys())
}

func TestLoadOffersEveryKeyToEveryHandler(t *testing.T) {
	a := &deferredHandler{key: "dup", singleton: true}
	b := &deferredHandler{key: "dup", singleton: true}
	s, _, _ := newTestSession(t, condition.NewRegistry(a, b))

	stored := domain.NewConditions()
	stored.Set("dup", json.RawMessage(`1`))
	require.NoError(t, s.Load(context.Background(), storedRecord{conditions: stored}))

	entries := s.Entries()
	require.Len(t, entries, 2, "both claimants produce an entry")
	assert.Same(t, a, entries[0].Handler)
	assert.Same(t, b, entries[1].Handler)
	assert.Equal(t, 1, s.Serialize().Len())
}

func TestDuplicateSingletonIsRejectedWithNotification(t *testing.T) {
	s, n, _ := newTestSession(t, nil)
	require.NoError(t, s.Load(context.Background(), storedRecord{conditions: mustConditions(t, "price", condition.PricePayload{Min: 1})}))

	entry, err := addAndWait(t, s, condition.KeyPrice, domain.Options{"min": 5})
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, domain.ErrDuplicateSingleton)

	assert.Equal(t, []string{"price"}, s.ActiveKeys())
	assert.Equal(t, []notification{{"Singleton filter", "Filter can only be added one time"}}, n.all())

	raw, ok := s.Serialize().Get("price")
	require.True(t, ok)
	assert.JSONEq(t, `{"min":1,"max":0}`, string(raw), "the stored entry is untouched")
}

func TestAddingPriceTwiceIsRejected(t *testing.T) {
	s, n, _ := newTestSession(t, nil)

	first, err := addAndWait(t, s, condition.KeyPrice, domain.Options{"min": 1})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := addAndWait(t, s, condition.KeyPrice, domain.Options{"min": 5})
	assert.Nil(t, second)
	assert.ErrorIs(t, err, domain.ErrDuplicateSingleton)

	assert.Equal(t, []string{"price"}, s.ActiveKeys())
	assert.Equal(t, []notification{{"Singleton filter", "Filter can only be added one time"}}, n.all())
	raw, ok := s.Serialize().Get("price")
	require.True(t, ok)
	assert.JSONEq(t, `{"min":1,"max":0}`, string(raw))
}

func TestDeclinedAdditionResolvesImmediately(t *testing.T) {
	s, n, _ := newTestSession(t, nil)

	_, err := addAndWait(t, s, condition.KeyProperty, domain.Options{"groupId": 4, "valueIds": []int{1}})
	require.NoError(t, err)

	pending, err := s.AddConditionByKey(context.Background(), condition.KeyProperty, domain.Options{"groupId": 4})
	require.NoError(t, err)
	assert.True(t, pending.Resolved(), "a synchronous decline resolves before AddCondition returns")
	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrConditionDeclined)

	s.mu.Lock()
	assert.Empty(t, s.pending)
	s.mu.Unlock()
	assert.Equal(t, []string{"property|4"}, s.ActiveKeys())
	assert.Empty(t, n.all(), "declines are not singleton violations")
}

func TestAsyncDeclineIsWrapped(t *testing.T) {
	h := &deferredHandler{key: "remote"}
	s, _, _ := newTestSession(t, condition.NewRegistry(h))

	pending, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)
	h.decline(0, errors.New("catalog down"))
	h.fire(0, "ignored after decline")

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrConditionDeclined)
	assert.Contains(t, err.Error(), "catalog down")
	assert.Empty(t, s.Entries())
}

func TestClosedContainerDiscardsLateItem(t *testing.T) {
	h := &deferredHandler{key: "slow"}
	s, _, _ := newTestSession(t, condition.NewRegistry(h))

	pending, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)
	pending.Container.Close()
	h.fire(0, "late")

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrContainerClosed)
	assert.Empty(t, s.Entries())
}

func TestSingletonCheckUsesStateAtResolution(t *testing.T) {
	h := &deferredHandler{key: "late", singleton: true}
	s, n, _ := newTestSession(t, condition.NewRegistry(h))

	first, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)
	second, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)
	assert.False(t, first.Resolved())

	h.fire(1, "b")
	h.fire(0, "a")

	e, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", e.Key)
	_, err = first.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrDuplicateSingleton)
	assert.Len(t, n.all(), 1)
	assert.Equal(t, []string{"late"}, s.ActiveKeys())
}

func TestProduceIsHonouredOnlyOnce(t *testing.T) {
	h := &deferredHandler{key: "multi"}
	s, _, _ := newTestSession(t, condition.NewRegistry(h))

	pending, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)
	h.fire(0, 1)
	h.fire(0, 2)

	_, err = pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Entries(), 1)
}

func TestAddedConditionIsExpandedAndAppended(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	require.NoError(t, s.Load(context.Background(), storedRecord{conditions: mustConditions(t, "sales", condition.SalesPayload{MinSales: 1})}))

	entry, err := addAndWait(t, s, condition.KeyPrice, domain.Options{"min": 2, "max": 4})
	require.NoError(t, err)
	assert.False(t, entry.Container.Collapsed())
	assert.Equal(t, "price", entry.Container.Key())
	assert.Equal(t, []string{"sales", "price"}, s.ActiveKeys())
}

func TestRemoveConditionThenSerialize(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	stored := mustConditions(t,
		"price", condition.PricePayload{Min: 1},
		"sales", condition.SalesPayload{MinSales: 3},
	)
	require.NoError(t, s.Load(context.Background(), storedRecord{conditions: stored}))

	entry, ok := s.Entry("price")
	require.True(t, ok)
	assert.True(t, s.RemoveCondition(context.Background(), "price"))
	assert.True(t, entry.Container.Closed())

	out := s.Serialize()
	assert.Equal(t, []string{"sales"}, out.Keys())
	assert.Equal(t, []string{"sales"}, s.ActiveKeys())

	// 移除后同一个单例可以重新添加
	_, err := addAndWait(t, s, condition.KeyPrice, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "price"}, s.ActiveKeys())
}

func TestRemoveAbsentKeyIsNoop(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	require.NoError(t, s.Load(context.Background(), storedRecord{conditions: mustConditions(t, "sales", condition.SalesPayload{})}))

	assert.False(t, s.RemoveCondition(context.Background(), "price"))
	assert.Equal(t, []string{"sales"}, s.ActiveKeys())
}

func TestContainerCloseRemovesOnlyItsEntry(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	e1, err := addAndWait(t, s, condition.KeyProperty, domain.Options{"groupId": 1, "valueIds": []int{1}})
	require.NoError(t, err)
	_, err = addAndWait(t, s, condition.KeyProperty, domain.Options{"groupId": 2, "valueIds": []int{5}})
	require.NoError(t, err)

	e1.Container.Close()
	assert.Equal(t, []string{"property|2"}, s.ActiveKeys())
}

func TestValidateIsConjunctionOfItems(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	assert.True(t, s.Validate(), "empty session is valid")

	_, err := addAndWait(t, s, condition.KeyPrice, domain.Options{"min": 1, "max": 5})
	require.NoError(t, err)
	assert.True(t, s.Validate())

	_, err = addAndWait(t, s, condition.KeyManufacturer, nil)
	require.NoError(t, err)
	assert.False(t, s.Validate())
	assert.ErrorContains(t, s.Check(), "manufacturer: select at least one manufacturer")

	require.NoError(t, s.UpdateCondition(context.Background(), "manufacturer", []byte(`{"manufacturerIds":[7]}`)))
	assert.True(t, s.Validate())
}

func TestUpdateCondition(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	err := s.UpdateCondition(context.Background(), "price", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrConditionNotFound)

	_, err = addAndWait(t, s, condition.KeyPrice, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateCondition(context.Background(), "price", []byte(`{"min":3,"max":8}`)))

	raw, _ := s.Serialize().Get("price")
	assert.JSONEq(t, `{"min":3,"max":8}`, string(raw))
	assert.Error(t, s.UpdateCondition(context.Background(), "price", []byte(`nope`)))
}

func TestLoadSerializeRoundTrip(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	stored := domain.NewConditions()
	stored.Set("release_date", json.RawMessage(`{"direction":"future","days":14}`))
	stored.Set("immediate_delivery", json.RawMessage(`{}`))
	stored.Set("attribute|color", json.RawMessage(`{"field":"color","operator":"=","value":"red"}`))
	stored.Set("search_term", json.RawMessage(`{"value":"boots"}`))

	require.NoError(t, s.Load(context.Background(), storedRecord{id: 3, conditions: stored}))

	out := s.Serialize()
	assert.Equal(t, stored.Keys(), out.Keys())
	for _, k := range stored.Keys() {
		want, _ := stored.Get(k)
		got, _ := out.Get(k)
		assert.JSONEq(t, string(want), string(got), k)
	}
}

func TestLoadSerializeKeepsUnknownFieldsAndPartialValues(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	stored := domain.NewConditions()
	stored.Set("price", json.RawMessage(`{"min":5,"max":10,"currency":"EUR"}`))
	stored.Set("create_date", json.RawMessage(`{}`))
	stored.Set("release_date", json.RawMessage(`{"days":3}`))
	stored.Set("sales", json.RawMessage(`{"minSales":3}`))
	stored.Set("property|2", json.RawMessage(`{"groupId":2,"valueIds":[8],"label":"Size"}`))

	require.NoError(t, s.Load(context.Background(), storedRecord{id: 1, conditions: stored}))

	out := s.Serialize()
	assert.Equal(t, stored.Keys(), out.Keys())
	for _, k := range stored.Keys() {
		want, _ := stored.Get(k)
		got, _ := out.Get(k)
		assert.JSONEq(t, string(want), string(got), k)
	}
	assert.False(t, s.Validate(), "an empty create_date is loaded as-is and stays invalid")
}

func TestSerializeSkipsForeignNamespace(t *testing.T) {
	h := &foreignHandler{}
	s, _, _ := newTestSession(t, condition.NewRegistry(h))
	pending, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)
	_, err = pending.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"name"}, s.ActiveKeys())
	assert.Equal(t, 0, s.Serialize().Len())
}

type foreignHandler struct{ deferredHandler }

func (h *foreignHandler) Create(_ context.Context, produce domain.Producer, _ *domain.Container, _ []string) {
	produce(&stubItem{name: "name", value: "x"}, nil)
}

func TestLateCallbackAfterCloseIsIgnored(t *testing.T) {
	h := &deferredHandler{key: "slow", singleton: true}
	registry := condition.NewRegistry(h)
	s := NewConditionSession("s-late", registry, nil, nil, nil)

	pending, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)

	s.Close()
	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	h.fire(0, "too late")
	assert.Empty(t, s.Entries())
	assert.True(t, s.Closed())

	_, err = s.AddCondition(context.Background(), h, nil)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.ErrorIs(t, s.RefreshPreview(context.Background()), domain.ErrSessionClosed)
}

func TestHandlerThatNeverProducesStaysPending(t *testing.T) {
	h := &deferredHandler{key: "never"}
	s, _, _ := newTestSession(t, condition.NewRegistry(h))

	pending, err := s.AddCondition(context.Background(), h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, pending.Resolved())
	assert.Empty(t, s.ActiveKeys())
}

func TestUnknownHandlerKey(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	_, err := s.AddConditionByKey(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, domain.ErrHandlerNotFound)
	_, err = s.AddCondition(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrHandlerNotFound)
}

func TestRefreshPreviewSendsNoPayload(t *testing.T) {
	s, _, p := newTestSession(t, nil)
	require.NoError(t, s.RefreshPreview(context.Background()))

	reqs := p.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.PreviewTriggerRefresh, reqs[0].Trigger)
	assert.Nil(t, reqs[0].Conditions)
}

type slowCatalog struct{ missing []int }

func (c slowCatalog) Missing(ctx context.Context, _ []int) ([]int, error) {
	select {
	case <-time.After(10 * time.Millisecond):
		return c.missing, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestAsyncCategoryCondition(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := condition.Build(condition.Dependencies{Categories: slowCatalog{}, LookupTimeout: time.Second})
	s := NewConditionSession("s-async", registry, nil, nil, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pending, err := s.AddConditionByKey(ctx, condition.KeyCategory, domain.Options{"categoryIds": []int{8}})
	require.NoError(t, err)
	cancel() // 请求结束不影响后续回调
	assert.Empty(t, s.ActiveKeys())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	entry, err := pending.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "category", entry.Key)
	assert.Equal(t, []string{"category"}, s.ActiveKeys())
}
