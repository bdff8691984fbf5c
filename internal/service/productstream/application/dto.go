package application

import (
	"encoding/json"

	"productstream/internal/service/productstream/domain"
)

// HandlerInfo 是"添加条件"菜单中的一项。
type HandlerInfo struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Singleton bool   `json:"singleton"`
}

// OpenSessionRequest 打开编辑会话，StreamID 为 0 时创建新的商品流。
type OpenSessionRequest struct {
	StreamID int64 `json:"streamId"`
}

// AddConditionRequest 是添加条件的请求体
type AddConditionRequest struct {
	Handler string         `json:"handler"`
	Options domain.Options `json:"options,omitempty"`
}

// SaveRequest 是保存商品流的请求体
type SaveRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ConditionView 是一个条件容器的只读视图。
type ConditionView struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Title     string          `json:"title"`
	Handler   string          `json:"handler"`
	Collapsed bool            `json:"collapsed"`
	Value     json.RawMessage `json:"value"`
	Error     string          `json:"error,omitempty"`
}

// SessionView 是会话的只读视图。
type SessionView struct {
	ID         string          `json:"id"`
	StreamID   int64           `json:"streamId,omitempty"`
	ActiveKeys []string        `json:"activeKeys"`
	Conditions []ConditionView `json:"conditions"`
	Valid      bool            `json:"valid"`
}

// SaveResponse 是保存成功后的响应体
type SaveResponse struct {
	StreamID   int64              `json:"streamId"`
	Name       string             `json:"name"`
	Conditions *domain.Conditions `json:"conditions"`
}

// NewConditionView 从条目构造视图。
func NewConditionView(e *Entry) ConditionView {
	v := ConditionView{
		ID:        e.ID,
		Key:       e.Key,
		Title:     e.Container.Title,
		Handler:   e.Handler.Key(),
		Collapsed: e.Container.Collapsed(),
	}
	if raw, err := json.Marshal(e.Item.Value()); err == nil {
		v.Value = raw
	}
	if err := e.Item.Validate(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// NewSessionView 构造会话视图。
func NewSessionView(s *ConditionSession) SessionView {
	entries := s.Entries()
	view := SessionView{
		ID:         s.ID(),
		StreamID:   s.StreamID(),
		ActiveKeys: make([]string, 0, len(entries)),
		Conditions: make([]ConditionView, 0, len(entries)),
		Valid:      true,
	}
	for _, e := range entries {
		cv := NewConditionView(e)
		if cv.Error != "" {
			view.Valid = false
		}
		view.ActiveKeys = append(view.ActiveKeys, e.Key)
		view.Conditions = append(view.Conditions, cv)
	}
	return view
}
