// internal/service/productstream/domain/event.go
package domain

import "time"

// PreviewTrigger 标识一次预览请求的来源。
type PreviewTrigger string

const (
	PreviewTriggerLoad    PreviewTrigger = "load"    // 已保存记录加载完成
	PreviewTriggerRefresh PreviewTrigger = "refresh" // 用户手动刷新
)

// PreviewRequested 是会话发出的"重新计算预览"事件。
// Conditions 为空表示"使用会话当前状态"，下游应回查会话。
type PreviewRequested struct {
	TraceID     string         `json:"traceId,omitempty"`
	SessionID   string         `json:"sessionId"`
	StreamID    int64          `json:"streamId,omitempty"`
	Trigger     PreviewTrigger `json:"trigger"`
	Conditions  *Conditions    `json:"conditions,omitempty"`
	RequestedAt time.Time      `json:"requestedAt"`
}

// GrowlMessage 是推送给编辑端的一条提示消息。
type GrowlMessage struct {
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sentAt"`
}
