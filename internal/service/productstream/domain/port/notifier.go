package port

import "context"

// Notifier 是提示消息的出站端口，仅用于单例条件重复添加时提醒用户。
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// NotifierFunc 让普通函数满足 Notifier。
type NotifierFunc func(ctx context.Context, title, message string)

func (f NotifierFunc) Notify(ctx context.Context, title, message string) {
	f(ctx, title, message)
}
