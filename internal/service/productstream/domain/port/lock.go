package port

import "context"

// StreamLocker 在保存商品流期间提供跨实例互斥。
type StreamLocker interface {
	// Lock 获取锁并返回释放函数。
	Lock(ctx context.Context, streamID int64) (unlock func() error, err error)
}
