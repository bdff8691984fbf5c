// internal/service/productstream/domain/repository.go
package domain

import "context"

// StreamRepository 定义了商品流聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type StreamRepository interface {
	// FindByID 根据 ID 查找商品流，不存在时返回 ErrStreamNotFound。
	FindByID(ctx context.Context, id int64) (*ProductStream, error)

	// Save 保存商品流；StreamID 为 0 时创建并回填 ID。
	Save(ctx context.Context, stream *ProductStream) error
}
