package port

import "context"

// CategoryLookup 是商品目录服务的出站端口，分类条件创建时用来校验分类是否存在。
type CategoryLookup interface {
	// Missing 返回 ids 中在目录里不存在的分类 ID。
	Missing(ctx context.Context, ids []int) ([]int, error)
}
