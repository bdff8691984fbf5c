package port

import (
	"context"
	"productstream/internal/service/productstream/domain"
)

// PreviewPublisher 是预览重算请求的出站端口。
// 会话只负责发出请求，预览的计算完全在外部完成。
type PreviewPublisher interface {
	LoadPreview(ctx context.Context, req domain.PreviewRequested) error
}
