// internal/service/productstream/condition/category.go
package condition

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"productstream/internal/pkg/logger"
	"productstream/internal/service/productstream/domain"
	"productstream/internal/service/productstream/domain/port"
)

const defaultLookupTimeout = 3 * time.Second

// CategoryHandler 分类条件。创建时需要到商品目录确认分类存在，
// 因此 produce 会在后台 goroutine 中稍后调用，校验不通过则不产出。
type CategoryHandler struct {
	base
	lookup  port.CategoryLookup
	timeout time.Duration
}

// NewCategoryHandler lookup 为 nil 时跳过远程校验，同步产出。
func NewCategoryHandler(lookup port.CategoryLookup, timeout time.Duration) *CategoryHandler {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &CategoryHandler{
		base:    base{key: KeyCategory, label: "Category", singleton: true},
		lookup:  lookup,
		timeout: timeout,
	}
}

func (h *CategoryHandler) Load(key string, raw json.RawMessage, _ []string, _ *domain.Conditions) (domain.Item, error) {
	if key != h.key {
		return nil, nil
	}
	return loadItem[CategoryPayload](h.key, raw, categoryRules)
}

func (h *CategoryHandler) Create(ctx context.Context, produce domain.Producer, container *domain.Container, _ []string) {
	log := logger.Ctx(ctx)

	v := CategoryPayload{CategoryIDs: []int{}}
	if err := decodeOptions(container.Options(), &v); err != nil {
		log.Warn().Err(err).Msg("invalid category options, condition not created")
		produce(nil, decline(err, "invalid options for %s", h.key))
		return
	}
	if h.lookup == nil || len(v.CategoryIDs) == 0 {
		produce(newItem(h.key, v, categoryRules), nil)
		return
	}

	// 请求结束后回调仍需完成，所以脱离调用方的取消信号
	lookupCtx := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(lookupCtx, h.timeout)
		defer cancel()

		missing, err := h.lookup.Missing(ctx, v.CategoryIDs)
		if err != nil {
			log.Error().Err(err).Ints("categoryIds", v.CategoryIDs).Msg("category lookup failed, condition not created")
			produce(nil, decline(err, "category lookup"))
			return
		}
		if len(missing) > 0 {
			log.Warn().Ints("missing", missing).Msg("unknown categories, condition not created")
			produce(nil, errors.Wrapf(domain.ErrConditionDeclined, "unknown categories %v", missing))
			return
		}
		produce(newItem(h.key, v, categoryRules), nil)
	}()
}
