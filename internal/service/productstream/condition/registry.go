// internal/service/productstream/condition/registry.go
package condition

import (
	"time"

	"productstream/internal/service/productstream/domain"
	"productstream/internal/service/productstream/domain/port"
)

// Registry 是一次编辑会话可用的条件处理器的有序集合，构建后只读。
type Registry struct {
	handlers []domain.Handler
	byKey    map[string]domain.Handler
}

// NewRegistry 按传入顺序注册处理器。key 重复时 Lookup 返回先注册的那个。
func NewRegistry(handlers ...domain.Handler) *Registry {
	r := &Registry{
		handlers: make([]domain.Handler, 0, len(handlers)),
		byKey:    make(map[string]domain.Handler, len(handlers)),
	}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		r.handlers = append(r.handlers, h)
		if _, exists := r.byKey[h.Key()]; !exists {
			r.byKey[h.Key()] = h
		}
	}
	return r
}

// Dependencies 是内置处理器需要的外部协作者。
type Dependencies struct {
	Categories    port.CategoryLookup
	LookupTimeout time.Duration
}

// Build 注册全部 12 个内置处理器，顺序即菜单顺序。
func Build(deps Dependencies) *Registry {
	return NewRegistry(
		NewPriceHandler(),
		NewManufacturerHandler(),
		NewPropertyHandler(),
		NewAttributeHandler(),
		NewCategoryHandler(deps.Categories, deps.LookupTimeout),
		NewImmediateDeliveryHandler(),
		NewHasPseudoPriceHandler(),
		NewCreateDateHandler(),
		NewReleaseDateHandler(),
		NewVoteAverageHandler(),
		NewSalesHandler(),
		NewSearchTermHandler(),
	)
}

// Handlers 返回注册顺序的副本。
func (r *Registry) Handlers() []domain.Handler {
	out := make([]domain.Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

func (r *Registry) Lookup(key string) (domain.Handler, bool) {
	h, ok := r.byKey[key]
	return h, ok
}

func (r *Registry) Len() int {
	return len(r.handlers)
}
