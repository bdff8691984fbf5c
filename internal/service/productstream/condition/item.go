// internal/service/productstream/condition/item.go
package condition

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"productstream/internal/service/productstream/domain"
)

// payloadItem 是所有内置处理器共用的可编辑载荷，T 为具体的载荷结构。
// raw 保存加载或编辑时收到的原始 JSON，序列化时原样输出，
// 因此结构体不认识的字段不会在一次加载保存之后丢失。
type payloadItem[T any] struct {
	mu    sync.RWMutex
	name  string
	value T
	raw   json.RawMessage
	rules *Rules
}

var _ domain.Item = (*payloadItem[PricePayload])(nil)

func newItem[T any](key string, value T, rules *Rules) *payloadItem[T] {
	return &payloadItem[T]{
		name:  domain.FieldName(key),
		value: value,
		rules: rules,
	}
}

// loadItem 从存储值还原载荷，不套用任何创建默认值。
func loadItem[T any](key string, raw json.RawMessage, rules *Rules) (domain.Item, error) {
	var v T
	if err := decodeInto(raw, &v); err != nil {
		return nil, errors.Wrapf(err, "load %s", key)
	}
	item := newItem(key, v, rules)
	item.raw = cloneRaw(raw)
	return item, nil
}

func (i *payloadItem[T]) Name() string {
	return i.name
}

func (i *payloadItem[T]) Value() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.raw) > 0 {
		return i.raw
	}
	return i.value
}

func (i *payloadItem[T]) Update(raw json.RawMessage) error {
	var next T
	if err := json.Unmarshal(raw, &next); err != nil {
		return errors.Wrapf(err, "decode %s", i.name)
	}
	i.mu.Lock()
	i.value = next
	i.raw = cloneRaw(raw)
	i.mu.Unlock()
	return nil
}

func (i *payloadItem[T]) Validate() error {
	i.mu.RLock()
	v := i.value
	i.mu.RUnlock()
	return i.rules.Check(v)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// decodeInto 把 JSON 解码到 v，空输入视为"保持默认值"。
func decodeInto(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// decodeOptions 用容器的创建参数覆盖载荷默认值。
func decodeOptions(opts domain.Options, v any) error {
	if len(opts) == 0 {
		return nil
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
