// internal/service/productstream/condition/handler.go
package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"productstream/internal/pkg/logger"
	"productstream/internal/service/productstream/domain"
)

// base 承载所有处理器共有的标识信息。
type base struct {
	key       string
	label     string
	singleton bool
}

func (b base) Key() string       { return b.key }
func (b base) Label() string     { return b.label }
func (b base) IsSingleton() bool { return b.singleton }

// staticHandler 处理 key 固定的条件：key 完全匹配才认领，创建时同步产出。
type staticHandler[T any] struct {
	base
	rules   *Rules
	initial func() T
}

func newStatic[T any](key, label string, singleton bool, rules *Rules, initial func() T) *staticHandler[T] {
	if initial == nil {
		initial = func() T {
			var zero T
			return zero
		}
	}
	return &staticHandler[T]{
		base:    base{key: key, label: label, singleton: singleton},
		rules:   rules,
		initial: initial,
	}
}

func (h *staticHandler[T]) Load(key string, raw json.RawMessage, _ []string, _ *domain.Conditions) (domain.Item, error) {
	if key != h.key {
		return nil, nil
	}
	return loadItem[T](h.key, raw, h.rules)
}

func (h *staticHandler[T]) Create(ctx context.Context, produce domain.Producer, container *domain.Container, _ []string) {
	v := h.initial()
	if err := decodeOptions(container.Options(), &v); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("handler", h.key).Msg("invalid creation options, condition not created")
		produce(nil, decline(err, "invalid options for %s", h.key))
		return
	}
	produce(newItem(h.key, v, h.rules), nil)
}

// keyedHandler 处理同一类型可出现多次的条件，key 形如 "<prefix>|<qualifier>"，
// qualifier 从载荷中推导（例如属性组 ID、属性字段名）。
type keyedHandler[T any] struct {
	base
	prefix    string
	rules     *Rules
	qualifier func(v T) (string, error)
}

func newKeyed[T any](prefix, label string, rules *Rules, qualifier func(v T) (string, error)) *keyedHandler[T] {
	return &keyedHandler[T]{
		base:      base{key: prefix, label: label, singleton: false},
		prefix:    prefix,
		rules:     rules,
		qualifier: qualifier,
	}
}

// QualifiedKey 拼出带限定符的条件 key。
func QualifiedKey(prefix, qualifier string) string {
	return prefix + "|" + qualifier
}

func (h *keyedHandler[T]) owns(key string) bool {
	return strings.HasPrefix(key, h.prefix+"|") && len(key) > len(h.prefix)+1
}

func (h *keyedHandler[T]) Load(key string, raw json.RawMessage, _ []string, _ *domain.Conditions) (domain.Item, error) {
	if !h.owns(key) {
		return nil, nil
	}
	return loadItem[T](key, raw, h.rules)
}

func (h *keyedHandler[T]) Create(ctx context.Context, produce domain.Producer, container *domain.Container, activeKeys []string) {
	log := logger.Ctx(ctx)

	var v T
	if err := decodeOptions(container.Options(), &v); err != nil {
		log.Warn().Err(err).Str("handler", h.key).Msg("invalid creation options, condition not created")
		produce(nil, decline(err, "invalid options for %s", h.key))
		return
	}
	qualifier, err := h.qualifier(v)
	if err != nil {
		log.Warn().Err(err).Str("handler", h.key).Msg("condition not created")
		produce(nil, decline(err, "%s", h.key))
		return
	}
	key := QualifiedKey(h.prefix, qualifier)
	if slices.Contains(activeKeys, key) {
		log.Info().Str("key", key).Msg("condition already active, nothing created")
		produce(nil, errors.Wrapf(domain.ErrConditionDeclined, "%s is already active", key))
		return
	}
	produce(newItem(key, v, h.rules), nil)
}

// decline 把放弃创建的原因包装成 ErrConditionDeclined。
func decline(cause error, format string, args ...any) error {
	return errors.Wrapf(domain.ErrConditionDeclined, "%s: %v", fmt.Sprintf(format, args...), cause)
}
