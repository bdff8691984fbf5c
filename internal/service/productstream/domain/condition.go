// internal/service/productstream/domain/condition.go
package domain

import (
	"context"
	"encoding/json"
	"strings"
)

// ConditionPrefix 是条件字段名的命名空间前缀，序列化时会被剥离。
const ConditionPrefix = "condition."

// Item 是某个条件处理器产出的可编辑载荷。
type Item interface {
	// Name 返回带命名空间的字段名，例如 "condition.price"
	Name() string
	// Value 返回当前载荷，序列化时以 JSON 形式落盘
	Value() any
	// Update 用一段 JSON 替换当前载荷（即用户的一次编辑）
	Update(raw json.RawMessage) error
	// Validate 执行处理器定义的字段级校验规则
	Validate() error
}

// Producer 是 Handler.Create 的回调，最多生效一次。
// err 不为空表示处理器放弃创建（参数非法、条件已存在、远程校验未通过等），此时 item 被忽略。
type Producer func(item Item, err error)

// Handler 描述了一种条件类型：标识、标签、单例策略以及加载/创建行为。
// 内置处理器在 condition 包中注册，新增类型只需实现此接口，无需修改会话。
type Handler interface {
	Key() string
	Label() string
	IsSingleton() bool

	// Load 尝试把一条已存储的条件还原为可编辑载荷。
	// 返回 (nil, nil) 表示"不是我的 key"；返回错误表示 key 属于自己但值已损坏。
	Load(key string, raw json.RawMessage, activeKeys []string, stored *Conditions) (Item, error)

	// Create 为一个新容器生产载荷。produce 可能被同步调用、稍后调用，或者根本不调用。
	// 放弃创建时应以 ErrConditionDeclined 包装原因回调 produce。
	Create(ctx context.Context, produce Producer, container *Container, activeKeys []string)
}

// KeyOf 把带命名空间的字段名还原为条件 key。
// 第二个返回值为 false 说明该字段不属于条件命名空间。
func KeyOf(name string) (string, bool) {
	if !strings.HasPrefix(name, ConditionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, ConditionPrefix), true
}

// FieldName 是 KeyOf 的逆操作。
func FieldName(key string) string {
	return ConditionPrefix + key
}
