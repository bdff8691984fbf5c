// internal/service/productstream/domain/stream.go
package domain

import (
	"strings"
	"time"
)

// Record 是会话加载时读取的持久化记录边界。
// 会话只读取它，从不持有或修改它。
type Record interface {
	// Conditions 返回已存储的条件映射，可以为空
	Conditions() *Conditions
	// ID 返回稳定标识；第二个返回值为 false 表示这是一个尚未保存的新规则集
	ID() (int64, bool)
}

// ProductStream 是商品流（一组筛选条件）的聚合根。
type ProductStream struct {
	StreamID    int64 // 0 表示尚未保存
	Name        string
	Description string
	Filters     *Conditions
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewProductStream 创建一个空的、未保存的商品流。
func NewProductStream() *ProductStream {
	return &ProductStream{Filters: NewConditions()}
}

func (s *ProductStream) Conditions() *Conditions {
	if s.Filters == nil {
		s.Filters = NewConditions()
	}
	return s.Filters
}

func (s *ProductStream) ID() (int64, bool) {
	return s.StreamID, s.StreamID > 0
}

// Rename 更新名称和描述，名称不能为空。
func (s *ProductStream) Rename(name, description string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrStreamNameRequired
	}
	s.Name = name
	s.Description = description
	s.UpdatedAt = time.Now()
	return nil
}

// ReplaceConditions 用会话序列化的结果覆盖已存储的条件。
func (s *ProductStream) ReplaceConditions(c *Conditions) {
	s.Filters = c.Clone()
	s.UpdatedAt = time.Now()
}
