package infrastructure

import (
	"time"
)

// ProductStreamModel 对应数据库中的 s_product_streams 表
type ProductStreamModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:255;uniqueIndex"`
	Description string `gorm:"type:text"`
	Conditions  string `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProductStreamModel) TableName() string {
	return "s_product_streams"
}
