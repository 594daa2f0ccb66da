package models

import (
	"time"
)

/*
Timestamps 模型公共时间戳
功能：由 GORM 自动维护创建与更新时间
*/
type Timestamps struct {
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}
