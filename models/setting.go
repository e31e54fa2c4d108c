package models

import (
	"time"
)

// PlatformSetting 平台运行时配置（单行）
type PlatformSetting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FeeRateBP uint64    `json:"fee_rate_bp"` // 当前全局手续费率（基点），只影响之后创建的活动
	Paused    bool      `json:"paused"`      // 全局暂停开关
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
