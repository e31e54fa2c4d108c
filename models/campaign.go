package models

import (
	"time"
)

// 筹款模式
const (
	ModelAllOrNothing     = "all_or_nothing"      // 达标才放款，失败可退款
	ModelKeepWhatYouRaise = "keep_what_you_raise" // 到期后全额提取，无退款
)

// 活动状态
const (
	StatusActive     = "active"     // 进行中
	StatusSuccessful = "successful" // 已达标
	StatusFailed     = "failed"     // 已失败
	StatusDeleted    = "deleted"    // 已取消
)

// Campaign 众筹活动
type Campaign struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Creator      string    `gorm:"size:64;index" json:"creator"` // 发起人地址
	Token        string    `gorm:"size:64;index" json:"token"`   // 代币合约地址
	Name         string    `gorm:"size:100" json:"name"`
	Description  string    `gorm:"size:1000" json:"description"`
	URL          string    `gorm:"size:200" json:"url"`
	ImageURL     string    `gorm:"size:200" json:"image_url"`
	FundingGoal  uint64    `json:"funding_goal"`                  // 目标金额（代币最小单位）
	FundingModel string    `gorm:"size:30" json:"funding_model"`  // all_or_nothing, keep_what_you_raise
	Status       string    `gorm:"size:20;index" json:"status"`   // active, successful, failed, deleted
	StartTime    int64     `json:"start_time"`                    // unix秒
	EndTime      int64     `json:"end_time"`                      // unix秒
	FeeRateBP    uint64    `json:"fee_rate_bp"`                   // 创建时冻结的手续费率（基点）
	Disputed     bool      `gorm:"index" json:"disputed"`         // 争议标记
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsTerminal 判断状态是否为终态
func IsTerminal(status string) bool {
	return status == StatusSuccessful || status == StatusFailed || status == StatusDeleted
}

// ValidFundingModel 判断筹款模式是否合法
func ValidFundingModel(model string) bool {
	return model == ModelAllOrNothing || model == ModelKeepWhatYouRaise
}
