package models

import (
	"time"
)

// BalanceLedger 活动资金台账（每个活动一条）
// 不变量：TotalDonations - FeeAccrued == WithdrawableBalance + 已提取/已退款总额
type BalanceLedger struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	CampaignID          uint      `gorm:"uniqueIndex" json:"campaign_id"`
	TotalDonations      uint64    `json:"total_donations"`      // 累计捐款总额（只增）
	FeeAccrued          uint64    `json:"fee_accrued"`          // 累计应收手续费（只增）
	FeeCollected        uint64    `json:"fee_collected"`        // 累计已归集手续费（只增，<= FeeAccrued）
	WithdrawableBalance uint64    `json:"withdrawable_balance"` // 当前可提取余额
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DonorRecord 捐款人台账（每个捐款人每个活动一条，按ID顺序即首捐顺序）
type DonorRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CampaignID    uint      `gorm:"index:idx_donor_campaign,unique" json:"campaign_id"`
	Donor         string    `gorm:"size:64;index:idx_donor_campaign,unique;index" json:"donor"`
	TotalDonated  uint64    `json:"total_donated"`  // 累计捐款
	RefundClaimed uint64    `json:"refund_claimed"` // 累计已退款
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TokenFeeAccount 按代币统计的平台手续费归集账户
type TokenFeeAccount struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"size:64;uniqueIndex" json:"token"`
	Collected uint64    `json:"collected"` // 该代币累计已归集手续费
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
