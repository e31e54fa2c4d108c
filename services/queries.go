package services

import (
	"errors"
	"fmt"

	"github.com/zhifu/funding-pool/models"
	"github.com/zhifu/funding-pool/utils"
	"gorm.io/gorm"
)

// GetCampaign 查询活动详情
func (ps *PoolService) GetCampaign(id uint) (*models.Campaign, error) {
	return ps.loadCampaign(ps.db, id)
}

// GetBalance 查询活动资金台账，无资金变动时返回零值台账
func (ps *PoolService) GetBalance(id uint) (*models.BalanceLedger, error) {
	if _, err := ps.loadCampaign(ps.db, id); err != nil {
		return nil, err
	}
	return ps.loadLedger(ps.db, id)
}

// FundingProgress 筹款进度百分比：totalDonations*100/fundingGoal，目标为零时返回0
func (ps *PoolService) FundingProgress(id uint) (uint64, error) {
	c, err := ps.loadCampaign(ps.db, id)
	if err != nil {
		return 0, err
	}
	if c.FundingGoal == 0 {
		return 0, nil
	}
	bl, err := ps.loadLedger(ps.db, id)
	if err != nil {
		return 0, err
	}
	scaled, err := utils.SafeMul(bl.TotalDonations, 100)
	if err != nil {
		return 0, err
	}
	return scaled / c.FundingGoal, nil
}

// CampaignsByCreator 查询某地址发起的全部活动
func (ps *PoolService) CampaignsByCreator(creator string) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := ps.db.Where("creator = ?", creator).Order("id").Find(&campaigns).Error
	return campaigns, err
}

// CampaignsByDonor 查询某地址捐过款的全部活动
func (ps *PoolService) CampaignsByDonor(donor string) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := ps.db.
		Joins("JOIN donor_records ON donor_records.campaign_id = campaigns.id").
		Where("donor_records.donor = ?", donor).
		Order("campaigns.id").
		Find(&campaigns).Error
	return campaigns, err
}

// GetDonorRecord 查询捐款人在某活动的台账
func (ps *PoolService) GetDonorRecord(id uint, donor string) (*models.DonorRecord, error) {
	if _, err := ps.loadCampaign(ps.db, id); err != nil {
		return nil, err
	}
	var dr models.DonorRecord
	err := ps.db.Where("campaign_id = ? AND donor = ?", id, donor).First(&dr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: donor %s campaign %d", ErrNoDonorRecord, donor, id)
	}
	if err != nil {
		return nil, err
	}
	return &dr, nil
}

// DonorList 查询活动捐款人列表，按首次捐款顺序
func (ps *PoolService) DonorList(id uint) ([]string, error) {
	if _, err := ps.loadCampaign(ps.db, id); err != nil {
		return nil, err
	}
	var donors []string
	err := ps.db.Model(&models.DonorRecord{}).
		Where("campaign_id = ?", id).
		Order("id").
		Pluck("donor", &donors).Error
	return donors, err
}

// IsSuccessful 活动是否已达标
func (ps *PoolService) IsSuccessful(id uint) (bool, error) {
	c, err := ps.loadCampaign(ps.db, id)
	if err != nil {
		return false, err
	}
	return c.Status == models.StatusSuccessful, nil
}

// HasFailed 活动是否已失败
// 与退款路径使用同一判定：已到期未达标的all_or_nothing活动即使尚未落库为failed也视为失败
func (ps *PoolService) HasFailed(id uint) (bool, error) {
	c, err := ps.loadCampaign(ps.db, id)
	if err != nil {
		return false, err
	}
	bl, err := ps.loadLedger(ps.db, id)
	if err != nil {
		return false, err
	}
	return ps.evaluateStatus(c, bl, ps.now()) == models.StatusFailed, nil
}

// CampaignInfo 活动综合信息
type CampaignInfo struct {
	Campaign   models.Campaign      `json:"campaign"`
	Balance    models.BalanceLedger `json:"balance"`
	Progress   uint64               `json:"progress"`
	DonorCount int64                `json:"donor_count"`
	Successful bool                 `json:"successful"`
	Failed     bool                 `json:"failed"`
}

// GetCampaignInfo 汇总查询：活动详情、资金台账、进度、捐款人数与成败判定
func (ps *PoolService) GetCampaignInfo(id uint) (*CampaignInfo, error) {
	c, err := ps.loadCampaign(ps.db, id)
	if err != nil {
		return nil, err
	}
	bl, err := ps.loadLedger(ps.db, id)
	if err != nil {
		return nil, err
	}
	progress, err := ps.FundingProgress(id)
	if err != nil {
		return nil, err
	}
	var donorCount int64
	if err := ps.db.Model(&models.DonorRecord{}).Where("campaign_id = ?", id).Count(&donorCount).Error; err != nil {
		return nil, err
	}
	return &CampaignInfo{
		Campaign:   *c,
		Balance:    *bl,
		Progress:   progress,
		DonorCount: donorCount,
		Successful: c.Status == models.StatusSuccessful,
		Failed:     ps.evaluateStatus(c, bl, ps.now()) == models.StatusFailed,
	}, nil
}
