package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhifu/funding-pool/models"
	"github.com/zhifu/funding-pool/utils"
	"gorm.io/gorm"
)

// 广播事件类型
const (
	EventCampaignCreated  = "campaign_created"
	EventDonationReceived = "donation_received"
	EventGoalReached      = "goal_reached"
	EventStatusChanged    = "status_changed"
	EventRefundClaimed    = "refund_claimed"
	EventFundsWithdrawn   = "funds_withdrawn"
	EventFeesCollected    = "fees_collected"
	EventDisputeFlagged   = "dispute_flagged"
	EventDisputeResolved  = "dispute_resolved"
)

// Limits 平台配置常量，启动时从配置文件加载，运行期间不变
type Limits struct {
	MinFundingPeriod int64  // 最短筹款周期（秒）
	MaxFundingPeriod int64  // 最长筹款周期（秒）
	MinFundingGoal   uint64 // 最低目标金额
	DefaultFeeRateBP uint64 // 默认手续费率（基点）
	MaxFeeRateBP     uint64 // 手续费率上限（基点）
	RefundGrace      int64  // 退款宽限期（秒）
}

type event struct {
	name    string
	payload map[string]interface{}
}

// PoolService 众筹台账核心服务
// 每个入口在单个数据库事务加活动级互斥锁内执行读改写，
// 代币划转失败时整个事务回滚
type PoolService struct {
	db     *gorm.DB
	token  TokenTransferor
	limits Limits

	// 注入的权限判定，与具体身份方案解耦
	isAdmin func(addr string) bool
	isOwner func(addr string) bool

	// 广播回调，由路由层接上websocket集线器
	broadcast func(event string, payload map[string]interface{})

	now func() int64

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewPoolService(db *gorm.DB, token TokenTransferor, limits Limits, isAdmin, isOwner func(addr string) bool) (*PoolService, error) {
	if limits.MaxFeeRateBP > utils.MaxBasisPoints {
		return nil, fmt.Errorf("%w: max fee rate %d", ErrFeeRateTooHigh, limits.MaxFeeRateBP)
	}
	if limits.DefaultFeeRateBP > limits.MaxFeeRateBP {
		return nil, fmt.Errorf("%w: default fee rate %d", ErrFeeRateTooHigh, limits.DefaultFeeRateBP)
	}

	ps := &PoolService{
		db:      db,
		token:   token,
		limits:  limits,
		isAdmin: isAdmin,
		isOwner: isOwner,
		now:     func() int64 { return time.Now().Unix() },
		locks:   make(map[uint]*sync.Mutex),
	}

	// 确保平台配置单行存在
	var setting models.PlatformSetting
	err := db.First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		setting = models.PlatformSetting{FeeRateBP: limits.DefaultFeeRateBP}
		if err := db.Create(&setting).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return ps, nil
}

// SetBroadcast 注册事件广播回调
func (ps *PoolService) SetBroadcast(fn func(event string, payload map[string]interface{})) {
	ps.broadcast = fn
}

// campaignLock 取活动级互斥锁，同一活动的读改写串行化
func (ps *PoolService) campaignLock(id uint) *sync.Mutex {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	l, ok := ps.locks[id]
	if !ok {
		l = &sync.Mutex{}
		ps.locks[id] = l
	}
	return l
}

func (ps *PoolService) emit(events []event) {
	if ps.broadcast == nil {
		return
	}
	for _, e := range events {
		ps.broadcast(e.name, e.payload)
	}
}

func (ps *PoolService) loadSetting(tx *gorm.DB) (*models.PlatformSetting, error) {
	var setting models.PlatformSetting
	if err := tx.First(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

func (ps *PoolService) requireNotPaused(tx *gorm.DB) error {
	setting, err := ps.loadSetting(tx)
	if err != nil {
		return err
	}
	if setting.Paused {
		return ErrPaused
	}
	return nil
}

func (ps *PoolService) loadCampaign(tx *gorm.DB, id uint) (*models.Campaign, error) {
	var c models.Campaign
	if err := tx.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrCampaignNotFound, id)
		}
		return nil, err
	}
	return &c, nil
}

// loadLedger 读取资金台账，尚未有任何资金变动时返回零值台账
func (ps *PoolService) loadLedger(tx *gorm.DB, campaignID uint) (*models.BalanceLedger, error) {
	var bl models.BalanceLedger
	err := tx.Where("campaign_id = ?", campaignID).First(&bl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.BalanceLedger{CampaignID: campaignID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &bl, nil
}

// evaluateStatus 唯一的状态转移判定函数
// 捐款、退款、提取路径都经由这里，避免两套判定逻辑走偏
func (ps *PoolService) evaluateStatus(c *models.Campaign, bl *models.BalanceLedger, now int64) string {
	if c.Status != models.StatusActive {
		return c.Status
	}
	if c.FundingGoal > 0 && bl.TotalDonations >= c.FundingGoal {
		return models.StatusSuccessful
	}
	if c.FundingModel == models.ModelAllOrNothing && now > c.EndTime && bl.TotalDonations < c.FundingGoal {
		return models.StatusFailed
	}
	return models.StatusActive
}

// settleStatus 应用evaluateStatus的判定结果并记录事件
func (ps *PoolService) settleStatus(tx *gorm.DB, c *models.Campaign, bl *models.BalanceLedger, now int64, events *[]event) error {
	next := ps.evaluateStatus(c, bl, now)
	if next == c.Status {
		return nil
	}
	old := c.Status
	c.Status = next
	if err := tx.Model(&models.Campaign{}).Where("id = ?", c.ID).Update("status", next).Error; err != nil {
		return err
	}
	if next == models.StatusSuccessful {
		*events = append(*events, event{EventGoalReached, map[string]interface{}{
			"campaign_id":     c.ID,
			"total_donations": bl.TotalDonations,
			"funding_goal":    c.FundingGoal,
		}})
	}
	*events = append(*events, event{EventStatusChanged, map[string]interface{}{
		"campaign_id": c.ID,
		"old_status":  old,
		"new_status":  next,
	}})
	return nil
}

// CreateCampaignInput 创建活动参数
type CreateCampaignInput struct {
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	URL          string `json:"url"`
	ImageURL     string `json:"image_url"`
	FundingGoal  uint64 `json:"funding_goal"`
	FundingModel string `json:"funding_model"`
	Token        string `json:"token"`
}

// CreateCampaign 创建活动，返回新活动ID
// 手续费率在此刻冻结，之后修改全局费率不影响已创建的活动
func (ps *PoolService) CreateCampaign(ctx context.Context, creator string, in CreateCampaignInput) (uint, error) {
	if in.StartTime >= in.EndTime {
		return 0, fmt.Errorf("%w: start %d >= end %d", ErrInvalidTimeframe, in.StartTime, in.EndTime)
	}
	duration := in.EndTime - in.StartTime
	if duration < ps.limits.MinFundingPeriod || duration > ps.limits.MaxFundingPeriod {
		return 0, fmt.Errorf("%w: duration %ds", ErrInvalidTimeframe, duration)
	}
	if in.FundingGoal < ps.limits.MinFundingGoal {
		return 0, fmt.Errorf("%w: goal %d", ErrGoalTooLow, in.FundingGoal)
	}
	if !models.ValidFundingModel(in.FundingModel) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidModel, in.FundingModel)
	}

	var campaign models.Campaign
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		if err := ps.requireNotPaused(tx); err != nil {
			return err
		}
		// 暂停检查在前：系统暂停期间不向代币网关发起任何外呼
		// 代币地址必须是已部署合约，不能是普通账户
		hasCode, err := ps.token.HasCode(ctx, in.Token)
		if err != nil {
			return err
		}
		if !hasCode {
			return fmt.Errorf("%w: %s", ErrTokenNotContract, in.Token)
		}
		setting, err := ps.loadSetting(tx)
		if err != nil {
			return err
		}
		campaign = models.Campaign{
			Creator:      creator,
			Token:        in.Token,
			Name:         in.Name,
			Description:  in.Description,
			URL:          in.URL,
			ImageURL:     in.ImageURL,
			FundingGoal:  in.FundingGoal,
			FundingModel: in.FundingModel,
			Status:       models.StatusActive,
			StartTime:    in.StartTime,
			EndTime:      in.EndTime,
			FeeRateBP:    setting.FeeRateBP,
		}
		return tx.Create(&campaign).Error
	})
	if err != nil {
		return 0, err
	}

	ps.emit([]event{{EventCampaignCreated, map[string]interface{}{
		"campaign_id":   campaign.ID,
		"creator":       creator,
		"funding_goal":  in.FundingGoal,
		"funding_model": in.FundingModel,
		"token":         in.Token,
	}}})
	return campaign.ID, nil
}

// UpdateCampaignInput 活动展示信息
type UpdateCampaignInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ImageURL    string `json:"image_url"`
}

// UpdateCampaignDetails 更新展示信息，仅限发起人在活动进行中且无争议时
func (ps *PoolService) UpdateCampaignDetails(ctx context.Context, caller string, id uint, in UpdateCampaignInput) error {
	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	return ps.db.Transaction(func(tx *gorm.DB) error {
		if err := ps.requireNotPaused(tx); err != nil {
			return err
		}
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.Creator != caller {
			return fmt.Errorf("%w: campaign %d", ErrNotCreator, id)
		}
		if c.Status != models.StatusActive {
			return fmt.Errorf("%w: campaign %d is %s", ErrCampaignNotActive, id, c.Status)
		}
		if c.Disputed {
			return fmt.Errorf("%w: campaign %d", ErrCampaignDisputed, id)
		}
		return tx.Model(c).Updates(map[string]interface{}{
			"name":        in.Name,
			"description": in.Description,
			"url":         in.URL,
			"image_url":   in.ImageURL,
		}).Error
	})
}

// ChangeEndTime 修改截止时间，新截止时间必须在未来且周期仍在配置边界内
func (ps *PoolService) ChangeEndTime(ctx context.Context, caller string, id uint, newEndTime int64) error {
	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	return ps.db.Transaction(func(tx *gorm.DB) error {
		if err := ps.requireNotPaused(tx); err != nil {
			return err
		}
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.Creator != caller {
			return fmt.Errorf("%w: campaign %d", ErrNotCreator, id)
		}
		if c.Status != models.StatusActive {
			return fmt.Errorf("%w: campaign %d is %s", ErrCampaignNotActive, id, c.Status)
		}
		if c.Disputed {
			return fmt.Errorf("%w: campaign %d", ErrCampaignDisputed, id)
		}
		if newEndTime <= ps.now() {
			return fmt.Errorf("%w: end time %d not in the future", ErrInvalidTimeframe, newEndTime)
		}
		duration := newEndTime - c.StartTime
		if duration < ps.limits.MinFundingPeriod || duration > ps.limits.MaxFundingPeriod {
			return fmt.Errorf("%w: duration %ds", ErrInvalidTimeframe, duration)
		}
		return tx.Model(c).Update("end_time", newEndTime).Error
	})
}

// CancelCampaign 取消活动，仅限进行中且从未收到捐款
func (ps *PoolService) CancelCampaign(ctx context.Context, caller string, id uint) error {
	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	var events []event
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		if err := ps.requireNotPaused(tx); err != nil {
			return err
		}
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.Creator != caller {
			return fmt.Errorf("%w: campaign %d", ErrNotCreator, id)
		}
		if c.Status != models.StatusActive {
			return fmt.Errorf("%w: campaign %d is %s", ErrCampaignNotActive, id, c.Status)
		}
		bl, err := ps.loadLedger(tx, id)
		if err != nil {
			return err
		}
		if bl.TotalDonations > 0 {
			return fmt.Errorf("%w: campaign %d", ErrHasDonations, id)
		}
		if err := tx.Model(c).Update("status", models.StatusDeleted).Error; err != nil {
			return err
		}
		events = append(events, event{EventStatusChanged, map[string]interface{}{
			"campaign_id": id,
			"old_status":  models.StatusActive,
			"new_status":  models.StatusDeleted,
		}})
		return nil
	})
	if err != nil {
		return err
	}
	ps.emit(events)
	return nil
}

// Donate 捐款
// 先从捐款人地址拉取代币，再更新资金台账与捐款人台账，
// 捐款后总额达到目标立即转为successful
func (ps *PoolService) Donate(ctx context.Context, donor string, id uint, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: campaign %d", ErrInvalidAmount, id)
	}

	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	var events []event
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		if err := ps.requireNotPaused(tx); err != nil {
			return err
		}
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.Disputed {
			return fmt.Errorf("%w: campaign %d", ErrCampaignDisputed, id)
		}
		bl, err := ps.loadLedger(tx, id)
		if err != nil {
			return err
		}
		now := ps.now()
		if err := ps.settleStatus(tx, c, bl, now, &events); err != nil {
			return err
		}
		if c.Status != models.StatusActive {
			if c.Status == models.StatusSuccessful {
				return fmt.Errorf("%w: campaign %d", ErrGoalAlreadyMet, id)
			}
			return fmt.Errorf("%w: campaign %d is %s", ErrCampaignNotActive, id, c.Status)
		}

		fee, err := utils.FeeOf(amount, c.FeeRateBP)
		if err != nil {
			return err
		}
		net, err := utils.SafeSub(amount, fee)
		if err != nil {
			return err
		}

		// 外部原子操作：拉取失败则整体回滚
		if err := ps.token.Pull(ctx, c.Token, donor, amount); err != nil {
			return err
		}

		if bl.TotalDonations, err = utils.SafeAdd(bl.TotalDonations, amount); err != nil {
			return err
		}
		if bl.FeeAccrued, err = utils.SafeAdd(bl.FeeAccrued, fee); err != nil {
			return err
		}
		if bl.WithdrawableBalance, err = utils.SafeAdd(bl.WithdrawableBalance, net); err != nil {
			return err
		}
		if err := tx.Save(bl).Error; err != nil {
			return err
		}

		var dr models.DonorRecord
		findErr := tx.Where("campaign_id = ? AND donor = ?", id, donor).First(&dr).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			// 首次捐款，台账行的创建顺序即捐款人列表顺序
			dr = models.DonorRecord{CampaignID: id, Donor: donor, TotalDonated: amount}
			if err := tx.Create(&dr).Error; err != nil {
				return err
			}
		} else if findErr != nil {
			return findErr
		} else {
			if dr.TotalDonated, err = utils.SafeAdd(dr.TotalDonated, amount); err != nil {
				return err
			}
			if err := tx.Save(&dr).Error; err != nil {
				return err
			}
		}

		events = append(events, event{EventDonationReceived, map[string]interface{}{
			"campaign_id": id,
			"donor":       donor,
			"amount":      amount,
			"fee":         fee,
		}})

		// 本次捐款可能触发达标转移
		return ps.settleStatus(tx, c, bl, now, &events)
	})
	if err != nil {
		return err
	}
	ps.emit(events)
	return nil
}

// ClaimRefund 申领退款，返回实际退款金额
// 退款额 = 累计捐款 - 按冻结费率计的手续费 - 已退款额；
// 手续费部分归平台，即使活动失败也不退还
func (ps *PoolService) ClaimRefund(ctx context.Context, donor string, id uint) (uint64, error) {
	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	var refundable uint64
	var events []event
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		if err := ps.requireNotPaused(tx); err != nil {
			return err
		}
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.Disputed {
			return fmt.Errorf("%w: campaign %d", ErrCampaignDisputed, id)
		}
		bl, err := ps.loadLedger(tx, id)
		if err != nil {
			return err
		}
		now := ps.now()
		// 失败转移在退款路径上惰性判定
		if err := ps.settleStatus(tx, c, bl, now, &events); err != nil {
			return err
		}
		if c.Status != models.StatusFailed {
			return fmt.Errorf("%w: campaign %d is %s", ErrNoRefundAvailable, id, c.Status)
		}
		if c.FundingModel != models.ModelAllOrNothing {
			return fmt.Errorf("%w: campaign %d", ErrWrongFundingModel, id)
		}
		if now > c.EndTime+ps.limits.RefundGrace {
			return fmt.Errorf("%w: campaign %d", ErrRefundWindowClosed, id)
		}

		var dr models.DonorRecord
		findErr := tx.Where("campaign_id = ? AND donor = ?", id, donor).First(&dr).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) || (findErr == nil && dr.TotalDonated == 0) {
			return fmt.Errorf("%w: no donation from %s to campaign %d", ErrNoRefundAvailable, donor, id)
		}
		if findErr != nil {
			return findErr
		}

		feeShare, err := utils.FeeOf(dr.TotalDonated, c.FeeRateBP)
		if err != nil {
			return err
		}
		net, err := utils.SafeSub(dr.TotalDonated, feeShare)
		if err != nil {
			return err
		}
		refundable, err = utils.SafeSub(net, dr.RefundClaimed)
		if err != nil {
			return err
		}
		if refundable == 0 {
			return fmt.Errorf("%w: donor %s campaign %d", ErrAlreadyRefunded, donor, id)
		}

		if dr.RefundClaimed, err = utils.SafeAdd(dr.RefundClaimed, refundable); err != nil {
			return err
		}
		if err := tx.Save(&dr).Error; err != nil {
			return err
		}
		if bl.WithdrawableBalance, err = utils.SafeSub(bl.WithdrawableBalance, refundable); err != nil {
			return err
		}
		if err := tx.Save(bl).Error; err != nil {
			return err
		}

		if err := ps.token.Push(ctx, c.Token, donor, refundable); err != nil {
			return err
		}

		events = append(events, event{EventRefundClaimed, map[string]interface{}{
			"campaign_id": id,
			"donor":       donor,
			"amount":      refundable,
		}})
		return nil
	})
	if err != nil {
		return 0, err
	}
	ps.emit(events)
	return refundable, nil
}

// WithdrawFunds 发起人提取资金，返回提取金额
// 条件：活动已达标，或keep_what_you_raise模式且已到期
func (ps *PoolService) WithdrawFunds(ctx context.Context, caller string, id uint) (uint64, error) {
	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	var amount uint64
	var events []event
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		if err := ps.requireNotPaused(tx); err != nil {
			return err
		}
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.Creator != caller {
			return fmt.Errorf("%w: campaign %d", ErrNotCreator, id)
		}
		if c.Disputed {
			return fmt.Errorf("%w: campaign %d", ErrCampaignDisputed, id)
		}
		bl, err := ps.loadLedger(tx, id)
		if err != nil {
			return err
		}
		now := ps.now()
		if err := ps.settleStatus(tx, c, bl, now, &events); err != nil {
			return err
		}

		authorized := c.Status == models.StatusSuccessful ||
			(c.FundingModel == models.ModelKeepWhatYouRaise && now > c.EndTime && c.Status == models.StatusActive)
		if !authorized {
			if c.Status == models.StatusDeleted {
				return fmt.Errorf("%w: campaign %d is deleted", ErrCampaignNotActive, id)
			}
			if now <= c.EndTime {
				return fmt.Errorf("%w: campaign %d ends at %d", ErrDeadlineNotReached, id, c.EndTime)
			}
			return fmt.Errorf("%w: campaign %d", ErrGoalNotReached, id)
		}

		amount = bl.WithdrawableBalance
		if amount == 0 {
			return fmt.Errorf("%w: campaign %d", ErrNoFundsToWithdraw, id)
		}
		bl.WithdrawableBalance = 0
		if err := tx.Save(bl).Error; err != nil {
			return err
		}

		if err := ps.token.Push(ctx, c.Token, c.Creator, amount); err != nil {
			return err
		}

		events = append(events, event{EventFundsWithdrawn, map[string]interface{}{
			"campaign_id": id,
			"creator":     c.Creator,
			"amount":      amount,
		}})
		return nil
	})
	if err != nil {
		return 0, err
	}
	ps.emit(events)
	return amount, nil
}

// FlagDisputed 管理员标记争议，重复标记为幂等无操作
func (ps *PoolService) FlagDisputed(ctx context.Context, caller string, id uint) error {
	if !ps.isAdmin(caller) {
		return ErrNotAdmin
	}

	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	var events []event
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if c.Disputed {
			return nil // 已是争议状态，幂等
		}
		if err := tx.Model(c).Update("disputed", true).Error; err != nil {
			return err
		}
		events = append(events, event{EventDisputeFlagged, map[string]interface{}{
			"campaign_id": id,
		}})
		return nil
	})
	if err != nil {
		return err
	}
	ps.emit(events)
	return nil
}

// ResolveDispute 管理员裁决争议
// 未处于争议状态时为幂等无操作；裁决不利于发起人时活动转为failed（不动资金）
func (ps *PoolService) ResolveDispute(ctx context.Context, caller string, id uint, favorCreator bool) error {
	if !ps.isAdmin(caller) {
		return ErrNotAdmin
	}

	lock := ps.campaignLock(id)
	lock.Lock()
	defer lock.Unlock()

	var events []event
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		c, err := ps.loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if !c.Disputed {
			return nil // 无争议可裁决，幂等
		}
		updates := map[string]interface{}{"disputed": false}
		if !favorCreator && c.Status == models.StatusActive {
			updates["status"] = models.StatusFailed
			events = append(events, event{EventStatusChanged, map[string]interface{}{
				"campaign_id": id,
				"old_status":  models.StatusActive,
				"new_status":  models.StatusFailed,
			}})
		}
		if err := tx.Model(c).Updates(updates).Error; err != nil {
			return err
		}
		events = append(events, event{EventDisputeResolved, map[string]interface{}{
			"campaign_id":   id,
			"favor_creator": favorCreator,
		}})
		return nil
	})
	if err != nil {
		return err
	}
	ps.emit(events)
	return nil
}

// SetPlatformFeeRate 修改全局手续费率，只影响之后创建的活动
func (ps *PoolService) SetPlatformFeeRate(ctx context.Context, caller string, rateBP uint64) error {
	if !ps.isOwner(caller) {
		return ErrNotOwner
	}
	if rateBP > ps.limits.MaxFeeRateBP || rateBP > utils.MaxBasisPoints {
		return fmt.Errorf("%w: %d", ErrFeeRateTooHigh, rateBP)
	}
	return ps.db.Transaction(func(tx *gorm.DB) error {
		setting, err := ps.loadSetting(tx)
		if err != nil {
			return err
		}
		return tx.Model(setting).Update("fee_rate_bp", rateBP).Error
	})
}

// Pause 管理员暂停，所有变更资金状态的入口被拦截
func (ps *PoolService) Pause(ctx context.Context, caller string) error {
	if !ps.isAdmin(caller) {
		return ErrNotAdmin
	}
	return ps.setPaused(true)
}

// Unpause 管理员恢复
func (ps *PoolService) Unpause(ctx context.Context, caller string) error {
	if !ps.isAdmin(caller) {
		return ErrNotAdmin
	}
	return ps.setPaused(false)
}

func (ps *PoolService) setPaused(paused bool) error {
	return ps.db.Transaction(func(tx *gorm.DB) error {
		setting, err := ps.loadSetting(tx)
		if err != nil {
			return err
		}
		return tx.Model(setting).Update("paused", paused).Error
	})
}

// CollectPlatformFees 归集指定代币所有活动的未归集手续费并转给管理员
// 扫描为线性遍历该代币的全部活动；累计应归集为零时不转账也不广播
func (ps *PoolService) CollectPlatformFees(ctx context.Context, caller, token string) (uint64, error) {
	if !ps.isAdmin(caller) {
		return 0, ErrNotAdmin
	}

	// 与捐款/退款/提取共用同一套活动级互斥：先按ID升序取锁再开事务，
	// 避免归集的读改写覆盖并发捐款刚提交的台账
	var ids []uint
	if err := ps.db.Model(&models.Campaign{}).Where("token = ?", token).Order("id").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	for _, id := range ids {
		lock := ps.campaignLock(id)
		lock.Lock()
		defer lock.Unlock()
	}

	var total uint64
	var events []event
	err := ps.db.Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			var bl models.BalanceLedger
			err := tx.Where("campaign_id = ?", id).First(&bl).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			due, err := utils.SafeSub(bl.FeeAccrued, bl.FeeCollected)
			if err != nil {
				return err
			}
			if due == 0 {
				continue
			}
			bl.FeeCollected = bl.FeeAccrued
			if err := tx.Save(&bl).Error; err != nil {
				return err
			}
			if total, err = utils.SafeAdd(total, due); err != nil {
				return err
			}
		}
		if total == 0 {
			return nil
		}

		var account models.TokenFeeAccount
		err := tx.Where("token = ?", token).First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			account = models.TokenFeeAccount{Token: token}
		} else if err != nil {
			return err
		}
		var addErr error
		if account.Collected, addErr = utils.SafeAdd(account.Collected, total); addErr != nil {
			return addErr
		}
		if err := tx.Save(&account).Error; err != nil {
			return err
		}

		if err := ps.token.Push(ctx, token, caller, total); err != nil {
			return err
		}
		events = append(events, event{EventFeesCollected, map[string]interface{}{
			"token":  token,
			"admin":  caller,
			"amount": total,
		}})
		return nil
	})
	if err != nil {
		return 0, err
	}
	ps.emit(events)
	return total, nil
}

// EmergencyWithdraw 紧急提取，仅在系统暂停时可用
// 用于常规路径无法回收的资金（如退款宽限期已过），不触碰任何活动台账
func (ps *PoolService) EmergencyWithdraw(ctx context.Context, caller, token string, amount uint64) error {
	if !ps.isAdmin(caller) {
		return ErrNotAdmin
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	return ps.db.Transaction(func(tx *gorm.DB) error {
		setting, err := ps.loadSetting(tx)
		if err != nil {
			return err
		}
		if !setting.Paused {
			return ErrNotPaused
		}
		if err := ps.token.Push(ctx, token, caller, amount); err != nil {
			return err
		}
		log.Printf("Emergency withdraw: %d of token %s to %s", amount, token, caller)
		return nil
	})
}
