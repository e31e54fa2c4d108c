package services

import (
	"errors"

	"github.com/zhifu/funding-pool/utils"
)

// 授权类错误
var (
	ErrNotCreator = errors.New("caller is not the campaign creator")
	ErrNotAdmin   = errors.New("caller is not an admin")
	ErrNotOwner   = errors.New("caller is not the owner")
)

// 参数类错误
var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrInvalidTimeframe = errors.New("invalid campaign timeframe")
	ErrGoalTooLow       = errors.New("funding goal below minimum")
	ErrInvalidModel     = errors.New("unknown funding model")
	ErrFeeRateTooHigh   = errors.New("fee rate exceeds maximum")
	ErrTokenNotContract = errors.New("token address is not a contract")
)

// 状态类错误
var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrNoDonorRecord     = errors.New("no donor record for campaign")
	ErrCampaignNotActive = errors.New("campaign is not active")
	ErrCampaignDisputed  = errors.New("campaign is disputed")
	ErrGoalAlreadyMet    = errors.New("funding goal already met")
	ErrPaused            = errors.New("system is paused")
	ErrNotPaused         = errors.New("system is not paused")
	ErrHasDonations      = errors.New("campaign has received donations")
	ErrNoFundsToWithdraw = errors.New("no funds to withdraw")
	ErrNoRefundAvailable = errors.New("no refund available")
	ErrAlreadyRefunded   = errors.New("donation already fully refunded")
	ErrWrongFundingModel = errors.New("funding model does not allow refunds")
)

// 时间类错误
var (
	ErrDeadlineNotReached = errors.New("deadline not reached")
	ErrGoalNotReached     = errors.New("funding goal not reached")
	ErrRefundWindowClosed = errors.New("refund window expired")
)

// IsAuthorizationErr 授权失败，映射到 403
func IsAuthorizationErr(err error) bool {
	return errors.Is(err, ErrNotCreator) || errors.Is(err, ErrNotAdmin) || errors.Is(err, ErrNotOwner)
}

// IsInvalidInputErr 参数非法，映射到 400
func IsInvalidInputErr(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidTimeframe) ||
		errors.Is(err, ErrGoalTooLow) || errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrFeeRateTooHigh) || errors.Is(err, ErrTokenNotContract)
}

// IsNotFoundErr 资源不存在，映射到 404
func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrCampaignNotFound) || errors.Is(err, ErrNoDonorRecord)
}

// IsConservationErr 算术溢出，映射到 500
func IsConservationErr(err error) bool {
	return errors.Is(err, utils.ErrOverflow) || errors.Is(err, utils.ErrUnderflow)
}
