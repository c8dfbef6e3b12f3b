package services

import (
	"context"
	"errors"

	"github.com/zhifu/donation-flow/models"
)

var (
	// ErrProviderUnavailable 渠道未配置或当前浏览器不支持，页面应隐藏该选项
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderCancelled 用户在第三方支付界面取消
	ErrProviderCancelled = errors.New("payment cancelled by donor")
	// ErrUpsellNotLinked 接受 upsell 时找不到原始捐款
	ErrUpsellNotLinked = errors.New("upsell accepted without an original donation")
	// ErrRestorationMissing Venmo 返回时没有保存的表单状态
	ErrRestorationMissing = errors.New("no saved donation to resume")
	// ErrUpsellNotInitiatable upsell 只能从 upsell 流程中提交
	ErrUpsellNotInitiatable = errors.New("upsell donations cannot be started directly")
	// ErrSubmissionFailed 提交接口返回非预期响应
	ErrSubmissionFailed = errors.New("donation submission failed")
	// ErrSessionClosed 页面连接已断开（如切换到 Venmo App），SDK 调用没有结果
	ErrSessionClosed = errors.New("page session closed")
)

// SubmissionError 捐款接口返回的业务失败（如卡被拒）
type SubmissionError struct {
	Record models.ErrorRecord
}

func (e *SubmissionError) Error() string {
	if e.Record.Message == "" {
		return ErrSubmissionFailed.Error()
	}
	return e.Record.Message
}

func (e *SubmissionError) Unwrap() error { return ErrSubmissionFailed }

// Kind 错误分类，用于日志和页面通信
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrAmountTooLow),
		errors.Is(err, models.ErrAmountTooHigh):
		return "invalid_amount"

	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"

	case errors.Is(err, ErrProviderCancelled):
		return "cancelled"

	case errors.Is(err, ErrUpsellNotLinked),
		errors.Is(err, ErrRestorationMissing),
		errors.Is(err, ErrUpsellNotInitiatable):
		return "unrecoverable_state"

	case errors.Is(err, ErrSubmissionFailed):
		return "submission"

	case errors.Is(err, ErrSessionClosed):
		return "session_closed"

	case errors.As(err, new(*SDKError)):
		return "tokenization"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// 页面展示给捐赠人的通用错误文案
const (
	genericErrorMessage     = "Something went wrong while processing your donation. Please try again."
	unrecoverableMessage    = "We couldn't restore your donation details. If you completed a payment, you will receive a receipt by email; otherwise please start again."
	upsellUnlinkedMessage   = "Your original donation was received, but we couldn't set up the monthly gift. Please contact us to complete it."
	amountTooLowMessage     = "The minimum donation is $1."
	amountTooHighMessage    = "Donations must be less than $10,000."
	invalidAmountMessage    = "Please enter a valid donation amount."
	providerFailedMessage   = "This payment method is temporarily unavailable. Please choose another one."
	restartDonationMessage  = "Please start your donation again."
	submissionFailedMessage = "We couldn't reach our donation service. Please try again."
)

// userMessage 将错误转换为可展示文案
func userMessage(err error) string {
	var subErr *SubmissionError
	if errors.As(err, &subErr) && subErr.Record.Message != "" {
		return subErr.Record.Message
	}
	switch {
	case errors.Is(err, models.ErrAmountTooLow):
		return amountTooLowMessage
	case errors.Is(err, models.ErrAmountTooHigh):
		return amountTooHighMessage
	case errors.Is(err, models.ErrInvalidAmount):
		return invalidAmountMessage
	case errors.Is(err, ErrUpsellNotLinked):
		return upsellUnlinkedMessage
	case errors.Is(err, ErrRestorationMissing):
		return unrecoverableMessage
	case errors.Is(err, ErrUpsellNotInitiatable):
		return restartDonationMessage
	case errors.Is(err, ErrProviderUnavailable):
		return providerFailedMessage
	case errors.Is(err, ErrSubmissionFailed):
		return submissionFailedMessage
	default:
		return genericErrorMessage
	}
}
