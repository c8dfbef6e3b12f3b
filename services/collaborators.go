package services

import (
	"context"
	"time"

	"github.com/zhifu/donation-flow/models"
)

// ModalKind 弹窗类型
type ModalKind string

const (
	ModalProcessing ModalKind = "processing"
	ModalThankYou   ModalKind = "thank-you"
	ModalError      ModalKind = "error"
	ModalUpsell     ModalKind = "upsell"
)

// ModalConfig 弹窗外壳配置
type ModalConfig struct {
	Kind            ModalKind `json:"kind"`
	Dismissable     bool      `json:"dismissable"`
	ShowCloseButton bool      `json:"showCloseButton"`
	// OnDismissed 用户关闭弹窗时调用
	OnDismissed func() `json:"-"`
}

// UpsellContent upsell 弹窗内容
type UpsellContent struct {
	OneTimeAmount   float64 `json:"oneTimeAmount"`
	SuggestedAmount float64 `json:"suggestedAmount"`
	// ButtonContainer 非空时由渠道按钮（PayPal）代替确认按钮
	ButtonContainer string `json:"buttonContainer,omitempty"`

	OnConfirm       func(amount string) error `json:"-"`
	OnDecline       func()                    `json:"-"`
	OnAmountChanged func(amount string) error `json:"-"`
}

// ThankYouContent 感谢弹窗内容
type ThankYouContent struct {
	TransactionID       string  `json:"transactionId"`
	FirstName           string  `json:"firstName"`
	Amount              float64 `json:"amount"`
	UpsellTransactionID string  `json:"upsellTransactionId,omitempty"`
	UpsellAmount        float64 `json:"upsellAmount,omitempty"`
}

// ModalContent 弹窗内容，由核心决定，渲染由页面负责
type ModalContent struct {
	Title    string           `json:"title,omitempty"`
	Message  string           `json:"message,omitempty"`
	Upsell   *UpsellContent   `json:"upsell,omitempty"`
	ThankYou *ThankYouContent `json:"thankYou,omitempty"`
}

// ModalPresenter 弹窗外壳
type ModalPresenter interface {
	ShowModal(cfg ModalConfig, content ModalContent)
	CloseModal()
}

// FormFeedback 表单内联提示
type FormFeedback interface {
	SetSubmitEnabled(provider models.Provider, enabled bool)
	ShowInlineError(field, message string)
	ClearInlineError(field string)
}

// ChallengeTokenClient 人机验证
type ChallengeTokenClient interface {
	Execute(ctx context.Context) (string, error)
}

// CompletionCollaborator 负责实际的HTTP提交和捐款完成后的跳转
type CompletionCollaborator interface {
	SubmitData(ctx context.Context, req models.SubmissionRequest) (models.SubmissionResult, error)
	DonationSuccessful(ctx context.Context, completion models.DonationCompletion) error
}

// RestorationStore 跨标签页恢复表单状态的持久化存储
type RestorationStore interface {
	Put(ctx context.Context, snapshot models.RestorationSnapshot) error
	Get(ctx context.Context, key string) (models.RestorationSnapshot, bool, error)
	Clear(ctx context.Context, key string) error
}

// SessionInfo 当前页面会话的信息
type SessionInfo struct {
	// RestorationKey 同一捐赠人跨标签页保持不变（cookie）
	RestorationKey string
	Referrer       string
	LoggedInUser   string
	UserAgent      string
	PageURL        string
}

// Config 支付流程配置
type Config struct {
	Fees         models.FeeSchedule `mapstructure:"fees"`
	HostedFields HostedFieldsConfig `mapstructure:"hosted_fields"`
	GooglePay    GooglePayConfig    `mapstructure:"google_pay"`
	Venmo        struct {
		ProfileID string `mapstructure:"profile_id"`
	} `mapstructure:"venmo"`
	ApplePay struct {
		DisplayName string `mapstructure:"display_name"`
	} `mapstructure:"apple_pay"`
	PayPal struct {
		UpsellContainer string `mapstructure:"upsell_container"`
	} `mapstructure:"paypal"`
	Transport TransportConfig `mapstructure:"transport"`
	// RecaptchaEnabled 关闭时信用卡提交不带验证令牌
	RecaptchaEnabled bool `mapstructure:"recaptcha_enabled"`
	// RestorationTTL Venmo 表单快照保留时长
	RestorationTTL time.Duration `mapstructure:"restoration_ttl"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	cfg := Config{
		Fees: models.DefaultFeeSchedule,
		HostedFields: HostedFieldsConfig{
			Number:         "#card-number",
			CVV:            "#cvv",
			ExpirationDate: "#expiration-date",
			PostalCode:     "#postal-code",
		},
		GooglePay:        GooglePayConfig{Environment: "TEST"},
		RecaptchaEnabled: true,
		RestorationTTL:   time.Hour,
	}
	cfg.Transport = TransportConfig{
		SubmitURL:   "http://localhost:8081/donations",
		ThankYouURL: "/thank-you",
		Timeout:     30 * time.Second,
	}
	cfg.ApplePay.DisplayName = "Donation"
	cfg.PayPal.UpsellContainer = "#upsell-paypal-button"
	return cfg
}

// PaymentEvent 页面发起支付的事件
type PaymentEvent struct {
	Provider models.Provider          `json:"provider"`
	Donation models.DonationAmount    `json:"donation"`
	Contact  *models.DonorContactInfo `json:"contact,omitempty"`
}
