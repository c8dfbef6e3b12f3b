package services

import (
	"context"
	"fmt"

	"github.com/zhifu/donation-flow/models"
)

// 页面中的第三方支付SDK在服务端的能力接口。
// 具体实现由页面桥接（routes.PageSession）提供，测试中使用内存实现。

// PaymentToken 一次性支付令牌
type PaymentToken struct {
	Nonce string `json:"nonce"`
	Type  string `json:"type,omitempty"`
	// Details 渠道附带的信息，如卡尾号、Venmo 用户名
	Details map[string]string `json:"details,omitempty"`
}

// SDKError 第三方SDK返回的错误
type SDKError struct {
	Code             string   `json:"code"`
	Message          string   `json:"message"`
	InvalidFieldKeys []string `json:"invalidFieldKeys,omitempty"`
}

func (e *SDKError) Error() string {
	if e.Message == "" {
		return "sdk error: " + e.Code
	}
	return fmt.Sprintf("sdk error %s: %s", e.Code, e.Message)
}

// GatewayLoader 加载支付网关根客户端（页面中的SDK脚本）
type GatewayLoader func(ctx context.Context) (GatewayClient, error)

// GatewayClient 支付网关根客户端，各渠道组件都由它创建
type GatewayClient interface {
	HostedFields(ctx context.Context, cfg HostedFieldsConfig) (HostedFieldsClient, error)
	PayPalCheckout(ctx context.Context) (PayPalCheckoutClient, error)
	ApplePay(ctx context.Context) (ApplePayClient, error)
	GooglePayment(ctx context.Context, cfg GooglePayConfig) (GooglePayClient, error)
	// Venmo profileID 为空时使用商户默认配置
	Venmo(ctx context.Context, profileID string) (VenmoClient, error)
	DataCollector(ctx context.Context) (DataCollectorClient, error)
}

// HostedFieldsConfig 托管输入框选择器
type HostedFieldsConfig struct {
	Number         string `mapstructure:"number" json:"number"`
	CVV            string `mapstructure:"cvv" json:"cvv"`
	ExpirationDate string `mapstructure:"expiration_date" json:"expirationDate"`
	PostalCode     string `mapstructure:"postal_code" json:"postalCode"`
}

// 托管输入框名称
const (
	FieldNumber         = "number"
	FieldCVV            = "cvv"
	FieldExpirationDate = "expirationDate"
	FieldPostalCode     = "postalCode"
)

// HostedFieldsEventType 托管输入框事件
type HostedFieldsEventType string

const (
	HostedFieldsFocus          HostedFieldsEventType = "focus"
	HostedFieldsBlur           HostedFieldsEventType = "blur"
	HostedFieldsValidityChange HostedFieldsEventType = "validityChange"
)

// FieldState 单个托管输入框状态
type FieldState struct {
	IsEmpty            bool `json:"isEmpty"`
	IsValid            bool `json:"isValid"`
	IsPotentiallyValid bool `json:"isPotentiallyValid"`
	IsFocused          bool `json:"isFocused"`
}

// HostedFieldsEvent 事件参数
type HostedFieldsEvent struct {
	EmittedBy string                `json:"emittedBy"`
	Fields    map[string]FieldState `json:"fields"`
}

// HostedFieldsClient 信用卡托管输入框
type HostedFieldsClient interface {
	On(event HostedFieldsEventType, fn func(HostedFieldsEvent))
	Tokenize(ctx context.Context) (PaymentToken, error)
	// MarkField 设置或清除输入框的错误样式
	MarkField(field string, invalid bool)
}

// PayPalButtonSource PayPal 按钮的数据源，SDK 在点击时读取金额并回调结果
type PayPalButtonSource interface {
	Donation() models.DonationAmount
	// Clicked 打开PayPal窗口前校验，返回错误时SDK不打开窗口
	Clicked(ctx context.Context) error
	Approved(ctx context.Context, token PaymentToken)
	Cancelled(ctx context.Context)
	Failed(ctx context.Context, err error)
}

// PayPalButton 已渲染的按钮
type PayPalButton interface {
	Teardown()
}

// PayPalCheckoutClient PayPal 结账组件
type PayPalCheckoutClient interface {
	RenderButton(ctx context.Context, container string, source PayPalButtonSource) (PayPalButton, error)
}

// ApplePayPaymentRequest Apple Pay 支付请求
type ApplePayPaymentRequest struct {
	CountryCode                   string   `json:"countryCode"`
	CurrencyCode                  string   `json:"currencyCode"`
	MerchantCapabilities          []string `json:"merchantCapabilities"`
	SupportedNetworks             []string `json:"supportedNetworks"`
	RequiredBillingContactFields  []string `json:"requiredBillingContactFields"`
	RequiredShippingContactFields []string `json:"requiredShippingContactFields"`
	Total                         struct {
		Label  string `json:"label"`
		Amount string `json:"amount"`
	} `json:"total"`
}

// ApplePaySessionSource Apple Pay 会话数据源，SDK 授权或取消时回调
type ApplePaySessionSource interface {
	// Authorized 返回nil表示向支付面板报告成功
	Authorized(ctx context.Context, token PaymentToken, contact models.DonorContactInfo) error
	Cancelled(ctx context.Context)
}

// ApplePayClient Apple Pay 组件
type ApplePayClient interface {
	CanMakePayments() bool
	// Begin 必须在用户手势的同一调用中执行，不能等待
	Begin(req ApplePayPaymentRequest, source ApplePaySessionSource) error
}

// GooglePayConfig Google Pay 配置
type GooglePayConfig struct {
	MerchantID  string `mapstructure:"merchant_id" json:"merchantId"`
	Environment string `mapstructure:"environment" json:"environment"` // TEST, PRODUCTION
}

// GooglePayCardParameters 卡参数
type GooglePayCardParameters struct {
	AllowedAuthMethods      []string `json:"allowedAuthMethods"`
	AllowedCardNetworks     []string `json:"allowedCardNetworks"`
	BillingAddressRequired  bool     `json:"billingAddressRequired"`
	BillingAddressParameter struct {
		Format string `json:"format"`
	} `json:"billingAddressParameters"`
}

// GooglePayPaymentMethod 允许的支付方式
type GooglePayPaymentMethod struct {
	Type       string                  `json:"type"`
	Parameters GooglePayCardParameters `json:"parameters"`
}

// GooglePayRequest 支付数据请求
type GooglePayRequest struct {
	APIVersion            int                      `json:"apiVersion"`
	APIVersionMinor       int                      `json:"apiVersionMinor"`
	AllowedPaymentMethods []GooglePayPaymentMethod `json:"allowedPaymentMethods"`
	EmailRequired         bool                     `json:"emailRequired"`
	TransactionInfo       struct {
		CurrencyCode     string `json:"currencyCode"`
		TotalPriceStatus string `json:"totalPriceStatus"`
		TotalPrice       string `json:"totalPrice"`
	} `json:"transactionInfo"`
}

// GooglePayAddress Google 返回的账单地址
type GooglePayAddress struct {
	Name               string `json:"name"`
	Address1           string `json:"address1"`
	Address2           string `json:"address2"`
	Address3           string `json:"address3"`
	Locality           string `json:"locality"`
	AdministrativeArea string `json:"administrativeArea"`
	PostalCode         string `json:"postalCode"`
	CountryCode        string `json:"countryCode"`
}

// GooglePaymentData 用户确认后的支付数据
type GooglePaymentData struct {
	Token          PaymentToken     `json:"token"`
	Email          string           `json:"email"`
	BillingAddress GooglePayAddress `json:"billingAddress"`
}

// GooglePayClient Google Pay 组件
type GooglePayClient interface {
	IsReadyToPay(ctx context.Context, req GooglePayRequest) (bool, error)
	LoadPaymentData(ctx context.Context, req GooglePayRequest) (GooglePaymentData, error)
}

// VenmoClient Venmo 组件
type VenmoClient interface {
	IsBrowserSupported() bool
	// HasTokenizationResult 从 Venmo App 返回时为 true
	HasTokenizationResult() bool
	Tokenize(ctx context.Context) (PaymentToken, error)
}

// DataCollectorClient 设备指纹采集
type DataCollectorClient interface {
	DeviceData(ctx context.Context) (string, error)
}
