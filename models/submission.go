package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider 支付渠道
type Provider string

const (
	ProviderCreditCard Provider = "credit-card"
	ProviderPayPal     Provider = "paypal"
	ProviderVenmo      Provider = "venmo"
	ProviderApplePay   Provider = "apple-pay"
	ProviderGooglePay  Provider = "google-pay"
)

// Providers 所有渠道，按表单展示顺序
var Providers = []Provider{
	ProviderCreditCard,
	ProviderPayPal,
	ProviderVenmo,
	ProviderApplePay,
	ProviderGooglePay,
}

// CustomFields 后端附加字段
type CustomFields struct {
	Referrer         string  `json:"referrer"`
	LoggedInUser     string  `json:"loggedInUser"`
	FeeAmountCovered float64 `json:"feeAmountCovered"`
}

// SubmissionRequest 提交到捐款接口的请求体
type SubmissionRequest struct {
	PaymentToken          string         `json:"paymentToken"`
	Provider              Provider       `json:"provider"`
	Amount                float64        `json:"amount"`
	DonationType          DonationType   `json:"donationType"`
	Customer              Customer       `json:"customer"`
	Billing               BillingAddress `json:"billing"`
	CustomFields          CustomFields   `json:"customFields"`
	DeviceData            string         `json:"deviceData,omitempty"`
	RecaptchaToken        string         `json:"recaptchaToken,omitempty"`
	OriginalTransactionID string         `json:"originalTransactionId,omitempty"`
}

// SuccessRecord 成功结果
type SuccessRecord struct {
	TransactionID string         `json:"transactionId"`
	CustomerID    string         `json:"customerId"`
	Customer      Customer       `json:"customer"`
	Billing       BillingAddress `json:"billing"`
}

// CodedError 后端返回的子错误
type CodedError struct {
	Code      string `json:"code"`
	Attribute string `json:"attribute,omitempty"`
	Message   string `json:"message"`
}

// ErrorRecord 失败结果
type ErrorRecord struct {
	Message string       `json:"message"`
	Errors  []CodedError `json:"errors,omitempty"`
}

// SubmissionResult 提交结果，Success 决定 Value 的类型
type SubmissionResult struct {
	Success bool
	Value   SuccessRecord
	Error   ErrorRecord
}

// Succeeded 构造成功结果
func Succeeded(v SuccessRecord) SubmissionResult {
	return SubmissionResult{Success: true, Value: v}
}

// Failed 构造失败结果
func Failed(message string, errs ...CodedError) SubmissionResult {
	return SubmissionResult{Error: ErrorRecord{Message: message, Errors: errs}}
}

type submissionEnvelope struct {
	Success bool            `json:"success"`
	Value   json.RawMessage `json:"value"`
}

func (r SubmissionResult) MarshalJSON() ([]byte, error) {
	var (
		value []byte
		err   error
	)
	if r.Success {
		value, err = json.Marshal(r.Value)
	} else {
		value, err = json.Marshal(r.Error)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(submissionEnvelope{Success: r.Success, Value: value})
}

func (r *SubmissionResult) UnmarshalJSON(data []byte) error {
	var env submissionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*r = SubmissionResult{Success: env.Success}
	if len(env.Value) == 0 || string(env.Value) == "null" {
		if env.Success {
			return fmt.Errorf("submission result: success without value")
		}
		return nil
	}
	if env.Success {
		return json.Unmarshal(env.Value, &r.Value)
	}
	return json.Unmarshal(env.Value, &r.Error)
}

// UpsellResource upsell 流程中独立创建的支付资源（如第二个 PayPal 按钮）
type UpsellResource interface {
	Teardown()
}

// UpsellLinkage 原始单次捐款与 upsell 资源的绑定
type UpsellLinkage struct {
	Original SuccessRecord
	Resource UpsellResource
}

// Destroy 释放 upsell 资源
func (l *UpsellLinkage) Destroy() {
	if l == nil || l.Resource == nil {
		return
	}
	l.Resource.Teardown()
	l.Resource = nil
}

// DonationCompletion 完成通知，Upsell 可为空
type DonationCompletion struct {
	Provider Provider
	Donation DonationAmount
	Result   SuccessRecord
	Upsell   *SuccessRecord
	// UpsellAmount 仅在 Upsell 非空时有效
	UpsellAmount float64
	CompletedAt  time.Time
}
