package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/zhifu/donation-flow/models"
)

// TokenizationFailure 信用卡令牌化失败分类
type TokenizationFailure string

const (
	FailureEmptyFields            TokenizationFailure = "empty-fields"
	FailureInvalidFields          TokenizationFailure = "invalid-fields"
	FailureDuplicatePaymentMethod TokenizationFailure = "duplicate-payment-method"
	FailureCVVVerification        TokenizationFailure = "cvv-verification-failed"
	FailureTokenization           TokenizationFailure = "generic-tokenization-failure"
	FailureNetwork                TokenizationFailure = "network-error"
)

// CardField 没有具体输入框可标记时使用的提示位置
const CardField = "card"

// SDK 错误码
const (
	codeFieldsEmpty        = "HOSTED_FIELDS_FIELDS_EMPTY"
	codeFieldsInvalid      = "HOSTED_FIELDS_FIELDS_INVALID"
	codeDuplicate          = "HOSTED_FIELDS_TOKENIZATION_FAIL_ON_DUPLICATE"
	codeCVVFailed          = "HOSTED_FIELDS_TOKENIZATION_CVV_VERIFICATION_FAILED"
	codeFailedTokenization = "HOSTED_FIELDS_FAILED_TOKENIZATION"
	codeNetworkError       = "HOSTED_FIELDS_TOKENIZATION_NETWORK_ERROR"
)

var tokenizationMessages = map[TokenizationFailure]string{
	FailureEmptyFields:            "Please fill out your card details.",
	FailureInvalidFields:          "Some of your card details are invalid.",
	FailureDuplicatePaymentMethod: "This card is already on file.",
	FailureCVVVerification:        "The security code could not be verified.",
	FailureTokenization:           "We couldn't verify your card. Please check the details and try again.",
	FailureNetwork:                "A network error occurred. Please try again.",
}

// ClassifyTokenizationError 把 SDK 错误码映射到失败分类，并给出需要标记的输入框
func ClassifyTokenizationError(err error, configured []string) (TokenizationFailure, []string) {
	var sdkErr *SDKError
	if !errors.As(err, &sdkErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return FailureNetwork, nil
		}
		return FailureTokenization, nil
	}
	switch sdkErr.Code {
	case codeFieldsEmpty:
		return FailureEmptyFields, configured
	case codeFieldsInvalid:
		return FailureInvalidFields, sdkErr.InvalidFieldKeys
	case codeDuplicate:
		return FailureDuplicatePaymentMethod, []string{FieldNumber}
	case codeCVVFailed:
		return FailureCVVVerification, []string{FieldCVV}
	case codeNetworkError:
		return FailureNetwork, nil
	case codeFailedTokenization:
		return FailureTokenization, nil
	default:
		return FailureTokenization, nil
	}
}

// CreditCardHandler 托管输入框 + 人机验证
type CreditCardHandler struct {
	flowBase
	fields    HostedFieldsClient
	challenge ChallengeTokenClient
	// configured 已配置选择器的输入框
	configured []string

	mu     sync.Mutex
	states map[string]FieldState
}

func newCreditCardHandler(base flowBase, fields HostedFieldsClient, cfg HostedFieldsConfig, challenge ChallengeTokenClient) *CreditCardHandler {
	h := &CreditCardHandler{
		flowBase:  base,
		fields:    fields,
		challenge: challenge,
		states:    make(map[string]FieldState),
	}
	for _, f := range []struct{ name, selector string }{
		{FieldNumber, cfg.Number},
		{FieldCVV, cfg.CVV},
		{FieldExpirationDate, cfg.ExpirationDate},
		{FieldPostalCode, cfg.PostalCode},
	} {
		if f.selector != "" {
			h.configured = append(h.configured, f.name)
		}
	}
	h.bindEvents()
	return h
}

func (h *CreditCardHandler) bindEvents() {
	h.fields.On(HostedFieldsFocus, h.onFocus)
	h.fields.On(HostedFieldsBlur, h.onBlur)
	h.fields.On(HostedFieldsValidityChange, h.onValidityChange)
}

func (h *CreditCardHandler) onFocus(e HostedFieldsEvent) {
	h.fields.MarkField(e.EmittedBy, false)
	if h.feedback != nil {
		h.feedback.ClearInlineError(e.EmittedBy)
	}
}

func (h *CreditCardHandler) onBlur(e HostedFieldsEvent) {
	st, ok := e.Fields[e.EmittedBy]
	if !ok {
		return
	}
	if st.IsEmpty || !st.IsValid {
		h.fields.MarkField(e.EmittedBy, true)
	}
}

func (h *CreditCardHandler) onValidityChange(e HostedFieldsEvent) {
	h.mu.Lock()
	for name, st := range e.Fields {
		h.states[name] = st
	}
	valid := len(h.configured) > 0
	for _, name := range h.configured {
		if !h.states[name].IsValid {
			valid = false
			break
		}
	}
	h.mu.Unlock()

	if h.feedback != nil {
		h.feedback.SetSubmitEnabled(h.provider, valid)
	}
}

// PaymentInitiated 令牌化 → 人机验证 → 提交
func (h *CreditCardHandler) PaymentInitiated(ctx context.Context, donation models.DonationAmount, contact *models.DonorContactInfo) {
	defer h.recoverFlow()
	if err := h.validate(donation); err != nil {
		return
	}

	token, err := h.fields.Tokenize(ctx)
	if err != nil {
		h.tokenizationFailed(err)
		return
	}

	var recaptcha string
	if h.challenge != nil {
		recaptcha, err = h.challenge.Execute(ctx)
		if err != nil {
			log.Printf("Warning: recaptcha challenge failed: %v", err)
			h.modals.ShowErrorModal(genericErrorMessage, h.reenableSubmit)
			return
		}
	}

	if h.feedback != nil {
		h.feedback.SetSubmitEnabled(h.provider, false)
	}
	h.submitToken(ctx, donation, contactOrEmpty(contact), token, recaptcha, h.reenableSubmit)
}

func (h *CreditCardHandler) reenableSubmit() {
	if h.feedback != nil {
		h.feedback.SetSubmitEnabled(h.provider, true)
	}
}

// tokenizationFailed 只标记相关输入框，不弹窗
func (h *CreditCardHandler) tokenizationFailed(err error) {
	failure, fields := ClassifyTokenizationError(err, h.configured)
	log.Printf("DEBUG: card tokenization failed (%s): %v", failure, err)

	message := tokenizationMessages[failure]
	if len(fields) == 0 {
		if h.feedback != nil {
			h.feedback.ShowInlineError(CardField, message)
		}
		return
	}
	for _, f := range fields {
		h.fields.MarkField(f, true)
		if h.feedback != nil {
			h.feedback.ShowInlineError(f, message)
		}
	}
}
