package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/zhifu/donation-flow/models"
)

// ErrNoUserGesture Apple Pay 只能在用户点击的同一事件中开始
var ErrNoUserGesture = errors.New("apple pay session must start from a user gesture")

// UserGesture 触发 Apple Pay 的页面事件
type UserGesture struct {
	Type      string `json:"type"`
	IsTrusted bool   `json:"isTrusted"`
}

// PaymentSessionDelegate Apple Pay 会话结果回调，是该渠道弹窗流程的唯一驱动
type PaymentSessionDelegate interface {
	PaymentComplete(ctx context.Context, session *ApplePaySession, result models.SuccessRecord)
	PaymentFailed(ctx context.Context, session *ApplePaySession, err error)
	PaymentCancelled(ctx context.Context, session *ApplePaySession)
}

// ApplePaySession 一次 Apple Pay 支付面板的数据源
type ApplePaySession struct {
	gateway  *PaymentGatewayManager
	modals   *DonationFlowModalManager
	delegate PaymentSessionDelegate
	donation models.DonationAmount
	request  ApplePayPaymentRequest

	mu       sync.Mutex
	finished bool
}

// Donation 会话对应的捐款
func (s *ApplePaySession) Donation() models.DonationAmount {
	return s.donation
}

// Request 提交给支付面板的请求
func (s *ApplePaySession) Request() ApplePayPaymentRequest {
	return s.request
}

// finish 会话只结束一次
func (s *ApplePaySession) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	return true
}

// Authorized 捐赠人在面板中授权；返回nil时面板显示成功
func (s *ApplePaySession) Authorized(ctx context.Context, token PaymentToken, contact models.DonorContactInfo) error {
	if !s.finish() {
		return errors.New("apple pay session already finished")
	}
	s.modals.ShowProcessingModal()

	req := s.gateway.BuildRequest(models.ProviderApplePay, token, s.donation, contact)
	result, err := s.gateway.SubmitDonation(ctx, req)
	if err == nil && !result.Success {
		err = &SubmissionError{Record: result.Error}
	}
	if err != nil {
		s.delegate.PaymentFailed(ctx, s, err)
		return err
	}
	s.delegate.PaymentComplete(ctx, s, result.Value)
	return nil
}

// Cancelled 捐赠人关闭面板
func (s *ApplePaySession) Cancelled(ctx context.Context) {
	if !s.finish() {
		return
	}
	s.delegate.PaymentCancelled(ctx, s)
}

// ApplePayHandler Apple Pay 流程
type ApplePayHandler struct {
	flowBase
	client      ApplePayClient
	displayName string
}

func newApplePayHandler(base flowBase, client ApplePayClient, displayName string) *ApplePayHandler {
	return &ApplePayHandler{
		flowBase:    base,
		client:      client,
		displayName: displayName,
	}
}

// Available 设备支持 Apple Pay
func (h *ApplePayHandler) Available(context.Context) bool {
	return h.client.CanMakePayments()
}

// PrepareSession 点击之前准备会话和支付请求；页面在点击事件中直接用该请求
// 同步打开支付面板，中间不能有网络往返
func (h *ApplePayHandler) PrepareSession(donation models.DonationAmount) (*ApplePaySession, error) {
	if err := h.validate(donation); err != nil {
		return nil, err
	}
	return &ApplePaySession{
		gateway:  h.gateway,
		modals:   h.modals,
		delegate: h,
		donation: donation,
		request:  h.paymentRequest(donation),
	}, nil
}

// CreatePaymentRequest 同步创建并开始会话，不能在中间等待
func (h *ApplePayHandler) CreatePaymentRequest(gesture UserGesture, donation models.DonationAmount) (*ApplePaySession, error) {
	if !gesture.IsTrusted {
		return nil, ErrNoUserGesture
	}
	session, err := h.PrepareSession(donation)
	if err != nil {
		return nil, err
	}
	if err := h.client.Begin(session.request, session); err != nil {
		return nil, err
	}
	return session, nil
}

// PaymentInitiated 页面点击事件已经是用户手势
func (h *ApplePayHandler) PaymentInitiated(_ context.Context, donation models.DonationAmount, _ *models.DonorContactInfo) {
	defer h.recoverFlow()
	_, err := h.CreatePaymentRequest(UserGesture{Type: "click", IsTrusted: true}, donation)
	if err == nil || isValidationError(err) {
		return
	}
	h.providerFailed(err)
}

func (h *ApplePayHandler) paymentRequest(donation models.DonationAmount) ApplePayPaymentRequest {
	req := ApplePayPaymentRequest{
		CountryCode:                   "US",
		CurrencyCode:                  "USD",
		MerchantCapabilities:          []string{"supports3DS"},
		SupportedNetworks:             []string{"visa", "masterCard", "amex", "discover"},
		RequiredBillingContactFields:  []string{"postalAddress", "name"},
		RequiredShippingContactFields: []string{"email"},
	}
	req.Total.Label = h.displayName
	req.Total.Amount = formatAmount(donation.Total(h.gateway.Config().Fees))
	return req
}

func (h *ApplePayHandler) PaymentComplete(ctx context.Context, session *ApplePaySession, result models.SuccessRecord) {
	defer h.recoverFlow()
	h.outcome.complete(ctx, session.Donation(), result, nil)
}

func (h *ApplePayHandler) PaymentFailed(_ context.Context, _ *ApplePaySession, err error) {
	log.Printf("Warning: apple pay payment failed (%s): %v", Kind(err), err)
	h.modals.ShowErrorModal(userMessage(err), nil)
}

func (h *ApplePayHandler) PaymentCancelled(_ context.Context, session *ApplePaySession) {
	log.Printf("DEBUG: apple pay session cancelled for %s", session.Donation())
}
