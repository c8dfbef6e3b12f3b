package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/zhifu/donation-flow/models"
)

// PayPalButtonDataSource 与一个已渲染按钮绑定的数据源。
// 按钮不能重新挂载，金额变化时原地修改数据源。
type PayPalButtonDataSource struct {
	mu       sync.Mutex
	donation models.DonationAmount

	onClick   func(ctx context.Context, donation models.DonationAmount) error
	onApprove func(ctx context.Context, donation models.DonationAmount, token PaymentToken)
	onCancel  func(ctx context.Context)
	onError   func(ctx context.Context, err error)
}

// Donation SDK 在点击时读取
func (s *PayPalButtonDataSource) Donation() models.DonationAmount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.donation
}

// UpdateDonation 原地替换捐款信息
func (s *PayPalButtonDataSource) UpdateDonation(d models.DonationAmount) {
	s.mu.Lock()
	s.donation = d
	s.mu.Unlock()
}

// SetAmount 只修改金额（upsell 弹窗中输入新金额）
func (s *PayPalButtonDataSource) SetAmount(amount float64) {
	s.mu.Lock()
	s.donation.Amount = amount
	s.mu.Unlock()
}

func (s *PayPalButtonDataSource) Clicked(ctx context.Context) error {
	if s.onClick == nil {
		return nil
	}
	return s.onClick(ctx, s.Donation())
}

func (s *PayPalButtonDataSource) Approved(ctx context.Context, token PaymentToken) {
	if s.onApprove != nil {
		s.onApprove(ctx, s.Donation(), token)
	}
}

func (s *PayPalButtonDataSource) Cancelled(ctx context.Context) {
	if s.onCancel != nil {
		s.onCancel(ctx)
	}
}

func (s *PayPalButtonDataSource) Failed(ctx context.Context, err error) {
	if s.onError != nil {
		s.onError(ctx, err)
	}
}

type renderedButton struct {
	button PayPalButton
	source *PayPalButtonDataSource
}

// upsellButton upsell 弹窗中独立渲染的第二个按钮
type upsellButton struct {
	renderedButton
	once sync.Once
}

func (b *upsellButton) Teardown() {
	b.once.Do(b.button.Teardown)
}

func (b *upsellButton) SetAmount(amount float64) {
	b.source.SetAmount(amount)
}

// PayPalHandler PayPal 按钮流程；支付由按钮回调驱动
type PayPalHandler struct {
	flowBase
	checkout        PayPalCheckoutClient
	upsellContainer string

	mu      sync.Mutex
	buttons map[string]*renderedButton
	contact *models.DonorContactInfo
}

func newPayPalHandler(base flowBase, checkout PayPalCheckoutClient, upsellContainer string) *PayPalHandler {
	h := &PayPalHandler{
		flowBase:        base,
		checkout:        checkout,
		upsellContainer: upsellContainer,
		buttons:         make(map[string]*renderedButton),
	}
	h.outcome.upsell = h
	return h
}

// RenderButton 在容器中渲染按钮；同一容器只渲染一次，之后只更新数据源
func (h *PayPalHandler) RenderButton(ctx context.Context, container string, donation models.DonationAmount) (*PayPalButtonDataSource, error) {
	h.mu.Lock()
	if rb, ok := h.buttons[container]; ok {
		h.mu.Unlock()
		rb.source.UpdateDonation(donation)
		return rb.source, nil
	}
	h.mu.Unlock()

	source := &PayPalButtonDataSource{
		donation:  donation,
		onClick:   h.clicked,
		onApprove: h.approved,
		onCancel: func(context.Context) {
			log.Printf("DEBUG: paypal checkout cancelled in %s", container)
		},
		onError: func(_ context.Context, err error) {
			h.providerFailed(err)
		},
	}
	button, err := h.checkout.RenderButton(ctx, container, source)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// 并发渲染同一容器时保留先完成的那个
	if rb, ok := h.buttons[container]; ok {
		button.Teardown()
		rb.source.UpdateDonation(donation)
		return rb.source, nil
	}
	h.buttons[container] = &renderedButton{button: button, source: source}
	return source, nil
}

// UpdateDonation 表单金额变化时更新所有主按钮的数据源
func (h *PayPalHandler) UpdateDonation(donation models.DonationAmount) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rb := range h.buttons {
		rb.source.UpdateDonation(donation)
	}
}

// PaymentInitiated 表单提交：记录联系人并更新按钮金额，支付在PayPal窗口中完成
func (h *PayPalHandler) PaymentInitiated(ctx context.Context, donation models.DonationAmount, contact *models.DonorContactInfo) {
	defer h.recoverFlow()
	h.mu.Lock()
	if contact != nil {
		c := *contact
		h.contact = &c
	}
	h.mu.Unlock()
	h.UpdateDonation(donation)
	// 校验失败时提示已经展示，支付仍由按钮点击发起
	if err := h.validate(donation); err != nil {
		log.Printf("DEBUG: paypal donation not valid yet: %v", err)
	}
}

func (h *PayPalHandler) clicked(_ context.Context, donation models.DonationAmount) error {
	return h.validate(donation)
}

func (h *PayPalHandler) approved(ctx context.Context, donation models.DonationAmount, token PaymentToken) {
	defer h.recoverFlow()
	h.mu.Lock()
	contact := h.contact
	h.mu.Unlock()

	c := contactFromPayPal(token.Details)
	if contact != nil {
		c = *contact
	}
	h.submitToken(ctx, donation, c, token, "", nil)
}

// prepareUpsell 渲染独立的 upsell 按钮，金额默认为推荐值
func (h *PayPalHandler) prepareUpsell(ctx context.Context, original models.SuccessRecord, suggested float64, accept upsellAcceptFunc) (models.UpsellResource, string, error) {
	if h.upsellContainer == "" {
		return nil, "", errors.New("no paypal upsell container configured")
	}
	source := &PayPalButtonDataSource{
		donation: models.DonationAmount{DonationType: models.DonationUpsell, Amount: suggested},
		onClick: func(_ context.Context, d models.DonationAmount) error {
			return models.ValidateAmount(d.Amount)
		},
		onApprove: func(ctx context.Context, d models.DonationAmount, token PaymentToken) {
			accept(ctx, d.Amount, token.Nonce)
		},
		onCancel: func(context.Context) {
			log.Printf("DEBUG: paypal upsell checkout cancelled for %s", original.TransactionID)
		},
		onError: func(_ context.Context, err error) {
			log.Printf("Warning: paypal upsell button error for %s: %v", original.TransactionID, err)
		},
	}
	button, err := h.checkout.RenderButton(ctx, h.upsellContainer, source)
	if err != nil {
		return nil, "", err
	}
	return &upsellButton{renderedButton: renderedButton{button: button, source: source}}, h.upsellContainer, nil
}

// contactFromPayPal PayPal 返回的付款人信息
func contactFromPayPal(details map[string]string) models.DonorContactInfo {
	return models.DonorContactInfo{
		Customer: models.Customer{
			Email:     details["email"],
			FirstName: details["firstName"],
			LastName:  details["lastName"],
		},
		Billing: models.BillingAddress{
			StreetAddress:   details["line1"],
			ExtendedAddress: details["line2"],
			Locality:        details["city"],
			Region:          details["state"],
			PostalCode:      details["postalCode"],
			CountryCode:     details["countryCode"],
		},
	}
}
