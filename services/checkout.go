package services

import (
	"context"
	"log"
)

// CheckoutDeps 一个捐款页面会话需要的协作方
type CheckoutDeps struct {
	Config      Config
	Session     SessionInfo
	Loader      GatewayLoader
	Presenter   ModalPresenter
	Feedback    FormFeedback
	Challenge   ChallengeTokenClient
	Completion  CompletionCollaborator
	Restoration RestorationStore
}

// Checkout 一个页面会话的完整支付流程
type Checkout struct {
	Clients  *ProviderClientRegistry
	Gateway  *PaymentGatewayManager
	Handlers *ProviderHandlerRegistry
	Modals   *DonationFlowModalManager
}

// NewCheckout 组装注册表、网关和弹窗管理器
func NewCheckout(deps CheckoutDeps) *Checkout {
	clients := NewProviderClientRegistry(deps.Config, deps.Loader)
	gateway := NewPaymentGatewayManager(deps.Config, deps.Session, clients, deps.Completion)
	modals := NewDonationFlowModalManager(deps.Presenter, gateway)
	handlers := NewProviderHandlerRegistry(gateway, HandlerDeps{
		Modals:      modals,
		Feedback:    deps.Feedback,
		Challenge:   deps.Challenge,
		Restoration: deps.Restoration,
	})
	return &Checkout{
		Clients:  clients,
		Gateway:  gateway,
		Handlers: handlers,
		Modals:   modals,
	}
}

// Start 页面就绪：采集设备指纹，并在后台检查 Venmo 是否从 App 返回，
// 调用方不必等待恢复的支付完成。返回的 channel 在检查结束后关闭。
func (c *Checkout) Start(ctx context.Context) <-chan struct{} {
	c.Gateway.Startup(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.resumeVenmo(ctx)
	}()
	return done
}

func (c *Checkout) resumeVenmo(ctx context.Context) {
	venmo, err := c.Handlers.Venmo(ctx)
	switch {
	case err != nil:
		log.Printf("Warning: venmo unavailable at startup: %v", err)
	case venmo != nil:
		if venmo.Resume(ctx) {
			log.Printf("DEBUG: venmo tokenization result found at startup")
		}
	}
}

// PaymentInitiated 页面发起支付
func (c *Checkout) PaymentInitiated(ctx context.Context, event PaymentEvent) {
	h, err := c.Handlers.Handler(ctx, event.Provider)
	if err != nil {
		log.Printf("Warning: payment initiated for %s (%s): %v", event.Provider, Kind(err), err)
		c.Modals.ShowErrorModal(userMessage(err), nil)
		return
	}
	h.PaymentInitiated(ctx, event.Donation, event.Contact)
}
