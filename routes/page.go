package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhifu/donation-flow/models"
	"github.com/zhifu/donation-flow/services"
)

var errNoModal = errors.New("no modal is open")

// BindCheckout 注册页面可调用的方法
func BindCheckout(s *PageSession, checkout *services.Checkout) {
	// ready 页面脚本加载完成，返回各渠道可用性；Venmo 恢复在后台继续
	s.Handle("ready", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		checkout.Start(ctx)
		return checkout.Handlers.Availability(ctx), nil
	})

	s.Handle("paymentInitiated", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var event services.PaymentEvent
		if err := decodeParams(raw, &event); err != nil {
			return nil, err
		}
		checkout.PaymentInitiated(ctx, event)
		return nil, nil
	})

	s.Handle("donationChanged", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var donation models.DonationAmount
		if err := decodeParams(raw, &donation); err != nil {
			return nil, err
		}
		h, err := checkout.Handlers.PayPal(ctx)
		if err != nil {
			return nil, err
		}
		if h != nil {
			h.UpdateDonation(donation)
		}
		return nil, nil
	})

	bindPayPal(s, checkout)
	bindHostedFields(s)
	bindApplePay(s, checkout)
	bindModal(s)

	s.Handle("venmo.qrcode", func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		h, err := checkout.Handlers.Venmo(ctx)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, services.ErrProviderUnavailable
		}
		// []byte 编码为 base64
		return h.HandoffQRCode()
	})
}

func bindPayPal(s *PageSession, checkout *services.Checkout) {
	s.Handle("paypal.render", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p struct {
			Container string                `json:"container"`
			Donation  models.DonationAmount `json:"donation"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		h, err := checkout.Handlers.PayPal(ctx)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, services.ErrProviderUnavailable
		}
		if _, err := h.RenderButton(ctx, p.Container, p.Donation); err != nil {
			return nil, err
		}
		return nil, nil
	})

	// paypal.clicked 校验通过时返回创建订单用的金额
	s.Handle("paypal.clicked", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p handleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		src, err := s.paypalSource(p.Handle)
		if err != nil {
			return nil, err
		}
		if err := src.Clicked(ctx); err != nil {
			return nil, err
		}
		return src.Donation(), nil
	})

	s.Handle("paypal.approved", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p paypalApprovedParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		src, err := s.paypalSource(p.Handle)
		if err != nil {
			return nil, err
		}
		src.Approved(ctx, p.Token)
		return nil, nil
	})

	s.Handle("paypal.cancelled", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p handleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		src, err := s.paypalSource(p.Handle)
		if err != nil {
			return nil, err
		}
		src.Cancelled(ctx)
		return nil, nil
	})

	s.Handle("paypal.error", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p paypalErrorParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		src, err := s.paypalSource(p.Handle)
		if err != nil {
			return nil, err
		}
		src.Failed(ctx, &services.SDKError{Code: p.Error.Code, Message: p.Error.Message})
		return nil, nil
	})
}

func bindHostedFields(s *PageSession) {
	s.Handle("hostedFields.event", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		var p fieldEventParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		s.fieldEvent(p.Type, p.Event)
		return nil, nil
	})
}

func bindApplePay(s *PageSession, checkout *services.Checkout) {
	// applePay.prepare 在点击之前调用（金额变化时刷新），页面缓存返回的请求，
	// 在点击事件中同步创建支付面板，授权或取消后再回调
	s.Handle("applePay.prepare", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p struct {
			Donation models.DonationAmount `json:"donation"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		h, err := checkout.Handlers.ApplePay(ctx)
		if err != nil {
			return nil, err
		}
		if h == nil || !h.Available(ctx) {
			return nil, services.ErrProviderUnavailable
		}
		session, err := h.PrepareSession(p.Donation)
		if err != nil {
			return nil, err
		}
		return applePreparedResult{
			Handle:  s.prepareAppleSession(session),
			Request: session.Request(),
		}, nil
	})

	s.Handle("applePay.authorized", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p appleAuthorizedParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		src, err := s.appleSession(p.Handle)
		if err != nil {
			return nil, err
		}
		defer s.dropAppleSession(p.Handle)
		return nil, src.Authorized(ctx, p.Token, p.Contact)
	})

	s.Handle("applePay.cancelled", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p handleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		src, err := s.appleSession(p.Handle)
		if err != nil {
			return nil, err
		}
		s.dropAppleSession(p.Handle)
		src.Cancelled(ctx)
		return nil, nil
	})
}

// bindModal 弹窗按钮回调，调用当前展示的弹窗上登记的函数
func bindModal(s *PageSession) {
	s.Handle("modal.dismissed", func(context.Context, json.RawMessage) (interface{}, error) {
		cfg, _ := s.currentModal()
		if cfg == nil {
			return nil, errNoModal
		}
		if cfg.OnDismissed != nil {
			cfg.OnDismissed()
		}
		return nil, nil
	})

	s.Handle("modal.decline", func(context.Context, json.RawMessage) (interface{}, error) {
		upsell, err := s.currentUpsell()
		if err != nil {
			return nil, err
		}
		if upsell.OnDecline != nil {
			upsell.OnDecline()
		}
		return nil, nil
	})

	s.Handle("modal.confirm", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		amount, err := amountParam(raw)
		if err != nil {
			return nil, err
		}
		upsell, err := s.currentUpsell()
		if err != nil {
			return nil, err
		}
		if upsell.OnConfirm == nil {
			return nil, fmt.Errorf("upsell is confirmed by the provider button")
		}
		return nil, upsell.OnConfirm(amount)
	})

	s.Handle("modal.amountChanged", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		amount, err := amountParam(raw)
		if err != nil {
			return nil, err
		}
		upsell, err := s.currentUpsell()
		if err != nil {
			return nil, err
		}
		if upsell.OnAmountChanged == nil {
			return nil, nil
		}
		return nil, upsell.OnAmountChanged(amount)
	})
}

func (s *PageSession) currentUpsell() (*services.UpsellContent, error) {
	_, content := s.currentModal()
	if content == nil || content.Upsell == nil {
		return nil, errNoModal
	}
	return content.Upsell, nil
}

func amountParam(raw json.RawMessage) (string, error) {
	var p struct {
		Amount string `json:"amount"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return "", err
	}
	return p.Amount, nil
}
