package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/zhifu/donation-flow/models"
	"github.com/zhifu/donation-flow/utils"
	"golang.org/x/sync/errgroup"
)

// ProviderClientRegistry 按需加载各渠道SDK对象，每个对象只创建一次
type ProviderClientRegistry struct {
	gateway       *utils.SharedResource[GatewayClient]
	hostedFields  *utils.SharedResource[HostedFieldsClient]
	paypal        *utils.SharedResource[PayPalCheckoutClient]
	applePay      *utils.SharedResource[ApplePayClient]
	googlePay     *utils.SharedResource[GooglePayClient]
	venmo         *utils.SharedResource[VenmoClient]
	dataCollector *utils.SharedResource[DataCollectorClient]
}

// NewProviderClientRegistry 创建客户端注册表，load 负责加载网关根客户端
func NewProviderClientRegistry(cfg Config, load GatewayLoader) *ProviderClientRegistry {
	if load == nil {
		panic("services.NewProviderClientRegistry: nil gateway loader")
	}
	r := &ProviderClientRegistry{}
	r.gateway = utils.NewSharedResource(func(ctx context.Context) (GatewayClient, error) {
		log.Printf("DEBUG: loading payment gateway client")
		return load(ctx)
	})
	r.hostedFields = component(r, "hosted fields", func(ctx context.Context, gw GatewayClient) (HostedFieldsClient, error) {
		return gw.HostedFields(ctx, cfg.HostedFields)
	})
	r.paypal = component(r, "paypal checkout", func(ctx context.Context, gw GatewayClient) (PayPalCheckoutClient, error) {
		return gw.PayPalCheckout(ctx)
	})
	r.applePay = component(r, "apple pay", func(ctx context.Context, gw GatewayClient) (ApplePayClient, error) {
		return gw.ApplePay(ctx)
	})
	r.googlePay = component(r, "google payment", func(ctx context.Context, gw GatewayClient) (GooglePayClient, error) {
		return gw.GooglePayment(ctx, cfg.GooglePay)
	})
	r.venmo = component(r, "venmo", func(ctx context.Context, gw GatewayClient) (VenmoClient, error) {
		return gw.Venmo(ctx, cfg.Venmo.ProfileID)
	})
	r.dataCollector = component(r, "data collector", func(ctx context.Context, gw GatewayClient) (DataCollectorClient, error) {
		return gw.DataCollector(ctx)
	})
	return r
}

// component 基于网关根客户端创建渠道组件
func component[T any](r *ProviderClientRegistry, name string, create func(context.Context, GatewayClient) (T, error)) *utils.SharedResource[T] {
	return utils.NewSharedResource(func(ctx context.Context) (T, error) {
		var zero T
		gw, err := r.gateway.Get(ctx)
		if err != nil {
			return zero, err
		}
		log.Printf("DEBUG: creating %s client", name)
		c, err := create(ctx, gw)
		if err != nil {
			return zero, fmt.Errorf("create %s client: %w", name, err)
		}
		return c, nil
	})
}

func (r *ProviderClientRegistry) Gateway(ctx context.Context) (GatewayClient, error) {
	return r.gateway.Get(ctx)
}

func (r *ProviderClientRegistry) HostedFields(ctx context.Context) (HostedFieldsClient, error) {
	return r.hostedFields.Get(ctx)
}

func (r *ProviderClientRegistry) PayPalCheckout(ctx context.Context) (PayPalCheckoutClient, error) {
	return r.paypal.Get(ctx)
}

func (r *ProviderClientRegistry) ApplePay(ctx context.Context) (ApplePayClient, error) {
	return r.applePay.Get(ctx)
}

func (r *ProviderClientRegistry) GooglePayment(ctx context.Context) (GooglePayClient, error) {
	return r.googlePay.Get(ctx)
}

func (r *ProviderClientRegistry) Venmo(ctx context.Context) (VenmoClient, error) {
	return r.venmo.Get(ctx)
}

func (r *ProviderClientRegistry) DataCollector(ctx context.Context) (DataCollectorClient, error) {
	return r.dataCollector.Get(ctx)
}

// Reset 清空所有缓存（页面重新加载SDK脚本后调用）
func (r *ProviderClientRegistry) Reset() {
	r.gateway.Reset()
	r.hostedFields.Reset()
	r.paypal.Reset()
	r.applePay.Reset()
	r.googlePay.Reset()
	r.venmo.Reset()
	r.dataCollector.Reset()
}

// Preload 并发预加载网关与数据采集组件，返回第一个错误
func (r *ProviderClientRegistry) Preload(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := r.Gateway(ctx)
		return err
	})
	g.Go(func() error {
		_, err := r.DataCollector(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("Warning: payment client preload failed: %v", err)
		return err
	}
	return nil
}

// FlowHandler 渠道处理器的公共入口
type FlowHandler interface {
	Provider() models.Provider
	// PaymentInitiated 页面发起支付，所有错误都转为弹窗或字段提示
	PaymentInitiated(ctx context.Context, donation models.DonationAmount, contact *models.DonorContactInfo)
}

// availabilityChecker 需要额外检查浏览器/钱包能力的渠道实现
type availabilityChecker interface {
	Available(ctx context.Context) bool
}

// HandlerDeps 处理器共享的页面协作方
type HandlerDeps struct {
	Modals      *DonationFlowModalManager
	Feedback    FormFeedback
	Challenge   ChallengeTokenClient
	Restoration RestorationStore
}

// ProviderHandlerRegistry 每个渠道一个处理器，懒加载且只创建一次
type ProviderHandlerRegistry struct {
	creditCard *utils.SharedResource[*CreditCardHandler]
	paypal     *utils.SharedResource[*PayPalHandler]
	applePay   *utils.SharedResource[*ApplePayHandler]
	googlePay  *utils.SharedResource[*GooglePayHandler]
	venmo      *utils.SharedResource[*VenmoHandler]
}

// NewProviderHandlerRegistry 创建处理器注册表并挂到网关管理器上
func NewProviderHandlerRegistry(gateway *PaymentGatewayManager, deps HandlerDeps) *ProviderHandlerRegistry {
	if deps.Modals == nil {
		panic("services.NewProviderHandlerRegistry: nil modal manager")
	}
	clients := gateway.clients
	cfg := gateway.Config()
	base := func(p models.Provider) flowBase {
		return newFlowBase(p, gateway, deps.Modals, deps.Feedback)
	}

	r := &ProviderHandlerRegistry{}
	r.creditCard = utils.NewSharedResource(func(ctx context.Context) (*CreditCardHandler, error) {
		fields, err := clients.HostedFields(ctx)
		if err != nil {
			return nil, err
		}
		var challenge ChallengeTokenClient
		if cfg.RecaptchaEnabled {
			challenge = deps.Challenge
		}
		return newCreditCardHandler(base(models.ProviderCreditCard), fields, cfg.HostedFields, challenge), nil
	})
	r.paypal = utils.NewSharedResource(func(ctx context.Context) (*PayPalHandler, error) {
		checkout, err := clients.PayPalCheckout(ctx)
		if err != nil {
			return nil, err
		}
		return newPayPalHandler(base(models.ProviderPayPal), checkout, cfg.PayPal.UpsellContainer), nil
	})
	r.applePay = utils.NewSharedResource(func(ctx context.Context) (*ApplePayHandler, error) {
		client, err := clients.ApplePay(ctx)
		if err != nil {
			return nil, err
		}
		return newApplePayHandler(base(models.ProviderApplePay), client, cfg.ApplePay.DisplayName), nil
	})
	r.googlePay = utils.NewSharedResource(func(ctx context.Context) (*GooglePayHandler, error) {
		client, err := clients.GooglePayment(ctx)
		if err != nil {
			return nil, err
		}
		return newGooglePayHandler(base(models.ProviderGooglePay), client), nil
	})
	r.venmo = utils.NewSharedResource(func(ctx context.Context) (*VenmoHandler, error) {
		// 未配置 profile id 表示不可用，不是加载失败
		if cfg.Venmo.ProfileID == "" {
			return nil, nil
		}
		client, err := clients.Venmo(ctx)
		if err != nil {
			return nil, err
		}
		return newVenmoHandler(base(models.ProviderVenmo), client, deps.Restoration, gateway.Session(), cfg.RestorationTTL), nil
	})

	gateway.attachHandlers(r)
	return r
}

func (r *ProviderHandlerRegistry) CreditCard(ctx context.Context) (*CreditCardHandler, error) {
	return r.creditCard.Get(ctx)
}

func (r *ProviderHandlerRegistry) PayPal(ctx context.Context) (*PayPalHandler, error) {
	return r.paypal.Get(ctx)
}

func (r *ProviderHandlerRegistry) ApplePay(ctx context.Context) (*ApplePayHandler, error) {
	return r.applePay.Get(ctx)
}

func (r *ProviderHandlerRegistry) GooglePay(ctx context.Context) (*GooglePayHandler, error) {
	return r.googlePay.Get(ctx)
}

// Venmo 未配置时返回 nil, nil
func (r *ProviderHandlerRegistry) Venmo(ctx context.Context) (*VenmoHandler, error) {
	return r.venmo.Get(ctx)
}

// Handler 按渠道获取处理器；渠道不可用时返回 ErrProviderUnavailable
func (r *ProviderHandlerRegistry) Handler(ctx context.Context, provider models.Provider) (FlowHandler, error) {
	var (
		h   FlowHandler
		err error
	)
	switch provider {
	case models.ProviderCreditCard:
		var cc *CreditCardHandler
		if cc, err = r.CreditCard(ctx); cc != nil {
			h = cc
		}
	case models.ProviderPayPal:
		var pp *PayPalHandler
		if pp, err = r.PayPal(ctx); pp != nil {
			h = pp
		}
	case models.ProviderApplePay:
		var ap *ApplePayHandler
		if ap, err = r.ApplePay(ctx); ap != nil {
			h = ap
		}
	case models.ProviderGooglePay:
		var gp *GooglePayHandler
		if gp, err = r.GooglePay(ctx); gp != nil {
			h = gp
		}
	case models.ProviderVenmo:
		var vm *VenmoHandler
		if vm, err = r.Venmo(ctx); vm != nil {
			h = vm
		}
	default:
		return nil, fmt.Errorf("unknown provider %q: %w", provider, ErrProviderUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s handler: %w", provider, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%s: %w", provider, ErrProviderUnavailable)
	}
	return h, nil
}

// Availability 每个渠道是否应在表单中展示；加载失败和不可用都视为隐藏
func (r *ProviderHandlerRegistry) Availability(ctx context.Context) map[models.Provider]bool {
	var (
		mu  sync.Mutex
		g   errgroup.Group
		out = make(map[models.Provider]bool, len(models.Providers))
	)
	for _, p := range models.Providers {
		g.Go(func() error {
			available := false
			h, err := r.Handler(ctx, p)
			switch {
			case err != nil:
				log.Printf("Warning: hiding %s (%s): %v", p, Kind(err), err)
			default:
				available = true
				if c, ok := h.(availabilityChecker); ok {
					available = c.Available(ctx)
				}
			}
			mu.Lock()
			out[p] = available
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
