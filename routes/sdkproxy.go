package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhifu/donation-flow/models"
	"github.com/zhifu/donation-flow/services"
	"github.com/zhifu/donation-flow/utils"
)

// 页面 SDK 代理：每个组件的方法转为对页面的 call/notify

var errApplePayNotPrepared = errors.New("apple pay session must be prepared before the click")

// LoadGateway 实现 services.GatewayLoader，让页面加载网关脚本并创建根客户端
func (s *PageSession) LoadGateway(ctx context.Context) (services.GatewayClient, error) {
	if err := s.Call(ctx, "gateway.load", nil, nil); err != nil {
		return nil, fmt.Errorf("load gateway: %w", err)
	}
	return &gatewayProxy{page: s}, nil
}

type gatewayProxy struct {
	page *PageSession
}

func (g *gatewayProxy) HostedFields(ctx context.Context, cfg services.HostedFieldsConfig) (services.HostedFieldsClient, error) {
	if err := g.page.Call(ctx, "hostedFields.create", cfg, nil); err != nil {
		return nil, err
	}
	return &hostedFieldsProxy{page: g.page}, nil
}

func (g *gatewayProxy) PayPalCheckout(ctx context.Context) (services.PayPalCheckoutClient, error) {
	if err := g.page.Call(ctx, "paypal.create", nil, nil); err != nil {
		return nil, err
	}
	return &paypalProxy{page: g.page}, nil
}

func (g *gatewayProxy) ApplePay(ctx context.Context) (services.ApplePayClient, error) {
	var caps struct {
		CanMakePayments bool `json:"canMakePayments"`
	}
	if err := g.page.Call(ctx, "applePay.create", nil, &caps); err != nil {
		return nil, err
	}
	return &applePayProxy{page: g.page, canMakePayments: caps.CanMakePayments}, nil
}

func (g *gatewayProxy) GooglePayment(ctx context.Context, cfg services.GooglePayConfig) (services.GooglePayClient, error) {
	if err := g.page.Call(ctx, "googlePay.create", cfg, nil); err != nil {
		return nil, err
	}
	return &googlePayProxy{page: g.page}, nil
}

func (g *gatewayProxy) Venmo(ctx context.Context, profileID string) (services.VenmoClient, error) {
	var caps struct {
		BrowserSupported      bool `json:"browserSupported"`
		HasTokenizationResult bool `json:"hasTokenizationResult"`
	}
	if err := g.page.Call(ctx, "venmo.create", map[string]string{"profileId": profileID}, &caps); err != nil {
		return nil, err
	}
	return &venmoProxy{page: g.page, supported: caps.BrowserSupported, returning: caps.HasTokenizationResult}, nil
}

func (g *gatewayProxy) DataCollector(ctx context.Context) (services.DataCollectorClient, error) {
	if err := g.page.Call(ctx, "dataCollector.create", nil, nil); err != nil {
		return nil, err
	}
	return &dataCollectorProxy{page: g.page}, nil
}

// hostedFieldsProxy 托管输入框
type hostedFieldsProxy struct {
	page *PageSession
}

func (h *hostedFieldsProxy) On(event services.HostedFieldsEventType, fn func(services.HostedFieldsEvent)) {
	h.page.mu.Lock()
	defer h.page.mu.Unlock()
	h.page.fieldHandlers[event] = fn
}

func (h *hostedFieldsProxy) Tokenize(ctx context.Context) (services.PaymentToken, error) {
	var token services.PaymentToken
	err := h.page.Call(ctx, "hostedFields.tokenize", nil, &token)
	return token, err
}

func (h *hostedFieldsProxy) MarkField(field string, invalid bool) {
	h.page.notify("hostedFields.markField", map[string]interface{}{"field": field, "invalid": invalid})
}

// fieldEvent 页面上报托管输入框事件
func (s *PageSession) fieldEvent(eventType services.HostedFieldsEventType, e services.HostedFieldsEvent) {
	s.mu.Lock()
	fn := s.fieldHandlers[eventType]
	s.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// paypalProxy PayPal 按钮，数据源按句柄登记，页面回调时查找
type paypalProxy struct {
	page *PageSession
}

type paypalButton struct {
	page   *PageSession
	handle string
}

func (p *paypalProxy) RenderButton(ctx context.Context, container string, source services.PayPalButtonSource) (services.PayPalButton, error) {
	handle := utils.GenerateConnID()
	p.page.mu.Lock()
	p.page.paypalSources[handle] = source
	p.page.mu.Unlock()

	err := p.page.Call(ctx, "paypal.renderButton", map[string]interface{}{
		"handle":    handle,
		"container": container,
		"donation":  source.Donation(),
	}, nil)
	if err != nil {
		p.page.dropPayPalSource(handle)
		return nil, err
	}
	return &paypalButton{page: p.page, handle: handle}, nil
}

func (b *paypalButton) Teardown() {
	b.page.dropPayPalSource(b.handle)
	b.page.notify("paypal.teardown", map[string]string{"handle": b.handle})
}

func (s *PageSession) dropPayPalSource(handle string) {
	s.mu.Lock()
	delete(s.paypalSources, handle)
	s.mu.Unlock()
}

func (s *PageSession) paypalSource(handle string) (services.PayPalButtonSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.paypalSources[handle]
	if !ok {
		return nil, fmt.Errorf("unknown paypal button %q", handle)
	}
	return src, nil
}

// applePayProxy Apple Pay
type applePayProxy struct {
	page            *PageSession
	canMakePayments bool
}

func (a *applePayProxy) CanMakePayments() bool {
	return a.canMakePayments
}

// Begin 页面无法在服务端调用时打开支付面板，会话须先通过 applePay.prepare 取得
func (a *applePayProxy) Begin(services.ApplePayPaymentRequest, services.ApplePaySessionSource) error {
	return errApplePayNotPrepared
}

// prepareAppleSession 登记点击前准备好的会话，替换尚未使用的旧会话
func (s *PageSession) prepareAppleSession(source services.ApplePaySessionSource) string {
	handle := utils.GenerateConnID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applePrepared != "" {
		delete(s.appleSessions, s.applePrepared)
	}
	s.appleSessions[handle] = source
	s.applePrepared = handle
	return handle
}

func (s *PageSession) dropAppleSession(handle string) {
	s.mu.Lock()
	delete(s.appleSessions, handle)
	if s.applePrepared == handle {
		s.applePrepared = ""
	}
	s.mu.Unlock()
}

func (s *PageSession) appleSession(handle string) (services.ApplePaySessionSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.appleSessions[handle]
	if !ok {
		return nil, fmt.Errorf("unknown apple pay session %q", handle)
	}
	return src, nil
}

// googlePayProxy Google Pay
type googlePayProxy struct {
	page *PageSession
}

func (g *googlePayProxy) IsReadyToPay(ctx context.Context, req services.GooglePayRequest) (bool, error) {
	var ready bool
	err := g.page.Call(ctx, "googlePay.isReadyToPay", req, &ready)
	return ready, err
}

func (g *googlePayProxy) LoadPaymentData(ctx context.Context, req services.GooglePayRequest) (services.GooglePaymentData, error) {
	var data services.GooglePaymentData
	err := g.page.Call(ctx, "googlePay.loadPaymentData", req, &data)
	return data, err
}

// venmoProxy Venmo，能力在创建时由页面一次性上报
type venmoProxy struct {
	page      *PageSession
	supported bool
	returning bool
}

func (v *venmoProxy) IsBrowserSupported() bool     { return v.supported }
func (v *venmoProxy) HasTokenizationResult() bool { return v.returning }

func (v *venmoProxy) Tokenize(ctx context.Context) (services.PaymentToken, error) {
	var token services.PaymentToken
	err := v.page.Call(ctx, "venmo.tokenize", nil, &token)
	return token, err
}

type dataCollectorProxy struct {
	page *PageSession
}

func (d *dataCollectorProxy) DeviceData(ctx context.Context) (string, error) {
	var data string
	err := d.page.Call(ctx, "dataCollector.deviceData", nil, &data)
	return data, err
}

// 页面 → 服务端的回调参数
type handleParams struct {
	Handle string `json:"handle"`
}

type paypalApprovedParams struct {
	Handle string                `json:"handle"`
	Token  services.PaymentToken `json:"token"`
}

type paypalErrorParams struct {
	Handle string     `json:"handle"`
	Error  frameError `json:"error"`
}

type applePreparedResult struct {
	Handle  string                          `json:"handle"`
	Request services.ApplePayPaymentRequest `json:"request"`
}

type appleAuthorizedParams struct {
	Handle  string                  `json:"handle"`
	Token   services.PaymentToken   `json:"token"`
	Contact models.DonorContactInfo `json:"contact"`
}

type fieldEventParams struct {
	Type  services.HostedFieldsEventType `json:"type"`
	Event services.HostedFieldsEvent     `json:"event"`
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
