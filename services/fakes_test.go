package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zhifu/donation-flow/models"
)

type shownModal struct {
	cfg     ModalConfig
	content ModalContent
}

type fakePresenter struct {
	mu     sync.Mutex
	shown  []shownModal
	closed int
}

func (p *fakePresenter) ShowModal(cfg ModalConfig, content ModalContent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, shownModal{cfg: cfg, content: content})
}

func (p *fakePresenter) CloseModal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
}

func (p *fakePresenter) kinds() []ModalKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ModalKind, 0, len(p.shown))
	for _, m := range p.shown {
		out = append(out, m.cfg.Kind)
	}
	return out
}

func (p *fakePresenter) count(kind ModalKind) int {
	n := 0
	for _, k := range p.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (p *fakePresenter) last(t *testing.T, kind ModalKind) shownModal {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.shown) - 1; i >= 0; i-- {
		if p.shown[i].cfg.Kind == kind {
			return p.shown[i]
		}
	}
	t.Fatalf("no %s modal shown (shown: %v)", kind, p.shown)
	return shownModal{}
}

type fakeFeedback struct {
	mu      sync.Mutex
	inline  map[string]string
	enabled map[models.Provider]bool
}

func newFakeFeedback() *fakeFeedback {
	return &fakeFeedback{inline: map[string]string{}, enabled: map[models.Provider]bool{}}
}

func (f *fakeFeedback) SetSubmitEnabled(p models.Provider, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[p] = enabled
}

func (f *fakeFeedback) ShowInlineError(field, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inline[field] = message
}

func (f *fakeFeedback) ClearInlineError(field string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inline, field)
}

func (f *fakeFeedback) inlineError(field string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.inline[field]
	return msg, ok
}

type fakeChallenge struct {
	token string
	err   error
	calls atomic.Int32
}

func (c *fakeChallenge) Execute(context.Context) (string, error) {
	c.calls.Add(1)
	return c.token, c.err
}

// fakeCompletion 按调用顺序返回结果，默认成功并生成交易号
type fakeCompletion struct {
	mu          sync.Mutex
	submit      func(req models.SubmissionRequest) (models.SubmissionResult, error)
	requests    []models.SubmissionRequest
	completions []models.DonationCompletion
}

func (c *fakeCompletion) SubmitData(_ context.Context, req models.SubmissionRequest) (models.SubmissionResult, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	submit := c.submit
	c.mu.Unlock()
	if submit != nil {
		return submit(req)
	}
	return models.Succeeded(models.SuccessRecord{
		TransactionID: fmt.Sprintf("txn-%d", n),
		CustomerID:    "cust-1",
		Customer:      req.Customer,
		Billing:       req.Billing,
	}), nil
}

func (c *fakeCompletion) DonationSuccessful(_ context.Context, completion models.DonationCompletion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = append(c.completions, completion)
	return nil
}

func (c *fakeCompletion) submitted() []models.SubmissionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SubmissionRequest(nil), c.requests...)
}

func (c *fakeCompletion) completed() []models.DonationCompletion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.DonationCompletion(nil), c.completions...)
}

type fakeHostedFields struct {
	mu       sync.Mutex
	handlers map[HostedFieldsEventType]func(HostedFieldsEvent)
	marked   map[string]bool
	tokenize func() (PaymentToken, error)
	calls    atomic.Int32
}

func newFakeHostedFields() *fakeHostedFields {
	return &fakeHostedFields{
		handlers: map[HostedFieldsEventType]func(HostedFieldsEvent){},
		marked:   map[string]bool{},
	}
}

func (f *fakeHostedFields) On(event HostedFieldsEventType, fn func(HostedFieldsEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = fn
}

func (f *fakeHostedFields) emit(event HostedFieldsEventType, e HostedFieldsEvent) {
	f.mu.Lock()
	fn := f.handlers[event]
	f.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (f *fakeHostedFields) Tokenize(context.Context) (PaymentToken, error) {
	f.calls.Add(1)
	if f.tokenize != nil {
		return f.tokenize()
	}
	return PaymentToken{Nonce: "card-nonce", Type: "CreditCard"}, nil
}

func (f *fakeHostedFields) MarkField(field string, invalid bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[field] = invalid
}

func (f *fakeHostedFields) isMarked(field string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marked[field]
}

type fakePayPalButton struct {
	container string
	torn      atomic.Bool
}

func (b *fakePayPalButton) Teardown() { b.torn.Store(true) }

type fakePayPalCheckout struct {
	mu      sync.Mutex
	renders []*fakePayPalButton
	sources []PayPalButtonSource
	err     error
}

func (c *fakePayPalCheckout) RenderButton(_ context.Context, container string, source PayPalButtonSource) (PayPalButton, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	b := &fakePayPalButton{container: container}
	c.renders = append(c.renders, b)
	c.sources = append(c.sources, source)
	return b, nil
}

func (c *fakePayPalCheckout) rendered() ([]*fakePayPalButton, []PayPalButtonSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakePayPalButton(nil), c.renders...), append([]PayPalButtonSource(nil), c.sources...)
}

type fakeApplePay struct {
	canPay  bool
	sources []ApplePaySessionSource
	err     error
}

func (a *fakeApplePay) CanMakePayments() bool { return a.canPay }

func (a *fakeApplePay) Begin(_ ApplePayPaymentRequest, source ApplePaySessionSource) error {
	if a.err != nil {
		return a.err
	}
	a.sources = append(a.sources, source)
	return nil
}

type fakeGooglePay struct {
	ready    bool
	data     GooglePaymentData
	err      error
	requests []GooglePayRequest
}

func (g *fakeGooglePay) IsReadyToPay(context.Context, GooglePayRequest) (bool, error) {
	return g.ready, nil
}

func (g *fakeGooglePay) LoadPaymentData(_ context.Context, req GooglePayRequest) (GooglePaymentData, error) {
	g.requests = append(g.requests, req)
	return g.data, g.err
}

type fakeVenmo struct {
	supported bool
	hasResult bool
	tokenize  func() (PaymentToken, error)
	calls     atomic.Int32
}

func (v *fakeVenmo) IsBrowserSupported() bool    { return v.supported }
func (v *fakeVenmo) HasTokenizationResult() bool { return v.hasResult }

func (v *fakeVenmo) Tokenize(context.Context) (PaymentToken, error) {
	v.calls.Add(1)
	if v.tokenize != nil {
		return v.tokenize()
	}
	return PaymentToken{Nonce: "venmo-nonce", Type: "VenmoAccount"}, nil
}

type fakeCollector struct {
	data string
	err  error
}

func (c *fakeCollector) DeviceData(context.Context) (string, error) { return c.data, c.err }

// fakeGateway 根客户端，各组件可单独置为失败
type fakeGateway struct {
	fields    *fakeHostedFields
	paypal    *fakePayPalCheckout
	applePay  *fakeApplePay
	googlePay *fakeGooglePay
	venmo     *fakeVenmo
	collector *fakeCollector

	componentErr map[string]error
	profileID    string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fields:       newFakeHostedFields(),
		paypal:       &fakePayPalCheckout{},
		applePay:     &fakeApplePay{canPay: true},
		googlePay:    &fakeGooglePay{ready: true},
		venmo:        &fakeVenmo{supported: true},
		collector:    &fakeCollector{data: `{"device_session_id":"abc"}`},
		componentErr: map[string]error{},
	}
}

func (g *fakeGateway) HostedFields(context.Context, HostedFieldsConfig) (HostedFieldsClient, error) {
	if err := g.componentErr["hosted-fields"]; err != nil {
		return nil, err
	}
	return g.fields, nil
}

func (g *fakeGateway) PayPalCheckout(context.Context) (PayPalCheckoutClient, error) {
	if err := g.componentErr["paypal"]; err != nil {
		return nil, err
	}
	return g.paypal, nil
}

func (g *fakeGateway) ApplePay(context.Context) (ApplePayClient, error) {
	if err := g.componentErr["apple-pay"]; err != nil {
		return nil, err
	}
	return g.applePay, nil
}

func (g *fakeGateway) GooglePayment(context.Context, GooglePayConfig) (GooglePayClient, error) {
	if err := g.componentErr["google-pay"]; err != nil {
		return nil, err
	}
	return g.googlePay, nil
}

func (g *fakeGateway) Venmo(_ context.Context, profileID string) (VenmoClient, error) {
	if err := g.componentErr["venmo"]; err != nil {
		return nil, err
	}
	g.profileID = profileID
	return g.venmo, nil
}

func (g *fakeGateway) DataCollector(context.Context) (DataCollectorClient, error) {
	if err := g.componentErr["data-collector"]; err != nil {
		return nil, err
	}
	return g.collector, nil
}

type memoryStore struct {
	mu    sync.Mutex
	snaps map[string]models.RestorationSnapshot
	puts  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snaps: map[string]models.RestorationSnapshot{}}
}

func (s *memoryStore) Put(_ context.Context, snap models.RestorationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Key] = snap
	s.puts++
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) (models.RestorationSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[key]
	return snap, ok, nil
}

func (s *memoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, key)
	return nil
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snaps[key]
	return ok
}

// harness 一个页面会话的全部假协作方
type harness struct {
	gw         *fakeGateway
	loads      atomic.Int32
	loadErr    error
	presenter  *fakePresenter
	feedback   *fakeFeedback
	challenge  *fakeChallenge
	completion *fakeCompletion
	store      *memoryStore
	checkout   *Checkout
}

func newHarness(t *testing.T, mutate func(cfg *Config, s *SessionInfo)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Venmo.ProfileID = "venmo-profile"
	session := SessionInfo{
		RestorationKey: "restore-key",
		Referrer:       "https://example.org/campaign",
		LoggedInUser:   "donor@example.org",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Safari/605.1.15",
		PageURL:        "https://example.org/donate",
	}
	if mutate != nil {
		mutate(&cfg, &session)
	}

	h := &harness{
		gw:         newFakeGateway(),
		presenter:  &fakePresenter{},
		feedback:   newFakeFeedback(),
		challenge:  &fakeChallenge{token: "recaptcha-token"},
		completion: &fakeCompletion{},
		store:      newMemoryStore(),
	}
	h.checkout = NewCheckout(CheckoutDeps{
		Config:  cfg,
		Session: session,
		Loader: func(context.Context) (GatewayClient, error) {
			h.loads.Add(1)
			if h.loadErr != nil {
				return nil, h.loadErr
			}
			return h.gw, nil
		},
		Presenter:   h.presenter,
		Feedback:    h.feedback,
		Challenge:   h.challenge,
		Completion:  h.completion,
		Restoration: h.store,
	})
	return h
}

var errBoom = errors.New("boom")

var testContact = models.DonorContactInfo{
	Customer: models.Customer{Email: "ada@example.org", FirstName: "Ada", LastName: "Lovelace"},
	Billing: models.BillingAddress{
		StreetAddress: "12 St James's Square",
		Locality:      "London",
		Region:        "LDN",
		PostalCode:    "SW1Y 4JH",
		CountryCode:   "GB",
	},
}

func oneTime(amount float64) models.DonationAmount {
	return models.DonationAmount{DonationType: models.DonationOneTime, Amount: amount}
}

func monthly(amount float64) models.DonationAmount {
	return models.DonationAmount{DonationType: models.DonationMonthly, Amount: amount}
}
