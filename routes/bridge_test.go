package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zhifu/donation-flow/models"
	"github.com/zhifu/donation-flow/services"
	"github.com/zhifu/donation-flow/storage"
)

const waitTimeout = 5 * time.Second

// fakePage 模拟浏览器中的页面脚本：应答服务端的 SDK 调用，记录通知
type fakePage struct {
	t    *testing.T
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	results map[string]interface{}
	errs    map[string]frameError
	calls   map[string]int
	replies map[string]chan frame
	nextID  int

	events chan frame
}

func newFakePage(t *testing.T, conn *websocket.Conn) *fakePage {
	p := &fakePage{
		t:    t,
		conn: conn,
		results: map[string]interface{}{
			"dataCollector.deviceData": "device-123",
			"hostedFields.tokenize":    services.PaymentToken{Nonce: "card-nonce", Type: "CreditCard"},
			"applePay.create":          map[string]bool{"canMakePayments": false},
			"googlePay.isReadyToPay":   true,
		},
		errs:    map[string]frameError{},
		calls:   map[string]int{},
		replies: map[string]chan frame{},
		events:  make(chan frame, 64),
	}
	go p.readLoop()
	return p
}

func (p *fakePage) write(f frame) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	// 测试结束关闭连接后写失败，忽略
	_ = p.conn.WriteJSON(f)
}

func (p *fakePage) readLoop() {
	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			close(p.events)
			return
		}
		switch f.Type {
		case frameCall:
			p.answer(f)
		case frameResult:
			p.mu.Lock()
			ch := p.replies[f.ID]
			p.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		default:
			p.events <- f
		}
	}
}

func (p *fakePage) answer(f frame) {
	p.mu.Lock()
	p.calls[f.Method]++
	result, hasResult := p.results[f.Method]
	callErr, hasErr := p.errs[f.Method]
	p.mu.Unlock()

	reply := frame{ID: f.ID, Type: frameResult}
	switch {
	case hasErr:
		reply.Error = &callErr
	case hasResult:
		raw, _ := json.Marshal(result)
		reply.Result = raw
	}
	p.write(reply)
}

func (p *fakePage) called(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// call 页面调用服务端方法
func (p *fakePage) call(method string, params interface{}, out interface{}) *frameError {
	p.t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		p.t.Fatalf("encode params: %v", err)
	}

	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("page-%d", p.nextID)
	ch := make(chan frame, 1)
	p.replies[id] = ch
	p.mu.Unlock()

	p.write(frame{ID: id, Type: frameCall, Method: method, Params: raw})

	select {
	case res := <-ch:
		if res.Error != nil {
			return res.Error
		}
		if out != nil && len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, out); err != nil {
				p.t.Fatalf("decode %s result: %v", method, err)
			}
		}
		return nil
	case <-time.After(waitTimeout):
		p.t.Fatalf("timed out waiting for %s", method)
		return nil
	}
}

func (p *fakePage) emit(method string, params interface{}) {
	p.t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		p.t.Fatalf("encode params: %v", err)
	}
	p.write(frame{Type: frameEvent, Method: method, Params: raw})
}

// waitFor 等待满足条件的通知，跳过其它通知
func (p *fakePage) waitFor(method string, match func(json.RawMessage) bool) json.RawMessage {
	p.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case f, ok := <-p.events:
			if !ok {
				p.t.Fatalf("connection closed while waiting for %s", method)
			}
			if f.Method == method && (match == nil || match(f.Params)) {
				return f.Params
			}
		case <-deadline:
			p.t.Fatalf("timed out waiting for %s", method)
			return nil
		}
	}
}

func modalKind(kind services.ModalKind) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var p struct {
			Config services.ModalConfig `json:"config"`
		}
		return json.Unmarshal(raw, &p) == nil && p.Config.Kind == kind
	}
}

// donationBackend 记录提交请求，交易号依次递增
type donationBackend struct {
	mu       sync.Mutex
	requests []models.SubmissionRequest
	decline  bool
}

func (b *donationBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req models.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	n := len(b.requests)
	decline := b.decline
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if decline {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"success":false,"value":{"message":"Card declined"}}`)
		return
	}
	res := models.Succeeded(models.SuccessRecord{
		TransactionID: fmt.Sprintf("txn-%d", n),
		Customer:      req.Customer,
		Billing:       req.Billing,
	})
	json.NewEncoder(w).Encode(res)
}

func (b *donationBackend) received() []models.SubmissionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.SubmissionRequest(nil), b.requests...)
}

type pageServer struct {
	backend *donationBackend
	api     *APIRoutes
	srv     *httptest.Server
}

func newPageServer(t *testing.T) *pageServer {
	t.Helper()
	backend := &donationBackend{}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	cfg := services.DefaultConfig()
	cfg.RecaptchaEnabled = false
	cfg.Transport.SubmitURL = backendSrv.URL
	cfg.Transport.ThankYouURL = "/thank-you"

	router := gin.New()
	api := NewAPIRoutes(cfg, nil, storage.NewMemoryRestorationStore())
	api.SetupRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &pageServer{backend: backend, api: api, srv: srv}
}

func (s *pageServer) open(t *testing.T) (*fakePage, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?page=https%3A%2F%2Fexample.org%2Fdonate"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return newFakePage(t, conn), resp
}

var pageContact = models.DonorContactInfo{
	Customer: models.Customer{Email: "ada@example.org", FirstName: "Ada", LastName: "Lovelace"},
	Billing:  models.BillingAddress{StreetAddress: "1 Main St", Locality: "Springfield", Region: "IL", PostalCode: "62701", CountryCode: "US"},
}

func TestPageSession_ReadyReportsAvailability(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	page, resp := s.open(t)

	if !strings.Contains(resp.Header.Get("Set-Cookie"), RestorationCookie+"=") {
		t.Fatalf("expected restoration cookie, got %q", resp.Header.Get("Set-Cookie"))
	}

	var availability map[models.Provider]bool
	if err := page.call("ready", nil, &availability); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	want := map[models.Provider]bool{
		models.ProviderCreditCard: true,
		models.ProviderPayPal:     true,
		models.ProviderVenmo:      false,
		models.ProviderApplePay:   false,
		models.ProviderGooglePay:  true,
	}
	for p, v := range want {
		if availability[p] != v {
			t.Fatalf("expected %s available=%v, got %v", p, v, availability[p])
		}
	}
	if page.called("gateway.load") != 1 {
		t.Fatalf("expected gateway loaded once, got %d", page.called("gateway.load"))
	}
	if s.api.SessionCount() != 1 {
		t.Fatalf("expected 1 session, got %d", s.api.SessionCount())
	}
}

func TestPageSession_CreditCardDonationWithUpsell(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	page, _ := s.open(t)
	if err := page.call("ready", nil, nil); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	page.emit("paymentInitiated", services.PaymentEvent{
		Provider: models.ProviderCreditCard,
		Donation: models.DonationAmount{DonationType: models.DonationOneTime, Amount: 20, CoverFees: true},
		Contact:  &pageContact,
	})
	page.waitFor("modal.show", modalKind(services.ModalProcessing))
	page.waitFor("modal.show", modalKind(services.ModalUpsell))

	if err := page.call("modal.confirm", map[string]string{"amount": "10"}, nil); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	raw := page.waitFor("page.redirect", nil)
	var redirect struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &redirect); err != nil {
		t.Fatalf("decode redirect: %v", err)
	}
	if redirect.URL != "/thank-you?transaction=txn-1&upsell=txn-2" {
		t.Fatalf("unexpected redirect %q", redirect.URL)
	}

	reqs := s.backend.received()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(reqs))
	}
	if reqs[0].PaymentToken != "card-nonce" || reqs[0].Amount != 20.74 || reqs[0].Customer.Email != "ada@example.org" {
		t.Fatalf("unexpected donation request %+v", reqs[0])
	}
	if reqs[1].DonationType != models.DonationUpsell || reqs[1].OriginalTransactionID != "txn-1" || reqs[1].PaymentToken != "" {
		t.Fatalf("unexpected upsell request %+v", reqs[1])
	}
}

func TestPageSession_DeclinedDonationShowsError(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	s.backend.mu.Lock()
	s.backend.decline = true
	s.backend.mu.Unlock()
	page, _ := s.open(t)

	page.emit("paymentInitiated", services.PaymentEvent{
		Provider: models.ProviderCreditCard,
		Donation: models.DonationAmount{DonationType: models.DonationMonthly, Amount: 15},
		Contact:  &pageContact,
	})

	raw := page.waitFor("modal.show", modalKind(services.ModalError))
	var shown struct {
		Content services.ModalContent `json:"content"`
	}
	if err := json.Unmarshal(raw, &shown); err != nil {
		t.Fatalf("decode modal: %v", err)
	}
	if shown.Content.Message != "Card declined" {
		t.Fatalf("expected decline message, got %q", shown.Content.Message)
	}

	// 关闭错误弹窗后重新启用提交按钮
	page.emit("modal.dismissed", nil)
	page.waitFor("form.setSubmitEnabled", func(raw json.RawMessage) bool {
		var p struct {
			Enabled bool `json:"enabled"`
		}
		return json.Unmarshal(raw, &p) == nil && p.Enabled
	})
}

func TestPageSession_TokenizationErrorMarksFields(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	page, _ := s.open(t)
	page.mu.Lock()
	page.errs["hostedFields.tokenize"] = frameError{
		Code:             "HOSTED_FIELDS_FIELDS_INVALID",
		Message:          "Some payment input fields are invalid.",
		InvalidFieldKeys: []string{"cvv"},
	}
	page.mu.Unlock()

	page.emit("paymentInitiated", services.PaymentEvent{
		Provider: models.ProviderCreditCard,
		Donation: models.DonationAmount{DonationType: models.DonationOneTime, Amount: 20},
	})

	raw := page.waitFor("hostedFields.markField", nil)
	var mark struct {
		Field   string `json:"field"`
		Invalid bool   `json:"invalid"`
	}
	if err := json.Unmarshal(raw, &mark); err != nil {
		t.Fatalf("decode mark: %v", err)
	}
	if mark.Field != "cvv" || !mark.Invalid {
		t.Fatalf("unexpected mark %+v", mark)
	}
	if got := len(s.backend.received()); got != 0 {
		t.Fatalf("expected no submission, got %d", got)
	}
}

func TestPageSession_ApplePayPreparedBeforeClick(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	page, _ := s.open(t)
	page.mu.Lock()
	page.results["applePay.create"] = map[string]bool{"canMakePayments": true}
	page.mu.Unlock()

	var availability map[models.Provider]bool
	if err := page.call("ready", nil, &availability); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if !availability[models.ProviderApplePay] {
		t.Fatal("expected apple pay available")
	}

	type prepared struct {
		Handle  string                          `json:"handle"`
		Request services.ApplePayPaymentRequest `json:"request"`
	}
	prepare := func(donation models.DonationAmount) prepared {
		t.Helper()
		var out prepared
		if err := page.call("applePay.prepare", map[string]interface{}{"donation": donation}, &out); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		return out
	}

	first := prepare(models.DonationAmount{DonationType: models.DonationOneTime, Amount: 20, CoverFees: true})
	if first.Handle == "" || first.Request.Total.Amount != "20.74" {
		t.Fatalf("unexpected prepared session %+v", first)
	}
	// 金额变化后重新准备，旧会话作废
	second := prepare(models.DonationAmount{DonationType: models.DonationOneTime, Amount: 25})
	if second.Request.Total.Amount != "25.00" {
		t.Fatalf("expected refreshed total, got %q", second.Request.Total.Amount)
	}

	authorize := func(handle string) *frameError {
		return page.call("applePay.authorized", map[string]interface{}{
			"handle":  handle,
			"token":   services.PaymentToken{Nonce: "apple-nonce", Type: "ApplePayCard"},
			"contact": pageContact,
		}, nil)
	}
	if err := authorize(first.Handle); err == nil {
		t.Fatal("expected replaced session to be rejected")
	}
	if err := authorize(second.Handle); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	page.waitFor("modal.show", modalKind(services.ModalUpsell))

	reqs := s.backend.received()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(reqs))
	}
	if reqs[0].Provider != models.ProviderApplePay || reqs[0].PaymentToken != "apple-nonce" || reqs[0].Amount != 25 {
		t.Fatalf("unexpected apple pay request %+v", reqs[0])
	}
	if err := authorize(second.Handle); err == nil {
		t.Fatal("expected finished session to be rejected")
	}
	if got := len(s.backend.received()); got != 1 {
		t.Fatalf("expected a single submission, got %d", got)
	}
}

func TestPageSession_ApplePayPrepareValidatesAmount(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	page, _ := s.open(t)
	page.mu.Lock()
	page.results["applePay.create"] = map[string]bool{"canMakePayments": true}
	page.mu.Unlock()

	err := page.call("applePay.prepare", map[string]interface{}{
		"donation": models.DonationAmount{DonationType: models.DonationOneTime, Amount: 0.5},
	}, nil)
	if err == nil || err.Code != "invalid_amount" {
		t.Fatalf("expected invalid_amount, got %+v", err)
	}
	page.waitFor("form.showInlineError", nil)
}

func TestPageSession_ApplePayNotStartedAfterRoundTrip(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	page, _ := s.open(t)
	page.mu.Lock()
	page.results["applePay.create"] = map[string]bool{"canMakePayments": true}
	page.mu.Unlock()

	page.emit("paymentInitiated", services.PaymentEvent{
		Provider: models.ProviderApplePay,
		Donation: models.DonationAmount{DonationType: models.DonationOneTime, Amount: 20},
		Contact:  &pageContact,
	})
	page.waitFor("modal.show", modalKind(services.ModalError))
	if got := len(s.backend.received()); got != 0 {
		t.Fatalf("expected no submission, got %d", got)
	}
}

func TestPageSession_UnknownMethod(t *testing.T) {
	t.Parallel()

	s := newPageServer(t)
	page, _ := s.open(t)

	err := page.call("nope", nil, nil)
	if err == nil || !strings.Contains(err.Message, "unknown method") {
		t.Fatalf("expected unknown method error, got %+v", err)
	}
	if err := page.call("modal.confirm", map[string]string{"amount": "10"}, nil); err == nil {
		t.Fatal("expected error without an open upsell modal")
	}
}

func TestPageSession_CallAfterClose(t *testing.T) {
	t.Parallel()

	conn := &closedConn{}
	s := NewPageSession(context.Background(), conn)
	s.Close()
	s.Close()

	if err := s.Call(context.Background(), "gateway.load", nil, nil); err != errSessionClosed {
		t.Fatalf("expected %v, got %v", errSessionClosed, err)
	}
	if conn.closes != 1 {
		t.Fatalf("expected connection closed once, got %d", conn.closes)
	}
}

type closedConn struct {
	closes int
}

func (c *closedConn) ReadJSON(interface{}) error  { return websocket.ErrCloseSent }
func (c *closedConn) WriteJSON(interface{}) error { return websocket.ErrCloseSent }
func (c *closedConn) Close() error {
	c.closes++
	return nil
}
