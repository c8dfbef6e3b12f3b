package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zhifu/donation-flow/models"
	"github.com/zhifu/donation-flow/services"
	"github.com/zhifu/donation-flow/utils"
)

// 页面桥接帧类型
const (
	frameCall   = "call"   // 需要对方返回 result
	frameResult = "result" // call 的返回
	frameEvent  = "event"  // 不需要返回
)

var errSessionClosed = services.ErrSessionClosed

// frame 页面与服务端之间的 JSON 帧
type frame struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
}

// frameError 页面 SDK 错误，字段与 services.SDKError 一致
type frameError struct {
	Code             string   `json:"code"`
	Message          string   `json:"message"`
	InvalidFieldKeys []string `json:"invalidFieldKeys,omitempty"`
}

// wsConn *websocket.Conn 用到的方法
type wsConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// pageHandler 处理页面发来的 call/event；返回值作为 call 的 result
type pageHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// PageSession 一个打开的捐款页面，既是弹窗/表单/人机验证协作方，也是SDK代理的通道
type PageSession struct {
	id   string
	conn wsConn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan frame
	handlers map[string]pageHandler
	closed   bool

	// 页面回调注册
	modal         *services.ModalConfig
	modalContent  *services.ModalContent
	fieldHandlers map[services.HostedFieldsEventType]func(services.HostedFieldsEvent)
	paypalSources map[string]services.PayPalButtonSource
	appleSessions map[string]services.ApplePaySessionSource
	applePrepared string
}

// NewPageSession 包装已升级的 websocket 连接
func NewPageSession(parent context.Context, conn wsConn) *PageSession {
	ctx, cancel := context.WithCancel(parent)
	return &PageSession{
		id:            utils.GenerateConnID(),
		conn:          conn,
		ctx:           ctx,
		cancel:        cancel,
		pending:       make(map[string]chan frame),
		handlers:      make(map[string]pageHandler),
		fieldHandlers: make(map[services.HostedFieldsEventType]func(services.HostedFieldsEvent)),
		paypalSources: make(map[string]services.PayPalButtonSource),
		appleSessions: make(map[string]services.ApplePaySessionSource),
	}
}

// ID 会话ID
func (s *PageSession) ID() string { return s.id }

// Context 会话结束时取消
func (s *PageSession) Context() context.Context { return s.ctx }

// Handle 注册页面方法
func (s *PageSession) Handle(method string, h pageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *PageSession) write(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

// Call 调用页面方法并等待返回；out 可以为 nil
func (s *PageSession) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	id := utils.GenerateConnID()
	ch := make(chan frame, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(frame{ID: id, Type: frameCall, Method: method, Params: raw}); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return errSessionClosed
		}
		if res.Error != nil {
			return &services.SDKError{Code: res.Error.Code, Message: res.Error.Message, InvalidFieldKeys: res.Error.InvalidFieldKeys}
		}
		if out == nil || len(res.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

// Notify 通知页面，不等待返回
func (s *PageSession) Notify(method string, params interface{}) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return s.write(frame{Type: frameEvent, Method: method, Params: raw})
}

func (s *PageSession) notify(method string, params interface{}) {
	if err := s.Notify(method, params); err != nil {
		log.Printf("Warning: page %s notify %s failed: %v", s.id, method, err)
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}

// Run 读取页面帧直到连接断开；每个 call/event 在单独的 goroutine 中处理
func (s *PageSession) Run() {
	defer s.Close()
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		switch f.Type {
		case frameResult:
			s.mu.Lock()
			ch, ok := s.pending[f.ID]
			s.mu.Unlock()
			if ok {
				ch <- f
			}
		case frameCall, frameEvent:
			go s.dispatch(f)
		default:
			log.Printf("Warning: page %s sent unknown frame type %q", s.id, f.Type)
		}
	}
}

func (s *PageSession) dispatch(f frame) {
	s.mu.Lock()
	h, ok := s.handlers[f.Method]
	s.mu.Unlock()

	var (
		result interface{}
		err    error
	)
	if !ok {
		err = fmt.Errorf("unknown method %q", f.Method)
	} else {
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("page handler %s panicked: %v", f.Method, r)
				}
			}()
			result, err = h(s.ctx, f.Params)
		}()
	}

	if f.Type != frameCall {
		if err != nil {
			log.Printf("Warning: page %s event %s: %v", s.id, f.Method, err)
		}
		return
	}

	reply := frame{ID: f.ID, Type: frameResult}
	if err != nil {
		reply.Error = &frameError{Code: services.Kind(err), Message: err.Error()}
	} else if result != nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			reply.Error = &frameError{Code: "internal", Message: mErr.Error()}
		} else {
			reply.Result = raw
		}
	}
	if wErr := s.write(reply); wErr != nil {
		log.Printf("Warning: page %s reply to %s failed: %v", s.id, f.Method, wErr)
	}
}

// Close 结束会话，未完成的调用返回错误
func (s *PageSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close()
}

// ShowModal 实现 services.ModalPresenter
func (s *PageSession) ShowModal(cfg services.ModalConfig, content services.ModalContent) {
	s.mu.Lock()
	s.modal = &cfg
	s.modalContent = &content
	s.mu.Unlock()
	s.notify("modal.show", map[string]interface{}{"config": cfg, "content": content})
}

func (s *PageSession) CloseModal() {
	s.mu.Lock()
	s.modal = nil
	s.modalContent = nil
	s.mu.Unlock()
	s.notify("modal.close", nil)
}

func (s *PageSession) currentModal() (*services.ModalConfig, *services.ModalContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal, s.modalContent
}

// SetSubmitEnabled 实现 services.FormFeedback
func (s *PageSession) SetSubmitEnabled(provider models.Provider, enabled bool) {
	s.notify("form.setSubmitEnabled", map[string]interface{}{"provider": provider, "enabled": enabled})
}

func (s *PageSession) ShowInlineError(field, message string) {
	s.notify("form.showInlineError", map[string]string{"field": field, "message": message})
}

func (s *PageSession) ClearInlineError(field string) {
	s.notify("form.clearInlineError", map[string]string{"field": field})
}

// Execute 实现 services.ChallengeTokenClient
func (s *PageSession) Execute(ctx context.Context) (string, error) {
	var token string
	if err := s.Call(ctx, "recaptcha.execute", nil, &token); err != nil {
		return "", err
	}
	return token, nil
}

// Redirect 实现 services.Redirector
func (s *PageSession) Redirect(_ context.Context, target string) error {
	return s.Notify("page.redirect", map[string]string{"url": target})
}
