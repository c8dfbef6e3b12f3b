package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/zhifu/donation-flow/models"
)

// PaymentGatewayManager 支付流程门面：设备指纹、提交捐款、完成通知，并暴露各渠道处理器
type PaymentGatewayManager struct {
	cfg        Config
	session    SessionInfo
	clients    *ProviderClientRegistry
	completion CompletionCollaborator

	handlers   *ProviderHandlerRegistry
	startOnce  sync.Once
	deviceData atomic.Pointer[string]
}

// NewPaymentGatewayManager 创建网关管理器
func NewPaymentGatewayManager(cfg Config, session SessionInfo, clients *ProviderClientRegistry, completion CompletionCollaborator) *PaymentGatewayManager {
	if clients == nil || completion == nil {
		panic("services.NewPaymentGatewayManager: nil client registry or completion collaborator")
	}
	return &PaymentGatewayManager{
		cfg:        cfg,
		session:    session,
		clients:    clients,
		completion: completion,
	}
}

// Startup 后台采集设备指纹，失败只记录日志
func (g *PaymentGatewayManager) Startup(ctx context.Context) {
	g.startOnce.Do(func() {
		go g.collectDeviceData(ctx)
	})
}

func (g *PaymentGatewayManager) collectDeviceData(ctx context.Context) {
	collector, err := g.clients.DataCollector(ctx)
	if err != nil {
		log.Printf("Warning: device data collector unavailable: %v", err)
		return
	}
	data, err := collector.DeviceData(ctx)
	if err != nil {
		log.Printf("Warning: device data collection failed: %v", err)
		return
	}
	// 只写一次
	if g.deviceData.CompareAndSwap(nil, &data) {
		log.Printf("DEBUG: device data collected (%d bytes)", len(data))
	}
}

// DeviceData 已采集的设备指纹，未完成时为空
func (g *PaymentGatewayManager) DeviceData() string {
	if p := g.deviceData.Load(); p != nil {
		return *p
	}
	return ""
}

// Config 支付流程配置
func (g *PaymentGatewayManager) Config() Config {
	return g.cfg
}

// Session 当前页面会话
func (g *PaymentGatewayManager) Session() SessionInfo {
	return g.session
}

// Handlers 渠道处理器注册表
func (g *PaymentGatewayManager) Handlers() *ProviderHandlerRegistry {
	return g.handlers
}

func (g *PaymentGatewayManager) attachHandlers(h *ProviderHandlerRegistry) {
	g.handlers = h
}

// BuildRequest 组装提交请求
func (g *PaymentGatewayManager) BuildRequest(provider models.Provider, token PaymentToken, donation models.DonationAmount, contact models.DonorContactInfo) models.SubmissionRequest {
	return models.SubmissionRequest{
		PaymentToken: token.Nonce,
		Provider:     provider,
		Amount:       donation.Total(g.cfg.Fees),
		DonationType: donation.DonationType,
		Customer:     contact.Customer,
		Billing:      contact.Billing,
		CustomFields: models.CustomFields{
			Referrer:         g.session.Referrer,
			LoggedInUser:     g.session.LoggedInUser,
			FeeAmountCovered: donation.CoveredFee(g.cfg.Fees),
		},
		DeviceData: g.DeviceData(),
	}
}

// SubmitDonation 提交捐款；网络或解析失败返回错误，业务失败在结果中
func (g *PaymentGatewayManager) SubmitDonation(ctx context.Context, req models.SubmissionRequest) (models.SubmissionResult, error) {
	log.Printf("DEBUG: submitting %s %s donation of $%.2f", req.Provider, req.DonationType, req.Amount)
	result, err := g.completion.SubmitData(ctx, req)
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("submit %s donation: %w", req.Provider, err)
	}
	return result, nil
}

// SubmitUpsellDonation 以原始交易为基础提交月捐；token 为空时后端复用原始支付方式
func (g *PaymentGatewayManager) SubmitUpsellDonation(ctx context.Context, provider models.Provider, original models.SuccessRecord, donation models.DonationAmount, token string) (models.SubmissionResult, error) {
	if original.TransactionID == "" {
		return models.SubmissionResult{}, ErrUpsellNotLinked
	}
	donation.DonationType = models.DonationUpsell
	req := g.BuildRequest(provider, PaymentToken{Nonce: token}, donation, models.DonorContactInfo{
		Customer: original.Customer,
		Billing:  original.Billing,
	})
	req.OriginalTransactionID = original.TransactionID
	return g.SubmitDonation(ctx, req)
}

// NotifyCompletion 转交给完成协作方（跳转由其负责）
func (g *PaymentGatewayManager) NotifyCompletion(ctx context.Context, completion models.DonationCompletion) error {
	if err := g.completion.DonationSuccessful(ctx, completion); err != nil {
		return fmt.Errorf("notify completion of %s: %w", completion.Result.TransactionID, err)
	}
	return nil
}
