package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhifu/donation-flow/models"
)

// ModalState 弹窗状态机
type ModalState string

const (
	StateIdle       ModalState = "idle"
	StateProcessing ModalState = "processing"
	StateThankYou   ModalState = "thank-you"
	StateError      ModalState = "error"
	StateUpsell     ModalState = "upsell"
)

type completionNotifier interface {
	NotifyCompletion(ctx context.Context, completion models.DonationCompletion) error
}

// SubmissionFlow 一次提交：Processing → Submit → 分支
type SubmissionFlow struct {
	Submit           func(ctx context.Context) (models.SubmissionResult, error)
	OnSuccess        func(ctx context.Context, result models.SuccessRecord)
	OnErrorDismissed func()
}

// UpsellCallbacks upsell 弹窗回调，OnAccept 为空时由 ButtonContainer 中的渠道按钮完成确认
type UpsellCallbacks struct {
	ButtonContainer string
	OnAmountChanged func(amount float64)
	OnAccept        func(amount float64)
	OnDecline       func()
	OnDismiss       func()
}

// DonationFlowModalManager 控制 Processing/ThankYou/Error/Upsell 弹窗的展示顺序
type DonationFlowModalManager struct {
	presenter ModalPresenter
	notifier  completionNotifier

	mu    sync.Mutex
	state ModalState
}

// NewDonationFlowModalManager 创建弹窗管理器
func NewDonationFlowModalManager(presenter ModalPresenter, notifier completionNotifier) *DonationFlowModalManager {
	if presenter == nil {
		panic("services.NewDonationFlowModalManager: nil presenter")
	}
	return &DonationFlowModalManager{
		presenter: presenter,
		notifier:  notifier,
		state:     StateIdle,
	}
}

// State 当前状态
func (m *DonationFlowModalManager) State() ModalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *DonationFlowModalManager) transition(to ModalState) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	log.Printf("DEBUG: donation modal %s -> %s", from, to)
}

// ShowProcessingModal 处理中，不可关闭
func (m *DonationFlowModalManager) ShowProcessingModal() {
	m.transition(StateProcessing)
	m.presenter.ShowModal(ModalConfig{
		Kind:            ModalProcessing,
		Dismissable:     false,
		ShowCloseButton: false,
	}, ModalContent{
		Title:   "Processing your donation",
		Message: "Please don't close or refresh this page.",
	})
}

// ShowThankYouModal 展示感谢弹窗，同时通知捐款完成
func (m *DonationFlowModalManager) ShowThankYouModal(ctx context.Context, completion models.DonationCompletion) {
	m.transition(StateThankYou)

	content := &ThankYouContent{
		TransactionID: completion.Result.TransactionID,
		FirstName:     completion.Result.Customer.FirstName,
		Amount:        completion.Donation.Amount,
	}
	if completion.Upsell != nil {
		content.UpsellTransactionID = completion.Upsell.TransactionID
		content.UpsellAmount = completion.UpsellAmount
	}
	m.presenter.ShowModal(ModalConfig{
		Kind:            ModalThankYou,
		Dismissable:     true,
		ShowCloseButton: true,
	}, ModalContent{
		Title:    "Thank you!",
		ThankYou: content,
	})

	if m.notifier == nil {
		return
	}
	if completion.CompletedAt.IsZero() {
		completion.CompletedAt = time.Now()
	}
	if err := m.notifier.NotifyCompletion(ctx, completion); err != nil {
		log.Printf("Warning: completion notification failed for transaction %s: %v", completion.Result.TransactionID, err)
	}
}

// ShowErrorModal 展示错误，关闭后的行为由调用方决定
func (m *DonationFlowModalManager) ShowErrorModal(message string, onDismissed func()) {
	m.transition(StateError)
	if message == "" {
		message = genericErrorMessage
	}
	m.presenter.ShowModal(ModalConfig{
		Kind:            ModalError,
		Dismissable:     true,
		ShowCloseButton: true,
		OnDismissed: func() {
			m.transition(StateIdle)
			m.presenter.CloseModal()
			if onDismissed != nil {
				onDismissed()
			}
		},
	}, ModalContent{
		Title:   "We couldn't process your donation",
		Message: message,
	})
}

// ShowUpsellModal 推荐月捐金额，捐赠人可以修改后确认
func (m *DonationFlowModalManager) ShowUpsellModal(oneTimeAmount float64, cb UpsellCallbacks) {
	m.transition(StateUpsell)

	content := &UpsellContent{
		OneTimeAmount:   oneTimeAmount,
		SuggestedAmount: SuggestUpsell(oneTimeAmount),
		ButtonContainer: cb.ButtonContainer,
		OnDecline: func() {
			if cb.OnDecline != nil {
				cb.OnDecline()
			}
		},
		OnAmountChanged: func(input string) error {
			amount, err := models.ParseAmount(input)
			if err != nil {
				return err
			}
			if cb.OnAmountChanged != nil {
				cb.OnAmountChanged(amount)
			}
			return nil
		},
	}
	if cb.OnAccept != nil {
		content.OnConfirm = func(input string) error {
			amount, err := models.ParseAmount(input)
			if err != nil {
				return err
			}
			cb.OnAccept(amount)
			return nil
		}
	}

	m.presenter.ShowModal(ModalConfig{
		Kind:            ModalUpsell,
		Dismissable:     true,
		ShowCloseButton: true,
		OnDismissed: func() {
			if cb.OnDismiss != nil {
				cb.OnDismiss()
			}
		},
	}, ModalContent{
		Title:  "Make it monthly?",
		Upsell: content,
	})
}

// StartDonationSubmissionFlow Processing → 提交 → 按结果分支；任何错误都转为 Error 弹窗
func (m *DonationFlowModalManager) StartDonationSubmissionFlow(ctx context.Context, flow SubmissionFlow) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Warning: donation submission flow panicked: %v", r)
			m.ShowErrorModal(genericErrorMessage, flow.OnErrorDismissed)
		}
	}()

	m.ShowProcessingModal()

	if flow.Submit == nil {
		panic("submission flow without submit function")
	}
	result, err := flow.Submit(ctx)
	if err != nil {
		log.Printf("Warning: donation submission failed (%s): %v", Kind(err), err)
		m.ShowErrorModal(userMessage(err), flow.OnErrorDismissed)
		return
	}
	if !result.Success {
		log.Printf("DEBUG: donation declined: %s (%d sub-errors)", result.Error.Message, len(result.Error.Errors))
		m.ShowErrorModal(result.Error.Message, flow.OnErrorDismissed)
		return
	}
	if flow.OnSuccess != nil {
		flow.OnSuccess(ctx, result.Value)
	}
}

// upsellBrackets 单次捐款金额上限 → 推荐月捐金额
var upsellBrackets = []struct {
	upTo      float64
	suggested float64
}{
	{upTo: 10, suggested: 5},
	{upTo: 25, suggested: 10},
	{upTo: 100, suggested: 25},
	{upTo: 250, suggested: 50},
}

const upsellCeilingSuggestion = 100

// SuggestUpsell 根据单次捐款金额推荐月捐金额
func SuggestUpsell(oneTimeAmount float64) float64 {
	for _, b := range upsellBrackets {
		if oneTimeAmount <= b.upTo {
			return b.suggested
		}
	}
	return upsellCeilingSuggestion
}

func formatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}
