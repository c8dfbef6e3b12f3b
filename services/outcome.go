package services

import (
	"context"
	"log"
	"sync"

	"github.com/zhifu/donation-flow/models"
)

// upsellAcceptFunc 渠道资源完成授权后提交 upsell；token 为空时后端使用原始交易的支付方式
type upsellAcceptFunc func(ctx context.Context, amount float64, token string)

// upsellPreparer 需要独立支付资源的渠道（PayPal）实现
type upsellPreparer interface {
	prepareUpsell(ctx context.Context, original models.SuccessRecord, suggested float64, accept upsellAcceptFunc) (models.UpsellResource, string, error)
}

type amountSetter interface {
	SetAmount(amount float64)
}

// outcomeRouter 各渠道共用的提交后分支：
// OneTime → upsell 弹窗；Monthly → 感谢弹窗；Upsell → 感谢弹窗（原始 + upsell）
type outcomeRouter struct {
	provider models.Provider
	gateway  *PaymentGatewayManager
	modals   *DonationFlowModalManager
	upsell   upsellPreparer

	mu          sync.Mutex
	linkage     *models.UpsellLinkage
	lastOneTime models.DonationAmount
}

// upsellOrigin upsell 关联的原始单次捐款
type upsellOrigin struct {
	donation models.DonationAmount
	result   models.SuccessRecord
}

func newOutcomeRouter(provider models.Provider, gateway *PaymentGatewayManager, modals *DonationFlowModalManager) *outcomeRouter {
	return &outcomeRouter{
		provider: provider,
		gateway:  gateway,
		modals:   modals,
	}
}

// submit 显示处理中弹窗，提交并分支
func (o *outcomeRouter) submit(ctx context.Context, donation models.DonationAmount, submit func(ctx context.Context) (models.SubmissionResult, error), retry func()) {
	o.modals.StartDonationSubmissionFlow(ctx, SubmissionFlow{
		Submit: submit,
		OnSuccess: func(ctx context.Context, result models.SuccessRecord) {
			o.complete(ctx, donation, result, nil)
		},
		OnErrorDismissed: retry,
	})
}

// complete 按捐款类型分支，original 仅在 upsell 流程中非空
func (o *outcomeRouter) complete(ctx context.Context, donation models.DonationAmount, result models.SuccessRecord, original *upsellOrigin) {
	switch donation.DonationType {
	case models.DonationOneTime:
		o.startUpsell(ctx, donation, result)

	case models.DonationMonthly:
		o.modals.ShowThankYouModal(ctx, models.DonationCompletion{
			Provider: o.provider,
			Donation: donation,
			Result:   result,
		})

	case models.DonationUpsell:
		if original == nil {
			log.Printf("Warning: %s upsell result %s arrived outside the upsell flow", o.provider, result.TransactionID)
			o.modals.ShowErrorModal(userMessage(ErrUpsellNotInitiatable), nil)
			return
		}
		o.modals.ShowThankYouModal(ctx, models.DonationCompletion{
			Provider:     o.provider,
			Donation:     original.donation,
			Result:       original.result,
			Upsell:       &result,
			UpsellAmount: donation.Amount,
		})

	default:
		log.Printf("Warning: unknown donation type %q for transaction %s", donation.DonationType, result.TransactionID)
		o.modals.ShowErrorModal(genericErrorMessage, nil)
	}
}

func (o *outcomeRouter) startUpsell(ctx context.Context, donation models.DonationAmount, original models.SuccessRecord) {
	suggested := SuggestUpsell(donation.Amount)
	linkage := &models.UpsellLinkage{Original: original}

	cb := UpsellCallbacks{
		OnDecline: func() { o.finishWithoutUpsell(ctx, "declined") },
		OnDismiss: func() { o.finishWithoutUpsell(ctx, "dismissed") },
	}
	accept := func(ctx context.Context, amount float64, token string) {
		o.acceptUpsell(ctx, amount, token)
	}

	if o.upsell != nil {
		resource, container, err := o.upsell.prepareUpsell(ctx, original, suggested, accept)
		if err != nil {
			log.Printf("Warning: %s upsell button unavailable, falling back to stored payment method: %v", o.provider, err)
		} else {
			linkage.Resource = resource
			cb.ButtonContainer = container
		}
	}
	if cb.ButtonContainer == "" {
		cb.OnAccept = func(amount float64) { accept(ctx, amount, "") }
	}
	cb.OnAmountChanged = func(amount float64) {
		if s, ok := linkage.Resource.(amountSetter); ok {
			s.SetAmount(amount)
		}
	}

	o.mu.Lock()
	previous := o.linkage
	o.linkage = linkage
	o.lastOneTime = donation
	o.mu.Unlock()
	previous.Destroy()

	o.modals.ShowUpsellModal(donation.Amount, cb)
}

// takeLinkage 取出并清空当前 linkage，保证 upsell 只结束一次
func (o *outcomeRouter) takeLinkage() *models.UpsellLinkage {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.linkage
	o.linkage = nil
	return l
}

func (o *outcomeRouter) acceptUpsell(ctx context.Context, amount float64, token string) {
	linkage := o.takeLinkage()
	if linkage == nil {
		log.Printf("Warning: %s upsell accepted with no linkage present", o.provider)
		o.modals.ShowErrorModal(userMessage(ErrUpsellNotLinked), nil)
		return
	}
	original := linkage.Original
	linkage.Destroy()

	o.mu.Lock()
	oneTime := o.lastOneTime
	o.mu.Unlock()

	upsell := models.DonationAmount{
		DonationType: models.DonationUpsell,
		Amount:       amount,
		CoverFees:    oneTime.CoverFees,
	}
	log.Printf("DEBUG: %s upsell accepted: $%s monthly linked to %s", o.provider, formatAmount(amount), original.TransactionID)

	o.modals.StartDonationSubmissionFlow(ctx, SubmissionFlow{
		Submit: func(ctx context.Context) (models.SubmissionResult, error) {
			return o.gateway.SubmitUpsellDonation(ctx, o.provider, original, upsell, token)
		},
		OnSuccess: func(ctx context.Context, result models.SuccessRecord) {
			o.complete(ctx, upsell, result, &upsellOrigin{donation: oneTime, result: original})
		},
		// 原始捐款已经成功，关闭错误弹窗后仍然完成原始捐款
		OnErrorDismissed: func() {
			o.modals.ShowThankYouModal(ctx, models.DonationCompletion{
				Provider: o.provider,
				Donation: oneTime,
				Result:   original,
			})
		},
	})
}

func (o *outcomeRouter) finishWithoutUpsell(ctx context.Context, reason string) {
	linkage := o.takeLinkage()
	if linkage == nil {
		return
	}
	linkage.Destroy()

	o.mu.Lock()
	oneTime := o.lastOneTime
	o.mu.Unlock()

	log.Printf("DEBUG: %s upsell %s for %s", o.provider, reason, linkage.Original.TransactionID)
	o.modals.ShowThankYouModal(ctx, models.DonationCompletion{
		Provider: o.provider,
		Donation: oneTime,
		Result:   linkage.Original,
	})
}
