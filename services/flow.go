package services

import (
	"context"
	"errors"
	"log"

	"github.com/zhifu/donation-flow/models"
)

// AmountField 金额输入框在内联提示中的名称
const AmountField = "amount"

// flowBase 各渠道处理器共用的校验与提交
type flowBase struct {
	provider models.Provider
	gateway  *PaymentGatewayManager
	modals   *DonationFlowModalManager
	feedback FormFeedback
	outcome  *outcomeRouter
}

func newFlowBase(provider models.Provider, gateway *PaymentGatewayManager, modals *DonationFlowModalManager, feedback FormFeedback) flowBase {
	return flowBase{
		provider: provider,
		gateway:  gateway,
		modals:   modals,
		feedback: feedback,
		outcome:  newOutcomeRouter(provider, gateway, modals),
	}
}

// Provider 渠道
func (b *flowBase) Provider() models.Provider {
	return b.provider
}

// validationError 校验失败，提示已经展示给捐赠人
type validationError struct{ err error }

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

func isValidationError(err error) bool {
	var v *validationError
	return errors.As(err, &v)
}

// validate 提交前检查；金额问题只做内联提示，不发请求
func (b *flowBase) validate(donation models.DonationAmount) error {
	if err := b.check(donation); err != nil {
		return &validationError{err: err}
	}
	return nil
}

func (b *flowBase) check(donation models.DonationAmount) error {
	switch {
	case donation.DonationType == models.DonationUpsell:
		log.Printf("Warning: %s payment initiated with upsell type", b.provider)
		b.modals.ShowErrorModal(userMessage(ErrUpsellNotInitiatable), nil)
		return ErrUpsellNotInitiatable
	case !donation.DonationType.Valid():
		log.Printf("Warning: %s payment initiated with unknown donation type %q", b.provider, donation.DonationType)
		b.modals.ShowErrorModal(genericErrorMessage, nil)
		return errors.New("unknown donation type")
	}

	if err := models.ValidateAmount(donation.Amount); err != nil {
		if b.feedback != nil {
			b.feedback.ShowInlineError(AmountField, userMessage(err))
		}
		return err
	}
	if b.feedback != nil {
		b.feedback.ClearInlineError(AmountField)
	}
	return nil
}

// submitToken 组装请求并进入提交流程
func (b *flowBase) submitToken(ctx context.Context, donation models.DonationAmount, contact models.DonorContactInfo, token PaymentToken, recaptcha string, retry func()) {
	b.outcome.submit(ctx, donation, func(ctx context.Context) (models.SubmissionResult, error) {
		req := b.gateway.BuildRequest(b.provider, token, donation, contact)
		req.RecaptchaToken = recaptcha
		return b.gateway.SubmitDonation(ctx, req)
	}, retry)
}

// recoverFlow 处理器边界：SDK 的 panic 不向外传播
func (b *flowBase) recoverFlow() {
	if r := recover(); r != nil {
		log.Printf("Warning: %s payment flow panicked: %v", b.provider, r)
		b.modals.ShowErrorModal(genericErrorMessage, nil)
	}
}

// providerFailed SDK 报错（非取消）时的统一处理
func (b *flowBase) providerFailed(err error) {
	log.Printf("Warning: %s provider error (%s): %v", b.provider, Kind(err), err)
	b.modals.ShowErrorModal(providerFailedMessage, nil)
}

func contactOrEmpty(contact *models.DonorContactInfo) models.DonorContactInfo {
	if contact == nil {
		return models.DonorContactInfo{}
	}
	return *contact
}
