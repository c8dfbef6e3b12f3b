package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/zhifu/donation-flow/models"
	"github.com/zhifu/donation-flow/utils"
)

// Venmo 取消授权时 SDK 返回的错误码
const venmoCanceled = "VENMO_CANCELED"

// VenmoHandler Venmo 流程；授权可能切换到 Venmo App 并在新标签页返回
type VenmoHandler struct {
	flowBase
	client  VenmoClient
	store   RestorationStore
	session SessionInfo
	ttl     time.Duration
}

func newVenmoHandler(base flowBase, client VenmoClient, store RestorationStore, session SessionInfo, ttl time.Duration) *VenmoHandler {
	return &VenmoHandler{
		flowBase: base,
		client:   client,
		store:    store,
		session:  session,
		ttl:      ttl,
	}
}

// IsMobileFirefox 移动端 Firefox 无法从 Venmo App 返回
func IsMobileFirefox(userAgent string) bool {
	if strings.Contains(userAgent, "FxiOS") {
		return true
	}
	return strings.Contains(userAgent, "Firefox") &&
		(strings.Contains(userAgent, "Mobile") || strings.Contains(userAgent, "Android"))
}

// Available 移动端 Firefox 一律不支持，其余以 SDK 检查为准
func (h *VenmoHandler) Available(context.Context) bool {
	if IsMobileFirefox(h.session.UserAgent) {
		return false
	}
	return h.client.IsBrowserSupported()
}

// PaymentInitiated 先保存表单快照再调起 Venmo
func (h *VenmoHandler) PaymentInitiated(ctx context.Context, donation models.DonationAmount, contact *models.DonorContactInfo) {
	defer h.recoverFlow()
	if err := h.validate(donation); err != nil {
		return
	}
	if !h.Available(ctx) {
		h.providerFailed(ErrProviderUnavailable)
		return
	}
	h.tokenize(ctx, donation, contactOrEmpty(contact))
}

// tokenize 保存快照后授权；页面中途离开时快照保留给返回的标签页，由过期时间清理
func (h *VenmoHandler) tokenize(ctx context.Context, donation models.DonationAmount, contact models.DonorContactInfo) {
	h.persist(ctx, donation, contact)
	token, err := h.client.Tokenize(ctx)
	if err != nil && interrupted(err) {
		log.Printf("DEBUG: venmo tokenization interrupted, keeping snapshot for %s: %v", h.session.RestorationKey, err)
		return
	}
	h.clear(ctx)
	if err != nil {
		if isVenmoCancel(err) {
			log.Printf("DEBUG: venmo authorization cancelled by donor")
			return
		}
		h.providerFailed(err)
		return
	}

	h.submitToken(ctx, donation, contact, token, "", nil)
}

// Resume 页面启动时调用：已有授权结果则用保存的快照继续支付。
// 返回是否发现了授权结果。
func (h *VenmoHandler) Resume(ctx context.Context) bool {
	if !h.client.HasTokenizationResult() {
		return false
	}
	snap, ok, err := h.load(ctx)
	if err != nil || !ok {
		if err == nil {
			err = ErrRestorationMissing
		}
		log.Printf("Warning: venmo returned with a result but no saved donation for %s: %v", h.session.RestorationKey, err)
		h.modals.ShowErrorModal(userMessage(ErrRestorationMissing), nil)
		return true
	}

	log.Printf("DEBUG: resuming venmo donation %s", snap.Donation)
	h.resume(ctx, snap)
	return true
}

func (h *VenmoHandler) resume(ctx context.Context, snap models.RestorationSnapshot) {
	defer h.recoverFlow()
	if err := h.validate(snap.Donation); err != nil {
		h.clear(ctx)
		return
	}
	if !h.Available(ctx) {
		h.clear(ctx)
		h.providerFailed(ErrProviderUnavailable)
		return
	}
	h.tokenize(ctx, snap.Donation, snap.Contact)
}

// HandoffQRCode 桌面浏览器展示二维码，在手机上继续捐款
func (h *VenmoHandler) HandoffQRCode() ([]byte, error) {
	if h.session.PageURL == "" {
		return nil, errors.New("no page url for venmo handoff")
	}
	return utils.GenerateQRCode(h.session.PageURL, utils.DefaultQRCodeSize)
}

func (h *VenmoHandler) persist(ctx context.Context, donation models.DonationAmount, contact models.DonorContactInfo) {
	if h.store == nil || h.session.RestorationKey == "" {
		return
	}
	now := time.Now()
	snap := models.RestorationSnapshot{
		Key:       h.session.RestorationKey,
		Contact:   contact,
		Donation:  donation,
		CreatedAt: now,
	}
	if h.ttl > 0 {
		snap.ExpiresAt = now.Add(h.ttl).Unix()
	}
	// 保存失败时同标签页内仍可完成
	if err := h.store.Put(ctx, snap); err != nil {
		log.Printf("Warning: failed to save venmo restoration snapshot: %v", err)
	}
}

func (h *VenmoHandler) load(ctx context.Context) (models.RestorationSnapshot, bool, error) {
	if h.store == nil || h.session.RestorationKey == "" {
		return models.RestorationSnapshot{}, false, nil
	}
	return h.store.Get(ctx, h.session.RestorationKey)
}

func (h *VenmoHandler) clear(ctx context.Context) {
	if h.store == nil || h.session.RestorationKey == "" {
		return
	}
	if err := h.store.Clear(ctx, h.session.RestorationKey); err != nil {
		log.Printf("Warning: failed to clear venmo restoration snapshot: %v", err)
	}
}

// interrupted 页面断开或调用被取消，不是授权的最终结果
func interrupted(err error) bool {
	return errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isVenmoCancel(err error) bool {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) && (sdkErr.Code == venmoCanceled || sdkErr.Code == "VENMO_APP_CANCELED") {
		return true
	}
	return errors.Is(err, ErrProviderCancelled)
}
