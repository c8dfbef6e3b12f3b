package services

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/zhifu/donation-flow/models"
)

// Google Pay 取消时 SDK 返回的状态码
const googlePayCanceled = "CANCELED"

var (
	googlePayNetworks    = []string{"AMEX", "DISCOVER", "MASTERCARD", "VISA"}
	googlePayAuthMethods = []string{"PAN_ONLY", "CRYPTOGRAM_3DS"}
)

// GooglePayHandler Google Pay 流程
type GooglePayHandler struct {
	flowBase
	client GooglePayClient
}

func newGooglePayHandler(base flowBase, client GooglePayClient) *GooglePayHandler {
	return &GooglePayHandler{flowBase: base, client: client}
}

// PaymentRequest 允许的支付方式：卡网络、完整账单地址、邮箱
func (h *GooglePayHandler) PaymentRequest(donation models.DonationAmount) GooglePayRequest {
	card := GooglePayPaymentMethod{Type: "CARD"}
	card.Parameters.AllowedAuthMethods = googlePayAuthMethods
	card.Parameters.AllowedCardNetworks = googlePayNetworks
	card.Parameters.BillingAddressRequired = true
	card.Parameters.BillingAddressParameter.Format = "FULL"

	req := GooglePayRequest{
		APIVersion:            2,
		APIVersionMinor:       0,
		AllowedPaymentMethods: []GooglePayPaymentMethod{card},
		EmailRequired:         true,
	}
	req.TransactionInfo.CurrencyCode = "USD"
	req.TransactionInfo.TotalPriceStatus = "FINAL"
	req.TransactionInfo.TotalPrice = formatAmount(donation.Total(h.gateway.Config().Fees))
	return req
}

// Available 钱包可用
func (h *GooglePayHandler) Available(ctx context.Context) bool {
	ready, err := h.client.IsReadyToPay(ctx, h.PaymentRequest(models.DonationAmount{DonationType: models.DonationOneTime, Amount: models.MinAmount}))
	if err != nil {
		log.Printf("Warning: google pay readiness check failed: %v", err)
		return false
	}
	return ready
}

func (h *GooglePayHandler) PaymentInitiated(ctx context.Context, donation models.DonationAmount, _ *models.DonorContactInfo) {
	defer h.recoverFlow()
	if err := h.validate(donation); err != nil {
		return
	}

	data, err := h.client.LoadPaymentData(ctx, h.PaymentRequest(donation))
	if err != nil {
		if isGooglePayCancel(err) {
			log.Printf("DEBUG: google pay sheet closed by donor")
			return
		}
		h.providerFailed(err)
		return
	}

	h.submitToken(ctx, donation, contactFromGooglePay(data), data.Token, "", nil)
}

func isGooglePayCancel(err error) bool {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) && sdkErr.Code == googlePayCanceled {
		return true
	}
	return errors.Is(err, ErrProviderCancelled)
}

func contactFromGooglePay(data GooglePaymentData) models.DonorContactInfo {
	first, last := splitFullName(data.BillingAddress.Name)
	addr := data.BillingAddress
	extended := strings.TrimSpace(strings.Join([]string{addr.Address2, addr.Address3}, " "))
	return models.DonorContactInfo{
		Customer: models.Customer{
			Email:     data.Email,
			FirstName: first,
			LastName:  last,
		},
		Billing: models.BillingAddress{
			StreetAddress:   addr.Address1,
			ExtendedAddress: extended,
			Locality:        addr.Locality,
			Region:          addr.AdministrativeArea,
			PostalCode:      addr.PostalCode,
			CountryCode:     addr.CountryCode,
		},
	}
}

// splitFullName 按最后一个空格拆分姓名。
// "Mary Ann Smith" 得到 "Mary Ann" / "Smith"；没有空格时全部作为名。
func splitFullName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	i := strings.LastIndex(name, " ")
	if i < 0 {
		return name, ""
	}
	return strings.TrimSpace(name[:i]), name[i+1:]
}
