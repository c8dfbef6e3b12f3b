package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DonationType 捐款类型
type DonationType string

const (
	DonationOneTime DonationType = "one-time"
	DonationMonthly DonationType = "monthly"
	DonationUpsell  DonationType = "upsell"
)

// Valid 是否为已知类型
func (t DonationType) Valid() bool {
	switch t {
	case DonationOneTime, DonationMonthly, DonationUpsell:
		return true
	}
	return false
}

// 金额范围 [MinAmount, MaxAmount)
const (
	MinAmount = 1.0
	MaxAmount = 10000.0
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrAmountTooLow  = errors.New("amount too low")
	ErrAmountTooHigh = errors.New("amount too high")
)

// ParseAmount 解析并校验用户输入的金额
func ParseAmount(input string) (float64, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}

	amount, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	if err := ValidateAmount(amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// ValidateAmount 校验金额范围
func ValidateAmount(amount float64) error {
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		return ErrInvalidAmount
	case amount < MinAmount:
		return ErrAmountTooLow
	case amount >= MaxAmount:
		return ErrAmountTooHigh
	}
	return nil
}

// FeeSchedule 手续费规则：fee = amount*Rate + Base
type FeeSchedule struct {
	Rate float64 `mapstructure:"rate" json:"rate"`
	Base float64 `mapstructure:"base" json:"base"`
}

// DefaultFeeSchedule 默认手续费
var DefaultFeeSchedule = FeeSchedule{Rate: 0.022, Base: 0.30}

// Fee 计算手续费（四舍五入到分）
func (f FeeSchedule) Fee(amount float64) float64 {
	return RoundCents(amount*f.Rate + f.Base)
}

// RoundCents 四舍五入到分
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// DonationAmount 一次捐款的金额信息，手续费和总额都是派生值
type DonationAmount struct {
	DonationType DonationType `json:"donationType" dynamodbav:"donation_type"`
	Amount       float64      `json:"amount" dynamodbav:"amount"`
	CoverFees    bool         `json:"coverFees" dynamodbav:"cover_fees"`
}

// Fee 手续费
func (d DonationAmount) Fee(schedule FeeSchedule) float64 {
	return schedule.Fee(d.Amount)
}

// CoveredFee 捐赠人承担的手续费，不承担时为0
func (d DonationAmount) CoveredFee(schedule FeeSchedule) float64 {
	if !d.CoverFees {
		return 0
	}
	return d.Fee(schedule)
}

// Total 实际扣款金额
func (d DonationAmount) Total(schedule FeeSchedule) float64 {
	if !d.CoverFees {
		return d.Amount
	}
	return RoundCents(d.Amount + d.Fee(schedule))
}

func (d DonationAmount) String() string {
	return fmt.Sprintf("%s $%.2f (cover fees: %t)", d.DonationType, d.Amount, d.CoverFees)
}

// Donation 已完成捐款的流水记录
type Donation struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	TransactionID       string    `gorm:"size:64;uniqueIndex" json:"transaction_id"`
	CustomerID          string    `gorm:"size:64;index" json:"customer_id"`
	Email               string    `gorm:"size:255" json:"email"`
	Amount              float64   `gorm:"type:decimal(10,2)" json:"amount"`
	Provider            string    `gorm:"size:20;index" json:"provider"` // credit-card, paypal, venmo, apple-pay, google-pay
	DonationType        string    `gorm:"size:20;index" json:"donation_type"`
	OriginalTransaction string    `gorm:"size:64;index" json:"original_transaction"` // upsell 关联的原始交易
	Status              string    `gorm:"size:20;index" json:"status"`               // completed
	CreatedAt           time.Time `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// 流水状态
const (
	StatusCompleted = "completed"
)
