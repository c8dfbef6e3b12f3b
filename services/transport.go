package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/zhifu/donation-flow/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransportConfig 捐款接口与完成跳转
type TransportConfig struct {
	SubmitURL   string        `mapstructure:"submit_url"`
	ThankYouURL string        `mapstructure:"thank_you_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Redirector 让页面跳转
type Redirector interface {
	Redirect(ctx context.Context, target string) error
}

// sharedHTTPClient 所有页面会话共用的连接池
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	},
	Timeout: 30 * time.Second,
}

// DonationTransport 完成协作方：HTTP 提交、流水记录、跳转感谢页
type DonationTransport struct {
	cfg      TransportConfig
	client   *http.Client
	db       *gorm.DB
	redirect Redirector
}

// NewDonationTransport db 和 redirect 可以为空
func NewDonationTransport(cfg TransportConfig, db *gorm.DB, redirect Redirector) *DonationTransport {
	return &DonationTransport{
		cfg:      cfg,
		client:   sharedHTTPClient,
		db:       db,
		redirect: redirect,
	}
}

// WithHTTPClient 替换HTTP客户端
func (t *DonationTransport) WithHTTPClient(c *http.Client) *DonationTransport {
	t.client = c
	return t
}

// SubmitData 提交捐款；业务失败（卡被拒等）在结果中返回，传输或解析失败返回错误
func (t *DonationTransport) SubmitData(ctx context.Context, req models.SubmissionRequest) (models.SubmissionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("encode submission: %w", err)
	}
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.SubmitURL, bytes.NewReader(body))
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("create submission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("send submission: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("read submission response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return models.SubmissionResult{}, fmt.Errorf("%w: status %d", ErrSubmissionFailed, resp.StatusCode)
	}

	var result models.SubmissionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return models.SubmissionResult{}, fmt.Errorf("%w: decode response (status %d): %v", ErrSubmissionFailed, resp.StatusCode, err)
	}
	log.Printf("DEBUG: submission response: status=%d success=%t", resp.StatusCode, result.Success)
	return result, nil
}

// DonationSuccessful 记录流水并跳转感谢页
func (t *DonationTransport) DonationSuccessful(ctx context.Context, completion models.DonationCompletion) error {
	if t.db != nil {
		if err := t.record(ctx, completion); err != nil {
			// 流水失败不影响捐赠人
			log.Printf("Warning: failed to record donation %s: %v", completion.Result.TransactionID, err)
		}
	}
	if t.redirect == nil || t.cfg.ThankYouURL == "" {
		return nil
	}
	return t.redirect.Redirect(ctx, ThankYouLocation(t.cfg.ThankYouURL, completion))
}

func (t *DonationTransport) record(ctx context.Context, completion models.DonationCompletion) error {
	rows := LedgerRows(completion)
	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "transaction_id"}}, DoNothing: true}).
		Create(&rows).Error
}

// LedgerRows 一次完成对应的流水行，upsell 关联原始交易
func LedgerRows(completion models.DonationCompletion) []models.Donation {
	rows := []models.Donation{{
		TransactionID: completion.Result.TransactionID,
		CustomerID:    completion.Result.CustomerID,
		Email:         completion.Result.Customer.Email,
		Amount:        completion.Donation.Amount,
		Provider:      string(completion.Provider),
		DonationType:  string(completion.Donation.DonationType),
		Status:        models.StatusCompleted,
	}}
	if completion.Upsell != nil {
		rows = append(rows, models.Donation{
			TransactionID:       completion.Upsell.TransactionID,
			CustomerID:          completion.Upsell.CustomerID,
			Email:               completion.Upsell.Customer.Email,
			Amount:              completion.UpsellAmount,
			Provider:            string(completion.Provider),
			DonationType:        string(models.DonationUpsell),
			OriginalTransaction: completion.Result.TransactionID,
			Status:              models.StatusCompleted,
		})
	}
	return rows
}

// ThankYouLocation 感谢页地址，带上交易号
func ThankYouLocation(base string, completion models.DonationCompletion) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("transaction", completion.Result.TransactionID)
	if completion.Upsell != nil {
		q.Set("upsell", completion.Upsell.TransactionID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
