package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/zhifu/donation-flow/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingRedirector struct {
	targets []string
}

func (r *recordingRedirector) Redirect(_ context.Context, target string) error {
	r.targets = append(r.targets, target)
	return nil
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal(err)
	}
	return db, mock
}

func TestTransport_SubmitData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     error
		wantSuccess bool
	}{
		{
			name:        "success",
			status:      http.StatusOK,
			body:        `{"success":true,"value":{"transactionId":"txn-1","customerId":"c-1","customer":{"email":"a@b.c"},"billing":{}}}`,
			wantSuccess: true,
		},
		{
			name:   "declined",
			status: http.StatusUnprocessableEntity,
			body:   `{"success":false,"value":{"message":"Card declined","errors":[{"code":"2000","message":"Do Not Honor"}]}}`,
		},
		{
			name:    "server error",
			status:  http.StatusBadGateway,
			body:    `oops`,
			wantErr: ErrSubmissionFailed,
		},
		{
			name:    "garbage body",
			status:  http.StatusOK,
			body:    `<html>`,
			wantErr: ErrSubmissionFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got models.SubmissionRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
				}
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("decode request: %v", err)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr := NewDonationTransport(TransportConfig{SubmitURL: srv.URL}, nil, nil).WithHTTPClient(srv.Client())
			res, err := tr.SubmitData(context.Background(), models.SubmissionRequest{
				PaymentToken: "nonce",
				Provider:     models.ProviderCreditCard,
				Amount:       20,
				DonationType: models.DonationOneTime,
				CustomFields: models.CustomFields{FeeAmountCovered: 0.74},
			})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Success != tt.wantSuccess {
				t.Fatalf("expected success %v, got %v", tt.wantSuccess, res.Success)
			}
			if got.PaymentToken != "nonce" || got.CustomFields.FeeAmountCovered != 0.74 {
				t.Fatalf("unexpected request body %+v", got)
			}
			if !tt.wantSuccess && (res.Error.Message != "Card declined" || len(res.Error.Errors) != 1) {
				t.Fatalf("unexpected error record %+v", res.Error)
			}
		})
	}
}

func TestTransport_DonationSuccessfulRecordsAndRedirects(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `donations`")).WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	redirect := &recordingRedirector{}
	tr := NewDonationTransport(TransportConfig{ThankYouURL: "/thank-you?campaign=spring"}, db, redirect)

	upsell := models.SuccessRecord{TransactionID: "txn-2"}
	err := tr.DonationSuccessful(context.Background(), models.DonationCompletion{
		Provider:     models.ProviderPayPal,
		Donation:     oneTime(20),
		Result:       models.SuccessRecord{TransactionID: "txn-1"},
		Upsell:       &upsell,
		UpsellAmount: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if len(redirect.targets) != 1 || redirect.targets[0] != "/thank-you?campaign=spring&transaction=txn-1&upsell=txn-2" {
		t.Fatalf("unexpected redirect %v", redirect.targets)
	}
}

func TestLedgerRows(t *testing.T) {
	t.Parallel()

	rows := LedgerRows(models.DonationCompletion{
		Provider: models.ProviderVenmo,
		Donation: monthly(30),
		Result:   models.SuccessRecord{TransactionID: "txn-1", Customer: models.Customer{Email: "a@b.c"}},
	})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Provider != "venmo" || rows[0].DonationType != "monthly" || rows[0].Amount != 30 || rows[0].Status != models.StatusCompleted {
		t.Fatalf("unexpected row %+v", rows[0])
	}

	upsell := models.SuccessRecord{TransactionID: "txn-2"}
	rows = LedgerRows(models.DonationCompletion{
		Provider:     models.ProviderVenmo,
		Donation:     oneTime(30),
		Result:       models.SuccessRecord{TransactionID: "txn-1"},
		Upsell:       &upsell,
		UpsellAmount: 10,
	})
	if len(rows) != 2 || rows[1].OriginalTransaction != "txn-1" || rows[1].Amount != 10 || rows[1].DonationType != "upsell" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}
