package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/models"
)

const (
	appleVerifyReceiptProdURL    = "https://buy.itunes.apple.com/verifyReceipt"
	appleVerifyReceiptSandboxURL = "https://sandbox.itunes.apple.com/verifyReceipt"

	// appleStatusSandboxReceipt is returned by production for a sandbox receipt.
	appleStatusSandboxReceipt = 21007
)

// Apple store states derived from the latest receipt entry.
const (
	AppleStateActive   = "ACTIVE"
	AppleStateExpired  = "EXPIRED"
	AppleStateCanceled = "CANCELED"
)

type AppleIAPConfig struct {
	SharedSecret string

	// Overridable for tests.
	ProductionURL string
	SandboxURL    string
	HTTPClient    *http.Client
	Now           func() time.Time
}

// AppleVerifier validates App Store receipts against the verifyReceipt endpoint.
type AppleVerifier struct {
	sharedSecret string
	prodURL      string
	sandboxURL   string
	client       *http.Client
	now          func() time.Time
	log          zerolog.Logger
}

func NewAppleVerifier(cfg AppleIAPConfig, log zerolog.Logger) (*AppleVerifier, error) {
	if strings.TrimSpace(cfg.SharedSecret) == "" {
		return nil, errors.New("apple iap: shared secret is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	v := &AppleVerifier{
		sharedSecret: strings.TrimSpace(cfg.SharedSecret),
		prodURL:      cfg.ProductionURL,
		sandboxURL:   cfg.SandboxURL,
		client:       client,
		now:          cfg.Now,
		log:          log,
	}
	if v.prodURL == "" {
		v.prodURL = appleVerifyReceiptProdURL
	}
	if v.sandboxURL == "" {
		v.sandboxURL = appleVerifyReceiptSandboxURL
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

func (v *AppleVerifier) Platform() models.Platform { return models.PlatformIOS }

type appleReceiptEntry struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ExpiresDateMS         string `json:"expires_date_ms"`
	CancellationDateMS    string `json:"cancellation_date_ms"`
}

type applePendingRenewal struct {
	ProductID          string `json:"product_id"`
	AutoRenewProductID string `json:"auto_renew_product_id"`
	AutoRenewStatus    string `json:"auto_renew_status"`
}

type appleVerifyResponse struct {
	Status            int                   `json:"status"`
	Environment       string                `json:"environment"`
	LatestReceiptInfo []appleReceiptEntry   `json:"latest_receipt_info"`
	PendingRenewal    []applePendingRenewal `json:"pending_renewal_info"`
	Receipt           struct {
		InApp []appleReceiptEntry `json:"in_app"`
	} `json:"receipt"`
}

// Verify checks the receipt for productID. A receipt without an entry for the product yields a
// not-found verification rather than an error.
func (v *AppleVerifier) Verify(ctx context.Context, receipt, productID string, _ PlatformContext) (models.Verification, error) {
	receipt = strings.TrimSpace(receipt)
	productID = strings.TrimSpace(productID)
	if receipt == "" || productID == "" {
		return models.Verification{}, errors.New("receipt and product_id are required")
	}

	resp, err := v.post(ctx, v.prodURL, receipt)
	if err != nil {
		return models.Verification{}, err
	}
	if resp.Status == appleStatusSandboxReceipt {
		v.log.Info().Str("product_id", productID).Msg("apple receipt is from sandbox, retrying")
		resp, err = v.post(ctx, v.sandboxURL, receipt)
		if err != nil {
			return models.Verification{}, err
		}
	}
	if resp.Status != 0 {
		return models.Verification{}, &VerificationError{Store: "apple", Status: resp.Status}
	}

	return v.fromResponse(resp, productID), nil
}

func (v *AppleVerifier) post(ctx context.Context, url, receipt string) (appleVerifyResponse, error) {
	body, err := json.Marshal(map[string]any{
		"receipt-data":             receipt,
		"password":                 v.sharedSecret,
		"exclude-old-transactions": true,
	})
	if err != nil {
		return appleVerifyResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return appleVerifyResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return appleVerifyResponse{}, fmt.Errorf("apple verifyReceipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return appleVerifyResponse{}, &VerificationError{
			Store:      "apple",
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(detail)),
		}
	}

	var out appleVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return appleVerifyResponse{}, fmt.Errorf("decode apple response: %w", err)
	}
	return out, nil
}

func (v *AppleVerifier) fromResponse(resp appleVerifyResponse, productID string) models.Verification {
	entries := resp.LatestReceiptInfo
	if len(entries) == 0 {
		entries = resp.Receipt.InApp
	}

	matching := make([]appleReceiptEntry, 0, len(entries))
	for _, e := range entries {
		if e.ProductID == productID {
			matching = append(matching, e)
		}
	}
	if len(matching) == 0 {
		return models.NotFoundVerification(models.PlatformIOS, productID, nil)
	}

	// Latest renewal first.
	sort.SliceStable(matching, func(i, j int) bool {
		return parseMillis(matching[i].ExpiresDateMS) > parseMillis(matching[j].ExpiresDateMS)
	})
	latest := matching[0]

	expiresAt := parseMillis(latest.ExpiresDateMS)
	canceled := parseMillis(latest.CancellationDateMS) > 0
	active := !canceled && expiresAt > v.now().UnixMilli()

	state := AppleStateExpired
	switch {
	case canceled:
		state = AppleStateCanceled
	case active:
		state = AppleStateActive
	}

	autoRenew := false
	for _, p := range resp.PendingRenewal {
		if p.ProductID == productID {
			autoRenew = p.AutoRenewStatus == "1"
			break
		}
	}

	raw, _ := json.Marshal(latest)
	ver := models.Verification{
		IsActive:        active,
		Platform:        models.PlatformIOS,
		ProductID:       productID,
		StoreState:      state,
		ExpiresAtMillis: expiresAt,
		AutoRenew:       autoRenew,
		Raw:             raw,
	}
	if latest.TransactionID != "" {
		txn := latest.TransactionID
		ver.TransactionID = &txn
	}
	return ver
}

func parseMillis(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return ms
}
