package payment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"speaking-exam-subscription/internal/config"
	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
	"speaking-exam-subscription/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*ClickGateway)(nil)

const (
	defaultClickBaseURL = "https://api.click.uz/v2/merchant"
	clickCheckoutURL    = "https://my.click.uz/services/pay"
)

// ClickGateway implements the Click SHOP-API merchant flow. Inbound webhook
// signatures are verified with the pure functions in click_sign.go; this type
// covers initiation (signed checkout URL) and remote status polls.
type ClickGateway struct {
	serviceID      string
	merchantID     string
	merchantUserID string
	secretKey      string
	returnURL      string
	baseURL        string
	client         *http.Client
}

func NewClickGateway(cfg config.ClickConfig) (*ClickGateway, error) {
	if cfg.ServiceID == "" || cfg.MerchantID == "" || cfg.SecretKey == "" {
		return nil, errors.New("click: service_id, merchant_id and secret_key are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultClickBaseURL
	}
	return &ClickGateway{
		serviceID:      cfg.ServiceID,
		merchantID:     cfg.MerchantID,
		merchantUserID: cfg.MerchantUserID,
		secretKey:      cfg.SecretKey,
		returnURL:      cfg.ReturnURL,
		baseURL:        base,
		client:         &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *ClickGateway) Name() model.Provider { return model.ProviderClick }

func (g *ClickGateway) ServiceID() string { return g.serviceID }
func (g *ClickGateway) SecretKey() string { return g.secretKey }

// Initiate builds the hosted-checkout URL. The ledger id travels as
// transaction_param and comes back as merchant_trans_id on the webhook.
func (g *ClickGateway) Initiate(ctx context.Context, txn *model.Transaction, plan *model.Plan) (adapter.LaunchParams, error) {
	q := url.Values{}
	q.Set("service_id", g.serviceID)
	q.Set("merchant_id", g.merchantID)
	q.Set("amount", FormatClickAmount(txn.Amount))
	q.Set("transaction_param", txn.ID)
	if g.returnURL != "" {
		q.Set("return_url", g.returnURL)
	}
	return adapter.LaunchParams{PayURL: clickCheckoutURL + "?" + q.Encode()}, nil
}

// authHeader builds Click's merchant API digest: user:sha1(ts+secret):ts.
func (g *ClickGateway) authHeader(now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	sum := sha1.Sum([]byte(ts + g.secretKey))
	return g.merchantUserID + ":" + hex.EncodeToString(sum[:]) + ":" + ts
}

// FetchStatus polls the merchant API for a click_trans_id.
func (g *ClickGateway) FetchStatus(ctx context.Context, reference string) (adapter.ProviderState, error) {
	u := fmt.Sprintf("%s/payment/status/%s/%s", g.baseURL, g.serviceID, url.PathEscape(reference))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return adapter.ProviderState{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Auth", g.authHeader(time.Now()))

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveProviderCall("click", "payment_status", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return adapter.ProviderState{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.ProviderState{}, fmt.Errorf("%w: http %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out struct {
		ErrorCode     int    `json:"error_code"`
		ErrorNote     string `json:"error_note"`
		PaymentStatus int    `json:"payment_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.ProviderState{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case out.ErrorCode == 0 && out.PaymentStatus == 2:
		return adapter.ProviderState{Status: adapter.RemoteStatusActive}, nil
	case out.PaymentStatus < 0:
		return adapter.ProviderState{Status: adapter.RemoteStatusCanceled}, nil
	default:
		return adapter.ProviderState{Status: adapter.RemoteStatusUnknown}, nil
	}
}
