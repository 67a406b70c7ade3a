package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"speaking-exam-subscription/internal/config"
	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
	"speaking-exam-subscription/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*PaymeGateway)(nil)

const (
	defaultPaymeBaseURL = "https://checkout.paycom.uz"
	paymeStatePaid      = 4
)

// PaymeGateway speaks Payme's JSON-RPC receipts API. Payme is a pull model:
// there is no inbound signature to verify; authenticity lives in the
// X-Auth merchant credential on our own outbound calls. A call reaching the
// verify path without credentials configured is a deployment mistake, not
// a forgery.
type PaymeGateway struct {
	merchantID string
	secretKey  string
	baseURL    string
	client     *http.Client
}

func NewPaymeGateway(cfg config.PaymeConfig) (*PaymeGateway, error) {
	if cfg.MerchantID == "" || cfg.SecretKey == "" {
		return nil, errors.New("payme: merchant_id and secret_key are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultPaymeBaseURL
	}
	return &PaymeGateway{
		merchantID: cfg.MerchantID,
		secretKey:  cfg.SecretKey,
		baseURL:    base,
		client:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *PaymeGateway) Name() model.Provider { return model.ProviderPayme }

type paymeRPCRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

func (g *PaymeGateway) call(ctx context.Context, method string, params map[string]any, result any) error {
	body, _ := json.Marshal(paymeRPCRequest{ID: time.Now().UnixMilli(), Method: method, Params: params})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth", g.merchantID+":"+g.secretKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveProviderCall("payme", method, time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("payme %s failed: code=%d %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	return json.Unmarshal(envelope.Result, result)
}

// Initiate creates a receipt (receipts.create) and returns the checkout
// launch link. The receipt id becomes the provider reference.
func (g *PaymeGateway) Initiate(ctx context.Context, txn *model.Transaction, plan *model.Plan) (adapter.LaunchParams, error) {
	var result struct {
		Receipt struct {
			ID string `json:"_id"`
		} `json:"receipt"`
	}
	params := map[string]any{
		"amount": txn.Amount,
		"account": map[string]any{
			"transaction_id": txn.ID,
		},
	}
	if err := g.call(ctx, "receipts.create", params, &result); err != nil {
		return adapter.LaunchParams{}, err
	}
	if result.Receipt.ID == "" {
		return adapter.LaunchParams{}, fmt.Errorf("%w: empty receipt id", domain.ErrUpstreamUnavailable)
	}

	// Hosted checkout deep link: base64(m=<merchant>;ac.transaction_id=<id>;a=<amount>)
	raw := fmt.Sprintf("m=%s;ac.transaction_id=%s;a=%d", g.merchantID, txn.ID, txn.Amount)
	payURL := g.baseURL + "/" + base64.StdEncoding.EncodeToString([]byte(raw))
	return adapter.LaunchParams{PayURL: payURL, ProviderReference: result.Receipt.ID}, nil
}

// FetchStatus checks a receipt (receipts.check) and normalizes its state.
func (g *PaymeGateway) FetchStatus(ctx context.Context, reference string) (adapter.ProviderState, error) {
	var result struct {
		State int `json:"state"`
	}
	if err := g.call(ctx, "receipts.check", map[string]any{"id": reference}, &result); err != nil {
		return adapter.ProviderState{}, err
	}

	switch {
	case result.State == paymeStatePaid:
		return adapter.ProviderState{Status: adapter.RemoteStatusActive}, nil
	case result.State < 0, result.State == 21, result.State == 50:
		return adapter.ProviderState{Status: adapter.RemoteStatusCanceled}, nil
	default:
		return adapter.ProviderState{Status: adapter.RemoteStatusUnknown}, nil
	}
}
