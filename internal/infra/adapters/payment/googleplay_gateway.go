package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"encoding/json"

	"speaking-exam-subscription/internal/config"
	"speaking-exam-subscription/internal/domain"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
	"speaking-exam-subscription/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*GooglePlayGateway)(nil)

const defaultAndroidPublisherBaseURL = "https://androidpublisher.googleapis.com"

// GooglePlayGateway verifies purchases against the Play Developer API.
// Authenticity is Google's own API echoing matching purchase data back under
// a service-account bearer token; there is no local signature to check.
type GooglePlayGateway struct {
	packageName string
	baseURL     string
	tokens      *GoogleTokenSource
	client      *http.Client
}

func NewGooglePlayGateway(cfg config.GooglePlayConfig, tokens *GoogleTokenSource) (*GooglePlayGateway, error) {
	if cfg.PackageName == "" {
		return nil, errors.New("google_play: package_name is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultAndroidPublisherBaseURL
	}
	return &GooglePlayGateway{
		packageName: cfg.PackageName,
		baseURL:     base,
		tokens:      tokens,
		client:      &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *GooglePlayGateway) Name() model.Provider { return model.ProviderGooglePlay }

func splitGooglePlayReference(ref string) (productID, token string, err error) {
	i := strings.Index(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return "", "", domain.ErrInvalidArgument
	}
	return ref[:i], ref[i+1:], nil
}

// Initiate hands the client the identifiers Play Billing needs. The actual
// purchase happens inside the app; the ledger row is only reserved here.
func (g *GooglePlayGateway) Initiate(ctx context.Context, txn *model.Transaction, plan *model.Plan) (adapter.LaunchParams, error) {
	if plan.GooglePlayProductID == "" {
		return adapter.LaunchParams{}, fmt.Errorf("%w: plan %s has no google play product", domain.ErrInvalidArgument, plan.ID)
	}
	return adapter.LaunchParams{
		SDKParams: map[string]string{
			"package_name":          g.packageName,
			"product_id":            plan.GooglePlayProductID,
			"obfuscated_account_id": txn.ID,
		},
	}, nil
}

// FetchStatus calls purchases.subscriptions.get for a packed
// "productID:purchaseToken" reference and normalizes the answer.
func (g *GooglePlayGateway) FetchStatus(ctx context.Context, reference string) (adapter.ProviderState, error) {
	productID, purchaseToken, err := splitGooglePlayReference(reference)
	if err != nil {
		return adapter.ProviderState{}, err
	}

	accessToken, err := g.tokens.Token(ctx)
	if err != nil {
		return adapter.ProviderState{}, err
	}

	u := fmt.Sprintf("%s/androidpublisher/v3/applications/%s/purchases/subscriptions/%s/tokens/%s",
		g.baseURL, url.PathEscape(g.packageName), url.PathEscape(productID), url.PathEscape(purchaseToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return adapter.ProviderState{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveProviderCall("google_play", "subscriptions_get", time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return adapter.ProviderState{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		// Google rejects unknown/garbled tokens with a 4xx; that is a
		// verification failure, not an outage.
		return adapter.ProviderState{}, domain.ErrSignatureInvalid
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return adapter.ProviderState{}, fmt.Errorf("%w: http %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	// Millis fields arrive as JSON strings in v3.
	var out struct {
		ExpiryTimeMillis string `json:"expiryTimeMillis"`
		OrderID          string `json:"orderId"`
		CancelReason     *int   `json:"cancelReason"`
		PaymentState     *int   `json:"paymentState"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.ProviderState{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	state := adapter.ProviderState{
		OrderID: out.OrderID,
		Renewal: isRenewalOrder(out.OrderID),
	}
	if ms, err := strconv.ParseInt(out.ExpiryTimeMillis, 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		state.ExpiresAt = &t
	}

	now := time.Now()
	switch {
	case state.ExpiresAt != nil && state.ExpiresAt.After(now):
		state.Status = adapter.RemoteStatusActive
	case out.CancelReason != nil:
		state.Status = adapter.RemoteStatusCanceled
	case state.ExpiresAt != nil:
		state.Status = adapter.RemoteStatusExpired
	default:
		state.Status = adapter.RemoteStatusUnknown
	}
	return state, nil
}

// isRenewalOrder detects Play's "..N" order suffix: the base period is
// GPA.xxxx, renewals are GPA.xxxx..0, GPA.xxxx..1 and so on.
func isRenewalOrder(orderID string) bool {
	i := strings.LastIndex(orderID, "..")
	return i >= 0 && i+2 < len(orderID)
}
