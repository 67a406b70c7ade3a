package payment

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"speaking-exam-subscription/internal/config"
	"speaking-exam-subscription/internal/domain"
	red "speaking-exam-subscription/internal/infra/redis"

	"github.com/golang-jwt/jwt/v5"
)

const (
	androidPublisherScope = "https://www.googleapis.com/auth/androidpublisher"
	jwtBearerGrantType    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// GoogleTokenSource mints androidpublisher access tokens via the OAuth2
// JWT-bearer grant and keeps them in an injected cache. The cache key
// includes the service-account identity and package name, so a deployment
// hosting several apps never cross-serves tokens.
type GoogleTokenSource struct {
	clientEmail string
	privateKey  *rsa.PrivateKey
	tokenURL    string
	packageName string
	cache       red.TokenCache
	client      *http.Client
	now         func() time.Time
}

func NewGoogleTokenSource(cfg config.GooglePlayConfig, cache red.TokenCache) (*GoogleTokenSource, error) {
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.New("google_play: client_email and private_key are required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("google_play: parse private key: %w", err)
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultGoogleTokenURL
	}
	return &GoogleTokenSource{
		clientEmail: cfg.ClientEmail,
		privateKey:  key,
		tokenURL:    tokenURL,
		packageName: cfg.PackageName,
		cache:       cache,
		client:      &http.Client{Timeout: 15 * time.Second},
		now:         time.Now,
	}, nil
}

func (ts *GoogleTokenSource) cacheKey() string {
	return "gp_oauth:" + ts.clientEmail + ":" + ts.packageName
}

// Token returns a cached access token or exchanges a freshly signed
// assertion. Tokens live ~1 hour; re-signing a JWT per request would be
// pure waste against Google's quota.
func (ts *GoogleTokenSource) Token(ctx context.Context) (string, error) {
	if tok, err := ts.cache.Get(ctx, ts.cacheKey()); err == nil && tok != "" {
		return tok, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: token exchange http %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrUpstreamUnavailable)
	}

	ttl := time.Duration(out.ExpiresIn)*time.Second - time.Minute
	if ttl > 0 {
		_ = ts.cache.Set(ctx, ts.cacheKey(), out.AccessToken, ttl)
	}
	return out.AccessToken, nil
}

func (ts *GoogleTokenSource) signAssertion() (string, error) {
	now := ts.now()
	claims := jwt.MapClaims{
		"iss":   ts.clientEmail,
		"scope": androidPublisherScope,
		"aud":   ts.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(ts.privateKey)
}
