// Package identity verifies third-party identity tokens against external
// OAuth providers, guarded by a circuit breaker, bounded retries and a
// two-tier fallback cache.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	domain "github.com/finvault/gateway/internal/domain/identity"
	"github.com/finvault/gateway/internal/errors"
)

// Verifier validates a raw identity token with one external provider.
type Verifier interface {
	// Name is the provider identifier, e.g. "google".
	Name() string
	// VerifyToken introspects the token. It returns ProviderRejected when
	// the provider answered and the token is invalid, and
	// ProviderUnavailable for transport-level failures.
	VerifyToken(ctx context.Context, token string) (domain.UserInfo, error)
}

// googleTokenInfoURL is Google's ID-token introspection endpoint.
const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// facebookDebugTokenURL is Facebook's token introspection endpoint.
const facebookDebugTokenURL = "https://graph.facebook.com/debug_token"

// GoogleVerifier validates Google ID tokens via the tokeninfo endpoint.
type GoogleVerifier struct {
	client  *http.Client
	baseURL string
}

// NewGoogleVerifier creates a verifier with the given per-call timeout.
func NewGoogleVerifier(timeout time.Duration) *GoogleVerifier {
	return &GoogleVerifier{
		client:  &http.Client{Timeout: timeout},
		baseURL: googleTokenInfoURL,
	}
}

// NewGoogleVerifierWithURL creates a verifier against a custom endpoint.
// Used by tests and local stubs.
func NewGoogleVerifierWithURL(baseURL string, timeout time.Duration) *GoogleVerifier {
	return &GoogleVerifier{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (g *GoogleVerifier) Name() string { return "google" }

func (g *GoogleVerifier) VerifyToken(ctx context.Context, token string) (domain.UserInfo, error) {
	endpoint := g.baseURL + "?id_token=" + url.QueryEscape(token)

	body, status, err := doIntrospection(ctx, g.client, endpoint)
	if err != nil {
		return domain.UserInfo{}, errors.ProviderUnavailable(g.Name(), err)
	}

	switch {
	case status == http.StatusOK:
	case status >= 400 && status < 500:
		return domain.UserInfo{}, errors.ProviderRejected(g.Name())
	default:
		return domain.UserInfo{}, errors.ProviderUnavailable(g.Name(),
			fmt.Errorf("unexpected status %d", status))
	}

	var payload struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.UserInfo{}, errors.ProviderUnavailable(g.Name(), err)
	}
	if payload.Sub == "" {
		return domain.UserInfo{}, errors.ProviderRejected(g.Name())
	}

	return domain.UserInfo{
		Provider: g.Name(),
		Subject:  payload.Sub,
		Email:    payload.Email,
		Name:     payload.Name,
	}, nil
}

// FacebookVerifier validates Facebook access tokens via debug_token.
type FacebookVerifier struct {
	client   *http.Client
	baseURL  string
	appToken string
}

// NewFacebookVerifier creates a verifier. appToken is the app access token
// Facebook requires for introspection.
func NewFacebookVerifier(appToken string, timeout time.Duration) *FacebookVerifier {
	return &FacebookVerifier{
		client:   &http.Client{Timeout: timeout},
		baseURL:  facebookDebugTokenURL,
		appToken: appToken,
	}
}

// NewFacebookVerifierWithURL creates a verifier against a custom endpoint.
func NewFacebookVerifierWithURL(baseURL, appToken string, timeout time.Duration) *FacebookVerifier {
	return &FacebookVerifier{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		appToken: appToken,
	}
}

func (f *FacebookVerifier) Name() string { return "facebook" }

func (f *FacebookVerifier) VerifyToken(ctx context.Context, token string) (domain.UserInfo, error) {
	q := url.Values{}
	q.Set("input_token", token)
	q.Set("access_token", f.appToken)
	endpoint := f.baseURL + "?" + q.Encode()

	body, status, err := doIntrospection(ctx, f.client, endpoint)
	if err != nil {
		return domain.UserInfo{}, errors.ProviderUnavailable(f.Name(), err)
	}

	switch {
	case status == http.StatusOK:
	case status >= 400 && status < 500:
		return domain.UserInfo{}, errors.ProviderRejected(f.Name())
	default:
		return domain.UserInfo{}, errors.ProviderUnavailable(f.Name(),
			fmt.Errorf("unexpected status %d", status))
	}

	var payload struct {
		Data struct {
			UserID  string `json:"user_id"`
			IsValid bool   `json:"is_valid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.UserInfo{}, errors.ProviderUnavailable(f.Name(), err)
	}
	if !payload.Data.IsValid || payload.Data.UserID == "" {
		return domain.UserInfo{}, errors.ProviderRejected(f.Name())
	}

	return domain.UserInfo{
		Provider: f.Name(),
		Subject:  payload.Data.UserID,
	}, nil
}

func doIntrospection(ctx context.Context, client *http.Client, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
