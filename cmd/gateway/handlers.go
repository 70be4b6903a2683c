package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/finvault/gateway/internal/auth"
	"github.com/finvault/gateway/internal/domain/apikey"
	"github.com/finvault/gateway/internal/errors"
	"github.com/finvault/gateway/internal/httputil"
	"github.com/finvault/gateway/internal/identity"
	"github.com/finvault/gateway/internal/logging"
	"github.com/finvault/gateway/internal/middleware"
)

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"service":   "gateway",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// socialLoginResponse is the caller-facing verification result. A degraded
// result came from the fallback cache and carries the provider identifier
// suffixed accordingly so downstream consumers see the reduced trust.
type socialLoginResponse struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Degraded bool   `json:"degraded"`
}

func socialLoginHandler(verifiers map[string]*identity.ResilientVerifier, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := mux.Vars(r)["provider"]
		verifier, ok := verifiers[providerName]
		if !ok {
			httputil.NotFound(w, "unknown identity provider")
			return
		}

		var req struct {
			Token string `json:"token"`
		}
		if err := httputil.DecodeJSON(r, &req, 1<<16); err != nil || req.Token == "" {
			httputil.BadRequest(w, "token is required")
			return
		}

		user, err := verifier.VerifyToken(r.Context(), req.Token)
		if err != nil && user == nil {
			// A nil result is an authentication failure, whatever the
			// internal cause; no identity is ever invented.
			logger.WithContext(r.Context()).WithError(err).WithField("provider", providerName).
				Info("social login failed")
			httputil.Unauthorized(w, "identity verification failed")
			return
		}

		resp := socialLoginResponse{
			Provider: user.Provider,
			Subject:  user.Subject,
			Email:    user.Email,
			Name:     user.Name,
			Degraded: user.Degraded,
		}
		if user.Degraded {
			resp.Provider = user.Provider + ":degraded"
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func requireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !middleware.HasScope(r.Context(), scope) {
			httputil.WriteServiceError(w, r, errors.Forbidden("missing required scope"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createKeyRequest struct {
	OwnerID            string     `json:"owner_id"`
	Name               string     `json:"name"`
	Scopes             []string   `json:"scopes"`
	RateLimitPerMinute int64      `json:"rate_limit_per_minute"`
	DailyQuota         int64      `json:"daily_quota"`
	IPWhitelist        []string   `json:"ip_whitelist"`
	ExpiresAt          *time.Time `json:"expires_at"`
}

type keyResponse struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	Name               string     `json:"name,omitempty"`
	KeyPrefix          string     `json:"key_prefix"`
	Scopes             []string   `json:"scopes"`
	RateLimitPerMinute int64      `json:"rate_limit_per_minute"`
	DailyQuota         int64      `json:"daily_quota"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	UsageCount         int64      `json:"usage_count"`

	// RawKey is present only in the issuance response; it is shown exactly
	// once and cannot be recovered afterwards.
	RawKey string `json:"raw_key,omitempty"`
}

func toKeyResponse(k apikey.Key) keyResponse {
	return keyResponse{
		ID:                 k.ID,
		OwnerID:            k.OwnerID,
		Name:               k.Name,
		KeyPrefix:          k.KeyPrefix,
		Scopes:             k.Scopes,
		RateLimitPerMinute: k.RateLimitPerMinute,
		DailyQuota:         k.DailyQuota,
		IsActive:           k.IsActive,
		CreatedAt:          k.CreatedAt,
		ExpiresAt:          k.ExpiresAt,
		LastUsedAt:         k.LastUsedAt,
		UsageCount:         k.UsageCount,
	}
}

func createKeyHandler(issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyRequest
		if err := httputil.DecodeJSON(r, &req, 1<<16); err != nil {
			httputil.BadRequest(w, "invalid request body")
			return
		}
		if req.OwnerID == "" {
			httputil.BadRequest(w, "owner_id is required")
			return
		}

		issued, err := issuer.Issue(r.Context(), auth.IssueRequest{
			OwnerID:            req.OwnerID,
			Name:               req.Name,
			Scopes:             req.Scopes,
			RateLimitPerMinute: req.RateLimitPerMinute,
			DailyQuota:         req.DailyQuota,
			IPWhitelist:        req.IPWhitelist,
			ExpiresAt:          req.ExpiresAt,
		})
		if err != nil {
			httputil.WriteServiceError(w, r, errors.Internal("key issuance failed", err))
			return
		}

		resp := toKeyResponse(issued.Key)
		resp.RawKey = issued.RawKey
		httputil.WriteJSON(w, http.StatusCreated, resp)
	}
}

func listKeysHandler(issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := issuer.List(r.Context(), r.URL.Query().Get("owner_id"))
		if err != nil {
			httputil.WriteServiceError(w, r, errors.Internal("key listing failed", err))
			return
		}

		out := make([]keyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, toKeyResponse(k))
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"keys": out})
	}
}

func revokeKeyHandler(issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := issuer.Revoke(r.Context(), id); err != nil {
			httputil.NotFound(w, "key not found")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"revoked": id})
	}
}
