package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"duoxme-bridge/internal/config"
	"duoxme-bridge/internal/model"
	"duoxme-bridge/internal/storage"
)

const storageKeyToken = "oauth_token"

// grantResponse is the vendor token endpoint's JSON body for both the
// password and the refresh grant.
type grantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// SessionManager owns the OAuth token pair for one account. EnsureValidToken
// guarantees a non-expired access token before returning: load from storage
// lazily, password-grant when absent, refresh when expired, and fall back to
// a full re-authentication when the refresh is rejected. Every successful
// grant persists the token with a recomputed absolute expiry.
type SessionManager struct {
	client   *http.Client
	tokenURL string
	creds    config.FermaxCredentials
	store    *storage.Store
	now      func() time.Time

	mu     sync.Mutex
	token  *model.OAuthToken
	loaded bool
}

func NewSessionManager(client *http.Client, oauthBaseURL string, creds config.FermaxCredentials, store *storage.Store) *SessionManager {
	if client == nil {
		client = http.DefaultClient
	}
	return &SessionManager{
		client:   client,
		tokenURL: strings.TrimSuffix(oauthBaseURL, "/") + "/oauth/token",
		creds:    creds,
		store:    store,
		now:      time.Now,
	}
}

// EnsureValidToken is idempotent and safe for concurrent callers; expiry
// detection and the resulting grant are serialized so two requests racing
// on an expired token produce a single refresh.
func (m *SessionManager) EnsureValidToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureValidTokenLocked(ctx)
}

// AccessToken returns a currently valid bearer string.
func (m *SessionManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureValidTokenLocked(ctx); err != nil {
		return "", err
	}
	return m.token.AccessToken, nil
}

func (m *SessionManager) ensureValidTokenLocked(ctx context.Context) error {
	if !m.loaded {
		m.loaded = true
		var stored model.OAuthToken
		ok, err := m.store.LoadJSON(storageKeyToken, &stored)
		if err != nil {
			log.Printf("oauth: loading stored token: %v", err)
		} else if ok {
			m.token = &stored
		}
	}

	if m.token == nil {
		return m.authenticate(ctx)
	}
	if !m.token.Expired(m.now()) {
		return nil
	}

	if err := m.refresh(ctx); err != nil {
		log.Printf("oauth: token refresh failed, re-authenticating: %v", err)
		return m.authenticate(ctx)
	}
	return nil
}

func (m *SessionManager) authenticate(ctx context.Context) error {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {m.creds.Username},
		"password":   {m.creds.Password},
	}
	resp, err := m.grant(ctx, form)
	if err != nil {
		return fmt.Errorf("password grant: %w", err)
	}
	m.saveGrant(resp)
	log.Printf("oauth: authenticated with username and password")
	return nil
}

func (m *SessionManager) refresh(ctx context.Context) error {
	if m.token == nil || m.token.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {m.token.RefreshToken},
	}
	resp, err := m.grant(ctx, form)
	if err != nil {
		return err
	}
	m.saveGrant(resp)
	log.Printf("oauth: access token refreshed")
	return nil
}

func (m *SessionManager) grant(ctx context.Context, form url.Values) (grantResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return grantResponse{}, err
	}
	req.Header.Set("Authorization", "Basic "+m.basicAuth())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := m.client.Do(req)
	if err != nil {
		return grantResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return grantResponse{}, fmt.Errorf("token endpoint returned %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out grantResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return grantResponse{}, fmt.Errorf("decoding grant response: %w", err)
	}
	if out.AccessToken == "" {
		return grantResponse{}, fmt.Errorf("grant response missing access_token")
	}
	return out, nil
}

// saveGrant recomputes the absolute expiry from the issue time and persists
// the token. A stored expiry is never trusted without this recomputation.
func (m *SessionManager) saveGrant(resp grantResponse) {
	lifetime := resp.ExpiresIn
	if lifetime <= 0 {
		lifetime = 3600
	}
	tok := model.OAuthToken{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    m.now().Unix() + lifetime,
	}
	m.token = &tok
	if err := m.store.SaveJSON(storageKeyToken, tok); err != nil {
		log.Printf("oauth: persisting token: %v", err)
	}
}

func (m *SessionManager) basicAuth() string {
	creds := m.creds.ClientID + ":" + m.creds.ClientSecret
	return base64.StdEncoding.EncodeToString([]byte(creds))
}
