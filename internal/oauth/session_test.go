package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"duoxme-bridge/internal/config"
	"duoxme-bridge/internal/model"
	"duoxme-bridge/internal/storage"
)

type grantCounts struct {
	password int
	refresh  int
}

func newTokenServer(t *testing.T, counts *grantCounts, failRefresh bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.PostFormValue("grant_type") {
		case "password":
			counts.password++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-pw",
				"refresh_token": "refresh-pw",
				"expires_in":    3600,
			})
		case "refresh_token":
			counts.refresh++
			if failRefresh {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-refreshed",
				"refresh_token": "refresh-refreshed",
				"expires_in":    3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func testCreds() config.FermaxCredentials {
	return config.FermaxCredentials{Username: "u", Password: "p", ClientID: "cid", ClientSecret: "cs"}
}

func TestEnsureValidToken_PasswordGrantWhenAbsent(t *testing.T) {
	counts := &grantCounts{}
	srv := newTokenServer(t, counts, false)
	defer srv.Close()

	m := NewSessionManager(srv.Client(), srv.URL, testCreds(), storage.New(t.TempDir()))
	if err := m.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken: %v", err)
	}
	if counts.password != 1 || counts.refresh != 0 {
		t.Fatalf("expected 1 password grant, got %+v", counts)
	}

	// Idempotent while the token is fresh.
	if err := m.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken: %v", err)
	}
	if counts.password != 1 {
		t.Fatalf("expected no further grants, got %+v", counts)
	}
}

func TestEnsureValidToken_RefreshWhenExpired(t *testing.T) {
	counts := &grantCounts{}
	srv := newTokenServer(t, counts, false)
	defer srv.Close()

	m := NewSessionManager(srv.Client(), srv.URL, testCreds(), storage.New(t.TempDir()))
	if err := m.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := m.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken: %v", err)
	}
	if counts.refresh != 1 {
		t.Fatalf("expected exactly 1 refresh, got %+v", counts)
	}
	tok, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "access-refreshed" {
		t.Fatalf("expected refreshed token, got %q", tok)
	}
}

func TestEnsureValidToken_RefreshFailureFallsBackToPassword(t *testing.T) {
	counts := &grantCounts{}
	srv := newTokenServer(t, counts, true)
	defer srv.Close()

	m := NewSessionManager(srv.Client(), srv.URL, testCreds(), storage.New(t.TempDir()))
	if err := m.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := m.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken after expiry: %v", err)
	}
	if counts.refresh != 1 {
		t.Fatalf("expected exactly 1 refresh attempt, got %+v", counts)
	}
	if counts.password != 2 {
		t.Fatalf("expected exactly 1 re-authentication, got %+v", counts)
	}
}

func TestToken_PersistedAndReloaded(t *testing.T) {
	counts := &grantCounts{}
	srv := newTokenServer(t, counts, false)
	defer srv.Close()

	dir := t.TempDir()
	issued := time.Now().Unix()

	m := NewSessionManager(srv.Client(), srv.URL, testCreds(), storage.New(dir))
	if err := m.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken: %v", err)
	}

	// A fresh manager over the same state dir must reuse the stored token
	// without touching the endpoint again.
	m2 := NewSessionManager(srv.Client(), srv.URL, testCreds(), storage.New(dir))
	tok, err := m2.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "access-pw" {
		t.Fatalf("expected stored token, got %q", tok)
	}
	if counts.password != 1 {
		t.Fatalf("expected no extra grant, got %+v", counts)
	}

	var stored model.OAuthToken
	ok, err := storage.New(dir).LoadJSON("oauth_token", &stored)
	if err != nil || !ok {
		t.Fatalf("LoadJSON: ok=%v err=%v", ok, err)
	}
	if stored.RefreshToken != "refresh-pw" {
		t.Fatalf("unexpected refresh token: %q", stored.RefreshToken)
	}
	if stored.ExpiresAt < issued {
		t.Fatalf("expires_at %d earlier than issue time %d", stored.ExpiresAt, issued)
	}
}
