package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"duoxme-bridge/internal/auth"
	"duoxme-bridge/internal/model"
)

type fakeSession struct{}

func (fakeSession) AccessToken(context.Context) (string, error) { return "cloud-token", nil }

type fakeAPI struct {
	opened  []string
	records []model.CallRecord
	openErr error
}

func (f *fakeAPI) OpenDoor(_ context.Context, _, deviceID string, _ model.AccessID) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, deviceID)
	return nil
}

func (f *fakeAPI) CallRegistry(context.Context, string, string) ([]model.CallRecord, error) {
	return f.records, nil
}

type fakeListener struct {
	pairings    []model.Pairing
	deviceToken string
}

func (f *fakeListener) Pairings() []model.Pairing { return f.pairings }
func (f *fakeListener) DeviceToken() string       { return f.deviceToken }

type fakeSnapshots struct {
	img     []byte
	takenAt time.Time
	ring    bool
	ringAt  time.Time
}

func (f *fakeSnapshots) Latest() ([]byte, time.Time, bool) {
	if f.img == nil {
		return nil, time.Time{}, false
	}
	return f.img, f.takenAt, true
}

func (f *fakeSnapshots) Ring() (bool, time.Time) { return f.ring, f.ringAt }

func testPairings() []model.Pairing {
	return []model.Pairing{{
		DeviceID: "dev-1",
		Tag:      "Portal",
		AccessDoorMap: map[string]model.AccessDoor{
			"ZERO": {Title: "Street door", AccessID: model.AccessID{Block: 1, Subblock: 0, Number: 2}, Visible: true},
			"HIDE": {Title: "Service door", Visible: false},
		},
	}}
}

func newTestDeps(api *fakeAPI, snaps *fakeSnapshots) Deps {
	return Deps{
		Session:      fakeSession{},
		Doors:        api,
		Calls:        api,
		Listener:     &fakeListener{pairings: testPairings(), deviceToken: "device-token"},
		Snapshots:    snaps,
		Ring:         snaps,
		TokenConfig:  auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"},
		MasterSecret: "master",
		AccountID:    "acct-1",
	}
}

func bearerToken(t *testing.T, deps Deps) string {
	t.Helper()
	tok, err := auth.CreateToken(deps.AccountID, deps.TokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok
}

func TestAuthEndpointIssuesToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(&fakeAPI{}, &fakeSnapshots{})
	r := NewRouter(deps)

	body, _ := json.Marshal(map[string]string{"secret": "master"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	claims, err := auth.VerifyToken(resp["token"], deps.TokenConfig)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.AccountID != "acct-1" {
		t.Fatalf("account = %q", claims.AccountID)
	}
}

func TestAuthEndpointRejectsWrongSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(newTestDeps(&fakeAPI{}, &fakeSnapshots{}))

	body, _ := json.Marshal(map[string]string{"secret": "wrong"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(newTestDeps(&fakeAPI{}, &fakeSnapshots{}))

	for _, path := range []string{"/v1/snapshot", "/v1/doors", "/v1/calls"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestDoorsListsVisibleOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(&fakeAPI{}, &fakeSnapshots{})
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/doors", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, deps))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Doors []struct {
			DeviceID string `json:"deviceId"`
			Title    string `json:"title"`
		} `json:"doors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Doors) != 1 {
		t.Fatalf("expected 1 visible door, got %d", len(resp.Doors))
	}
	if resp.Doors[0].Title != "Street door" {
		t.Fatalf("door title = %q", resp.Doors[0].Title)
	}
}

func TestOpenDoor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &fakeAPI{}
	deps := newTestDeps(api, &fakeSnapshots{})
	r := NewRouter(deps)
	tok := bearerToken(t, deps)

	body, _ := json.Marshal(map[string]any{
		"deviceId": "dev-1",
		"accessId": model.AccessID{Block: 1, Subblock: 0, Number: 2},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/doors/open", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(api.opened) != 1 || api.opened[0] != "dev-1" {
		t.Fatalf("opened = %v", api.opened)
	}
}

func TestOpenDoorUnknownDevice(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(&fakeAPI{}, &fakeSnapshots{})
	r := NewRouter(deps)

	body, _ := json.Marshal(map[string]any{"deviceId": "nope"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/doors/open", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, deps))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSnapshotBeforeAndAfterImage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	snaps := &fakeSnapshots{}
	deps := newTestDeps(&fakeAPI{}, snaps)
	r := NewRouter(deps)
	tok := bearerToken(t, deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first image, got %d", w.Code)
	}

	snaps.img = []byte("jpeg-bytes")
	snaps.takenAt = time.Now()
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
	if w.Body.String() != "jpeg-bytes" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestRingState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	snaps := &fakeSnapshots{}
	deps := newTestDeps(&fakeAPI{}, snaps)
	r := NewRouter(deps)
	tok := bearerToken(t, deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/ring", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["ring"] != false {
		t.Fatalf("ring = %v, want false", resp["ring"])
	}

	snaps.ring = true
	snaps.ringAt = time.Now()
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/ring", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["ring"] != true {
		t.Fatalf("ring = %v, want true", resp["ring"])
	}
	if _, ok := resp["changedAt"]; !ok {
		t.Fatalf("missing changedAt: %v", resp)
	}
}

func TestCallsPassthrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &fakeAPI{records: []model.CallRecord{{ID: "c1", PhotoID: "p1", CallDate: 42}}}
	deps := newTestDeps(api, &fakeSnapshots{})
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, deps))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Calls []model.CallRecord `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].ID != "c1" {
		t.Fatalf("calls = %+v", resp.Calls)
	}
}

func TestOpenDoorRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &fakeAPI{}
	deps := newTestDeps(api, &fakeSnapshots{})
	r := NewRouter(deps)
	tok := bearerToken(t, deps)

	body, _ := json.Marshal(map[string]any{"deviceId": "dev-1"})
	var last int
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/doors/open", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)
		r.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}
}
