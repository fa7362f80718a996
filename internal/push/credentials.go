package push

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"duoxme-bridge/internal/config"
	"duoxme-bridge/internal/model"
	"duoxme-bridge/internal/storage"
)

const storageKeyCredentials = "fcm_credentials"

// ErrPermissionDenied marks a provider registration rejected for missing
// API-key permissions, which gets a distinguished operator hint.
var ErrPermissionDenied = errors.New("push registration permission denied")

// PackageCertificate is the digest the push provider expects as the Android
// package certificate: SHA-512 over sender id, app id, API key, project id
// and package name, concatenated in exactly that order.
func PackageCertificate(cfg config.FCMConfig) string {
	sha := sha512.New()
	sha.Write([]byte(cfg.GCMSenderID))
	sha.Write([]byte(cfg.GMSAppID))
	sha.Write([]byte(cfg.APIKey))
	sha.Write([]byte(cfg.ProjectID))
	sha.Write([]byte(cfg.AndroidPackageName))
	return hex.EncodeToString(sha.Sum(nil))
}

// Registrar obtains a device push identity from the provider: a device
// check-in for the android id / security token pair, a Firebase
// installation authenticated by the package certificate, then the token
// registration itself.
type Registrar struct {
	httpClient *http.Client

	checkinURL       string
	installationsURL string
	registerURL      string
}

func NewRegistrar(httpClient *http.Client) *Registrar {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Registrar{
		httpClient:       httpClient,
		checkinURL:       "https://android.clients.google.com/checkin",
		installationsURL: "https://firebaseinstallations.googleapis.com/v1",
		registerURL:      "https://android.clients.google.com/c2dm/register3",
	}
}

func (r *Registrar) Register(ctx context.Context, cfg config.FCMConfig) (model.PushCredentials, error) {
	androidID, securityToken, err := r.checkin(ctx)
	if err != nil {
		return model.PushCredentials{}, fmt.Errorf("device checkin: %w", err)
	}

	installationAuth, err := r.createInstallation(ctx, cfg)
	if err != nil {
		return model.PushCredentials{}, err
	}

	token, err := r.registerToken(ctx, cfg, androidID, securityToken, installationAuth)
	if err != nil {
		return model.PushCredentials{}, err
	}

	return model.PushCredentials{
		DeviceToken:   token,
		AndroidID:     androidID,
		SecurityToken: securityToken,
	}, nil
}

// Checkin request/response field numbers.
const (
	checkinReqFieldCheckin = 4
	checkinReqFieldVersion = 14

	checkinProtoFieldType        = 12
	checkinProtoFieldChromeBuild = 13

	chromeBuildFieldPlatform = 1
	chromeBuildFieldVersion  = 2
	chromeBuildFieldChannel  = 3

	checkinRespFieldAndroidID     = 7
	checkinRespFieldSecurityToken = 8
)

func (r *Registrar) checkin(ctx context.Context) (int64, int64, error) {
	var chromeBuild []byte
	chromeBuild = appendVarintField(chromeBuild, chromeBuildFieldPlatform, 2)
	chromeBuild = appendStringField(chromeBuild, chromeBuildFieldVersion, "63.0.3234.0")
	chromeBuild = appendVarintField(chromeBuild, chromeBuildFieldChannel, 1)

	var checkin []byte
	checkin = appendVarintField(checkin, checkinProtoFieldType, 3)
	checkin = appendBytesField(checkin, checkinProtoFieldChromeBuild, chromeBuild)

	var body []byte
	body = appendBytesField(body, checkinReqFieldCheckin, checkin)
	body = appendVarintField(body, checkinReqFieldVersion, 3)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.checkinURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	res, err := r.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("checkin returned %d", res.StatusCode)
	}

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, 0, err
	}
	fields, err := parseFields(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding checkin response: %w", err)
	}
	var androidID, securityToken int64
	for _, f := range fields {
		switch f.number {
		case checkinRespFieldAndroidID:
			androidID = int64(f.num)
		case checkinRespFieldSecurityToken:
			securityToken = int64(f.num)
		}
	}
	if androidID == 0 || securityToken == 0 {
		return 0, 0, fmt.Errorf("checkin response missing device identity")
	}
	return androidID, securityToken, nil
}

func (r *Registrar) createInstallation(ctx context.Context, cfg config.FCMConfig) (string, error) {
	body, err := json.Marshal(map[string]string{
		"fid":         newFID(),
		"appId":       cfg.GMSAppID,
		"authVersion": "FIS_v2",
		"sdkVersion":  "a:17.0.0",
	})
	if err != nil {
		return "", err
	}

	target := fmt.Sprintf("%s/projects/%s/installations", strings.TrimSuffix(r.installationsURL, "/"), url.PathEscape(cfg.ProjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cfg.APIKey)
	req.Header.Set("X-Android-Package", cfg.AndroidPackageName)
	req.Header.Set("X-Android-Cert", PackageCertificate(cfg))

	res, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("firebase installation: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		if strings.Contains(string(raw), "PERMISSION_DENIED") {
			log.Printf("push: registration failed with PERMISSION_DENIED; check that the FCM API key has the firebaseinstallations.installations.create permission")
			return "", fmt.Errorf("firebase installation returned %d: %w", res.StatusCode, ErrPermissionDenied)
		}
		return "", fmt.Errorf("firebase installation returned %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		AuthToken struct {
			Token string `json:"token"`
		} `json:"authToken"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding installation response: %w", err)
	}
	if out.AuthToken.Token == "" {
		return "", fmt.Errorf("installation response missing auth token")
	}
	return out.AuthToken.Token, nil
}

func (r *Registrar) registerToken(ctx context.Context, cfg config.FCMConfig, androidID, securityToken int64, installationAuth string) (string, error) {
	form := url.Values{
		"app":                             {cfg.AndroidPackageName},
		"device":                          {strconv.FormatInt(androidID, 10)},
		"sender":                          {cfg.GCMSenderID},
		"X-subtype":                       {cfg.GCMSenderID},
		"X-app_ver":                       {"1"},
		"X-scope":                         {"*"},
		"X-gmp_app_id":                    {cfg.GMSAppID},
		"X-Goog-Firebase-Installations-Auth": {installationAuth},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.registerURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", fmt.Sprintf("AidLogin %d:%d", androidID, securityToken))

	res, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token registration: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	body := strings.TrimSpace(string(raw))
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token registration returned %d: %s", res.StatusCode, body)
	}
	if strings.HasPrefix(body, "Error=") {
		if strings.Contains(body, "PERMISSION_DENIED") {
			return "", fmt.Errorf("token registration: %s: %w", body, ErrPermissionDenied)
		}
		return "", fmt.Errorf("token registration: %s", body)
	}
	token := strings.TrimPrefix(body, "token=")
	if token == body || token == "" {
		return "", fmt.Errorf("unexpected registration response: %s", body)
	}
	return token, nil
}

func newFID() string {
	buf := make([]byte, 17)
	if _, err := rand.Read(buf); err != nil {
		return "duoxme-bridge-fid"
	}
	// FIS fids start with 0b0111 in the first four bits.
	buf[0] = 0x70 | (buf[0] & 0x0f)
	return base64.RawURLEncoding.EncodeToString(buf)[:22]
}

// EnsureCredentials loads the persisted device push identity or registers a
// new one exactly once and persists it for reuse across restarts.
func EnsureCredentials(ctx context.Context, store *storage.Store, registrar *Registrar, cfg config.FCMConfig) (model.PushCredentials, error) {
	var creds model.PushCredentials
	ok, err := store.LoadJSON(storageKeyCredentials, &creds)
	if err != nil {
		log.Printf("push: loading stored credentials: %v", err)
	}
	if ok && creds.DeviceToken != "" {
		return creds, nil
	}

	log.Printf("push: no stored credentials, registering with the push provider")
	creds, err = registrar.Register(ctx, cfg)
	if err != nil {
		return model.PushCredentials{}, err
	}
	if err := store.SaveJSON(storageKeyCredentials, creds); err != nil {
		return model.PushCredentials{}, fmt.Errorf("persisting push credentials: %w", err)
	}
	log.Printf("push: credentials ready, device token %.15s...", creds.DeviceToken)
	return creds, nil
}
