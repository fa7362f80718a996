package config

import "testing"

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func fullEnv() mapEnv {
	return mapEnv{
		"MASTER_SECRET":            "x",
		"FERMAX_USERNAME":          "user@example.com",
		"FERMAX_PASSWORD":          "pw",
		"FERMAX_CLIENT_ID":         "cid",
		"FERMAX_CLIENT_SECRET":     "csecret",
		"FCM_API_KEY":              "key",
		"FCM_PROJECT_ID":           "proj",
		"FCM_GCM_SENDER_ID":        "123",
		"FCM_GMS_APP_ID":           "1:123:android:abc",
		"FCM_ANDROID_PACKAGE_NAME": "io.fermax.duoxme",
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(fullEnv())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Fatalf("expected default API base URL, got %q", cfg.APIBaseURL)
	}
	if cfg.OAuthBaseURL != DefaultOAuthBaseURL {
		t.Fatalf("expected default OAuth base URL, got %q", cfg.OAuthBaseURL)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	env := fullEnv()
	delete(env, "MASTER_SECRET")
	_, err := LoadConfigFromEnv(env)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_MissingFCMField(t *testing.T) {
	env := fullEnv()
	delete(env, "FCM_PROJECT_ID")
	_, err := LoadConfigFromEnv(env)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_PortOverride(t *testing.T) {
	env := fullEnv()
	env["PORT"] = "1234"
	cfg, err := LoadConfigFromEnv(env)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
}

func TestLoadConfigFromEnv_InvalidPort(t *testing.T) {
	env := fullEnv()
	env["PORT"] = "not-a-port"
	_, err := LoadConfigFromEnv(env)
	if err == nil {
		t.Fatalf("expected error")
	}
}
