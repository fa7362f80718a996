package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// Fermax DuoxMe cloud endpoints.
	DefaultAPIBaseURL   = "https://pro-duoxme.fermax.io"
	DefaultOAuthBaseURL = "https://oauth-pro-duoxme.fermax.io"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	StateDir     string
	TokenExpiry  time.Duration

	APIBaseURL   string
	OAuthBaseURL string

	Fermax FermaxCredentials
	FCM    FCMConfig
}

// FermaxCredentials are the account and OAuth client credentials used for
// the password grant against the vendor's token endpoint.
type FermaxCredentials struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// FCMConfig carries the Firebase application identity the vendor's push
// channel is keyed on.
type FCMConfig struct {
	APIKey             string
	ProjectID          string
	GCMSenderID        string
	GMSAppID           string
	AndroidPackageName string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:         3000,
		GinMode:      "release",
		StateDir:     ".state",
		TokenExpiry:  24 * time.Hour,
		APIBaseURL:   DefaultAPIBaseURL,
		OAuthBaseURL: DefaultOAuthBaseURL,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}
	if raw := env.Getenv("STATE_DIR"); raw != "" {
		cfg.StateDir = raw
	}
	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("FERMAX_API_BASE_URL"); raw != "" {
		cfg.APIBaseURL = raw
	}
	if raw := env.Getenv("FERMAX_OAUTH_BASE_URL"); raw != "" {
		cfg.OAuthBaseURL = raw
	}

	required := []struct {
		key  string
		dest *string
	}{
		{"FERMAX_USERNAME", &cfg.Fermax.Username},
		{"FERMAX_PASSWORD", &cfg.Fermax.Password},
		{"FERMAX_CLIENT_ID", &cfg.Fermax.ClientID},
		{"FERMAX_CLIENT_SECRET", &cfg.Fermax.ClientSecret},
		{"FCM_API_KEY", &cfg.FCM.APIKey},
		{"FCM_PROJECT_ID", &cfg.FCM.ProjectID},
		{"FCM_GCM_SENDER_ID", &cfg.FCM.GCMSenderID},
		{"FCM_GMS_APP_ID", &cfg.FCM.GMSAppID},
		{"FCM_ANDROID_PACKAGE_NAME", &cfg.FCM.AndroidPackageName},
	}
	for _, r := range required {
		v := env.Getenv(r.key)
		if v == "" {
			return Config{}, fmt.Errorf("%s is required", r.key)
		}
		*r.dest = v
	}

	return cfg, nil
}
