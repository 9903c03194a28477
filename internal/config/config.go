package config

import (
	"time"

	"github.com/ArielSulton/tunarasa-sub001/pkg/envconfig"
)

type Config struct {
	Port        string `validate:"required"`
	DatabaseDSN string `validate:"required"`
	Auth        AuthConfig
	Clerk       ClerkConfig
	Sync        SyncConfig
	Gate        GateConfig
}

type AuthConfig struct {
	Mode     string `validate:"required"`
	JWKSURL  string
	Audience string
	Issuer   string
}

type ClerkConfig struct {
	// WebhookSecret is the Svix signing secret for the Clerk webhook endpoint ("whsec_...").
	WebhookSecret string `validate:"required"`
	// SecretKey authenticates calls to the Clerk backend API ("sk_...").
	SecretKey string
	// APIURL overrides the Clerk backend API base URL (tests, proxies).
	APIURL string
}

type SyncConfig struct {
	// Endpoint, when set, points the reconciler at a remote deployment's sync
	// endpoint instead of the in-process service. Empty keeps sync attempts
	// local.
	Endpoint string
	Cooldown time.Duration
	// RequestTimeout bounds each outbound sync request when Endpoint is set.
	RequestTimeout time.Duration
	MaxRetries     int
	PendingMaxAge  time.Duration
}

type GateConfig struct {
	// CookieSecret signs the role cache cookie. The cookie is advisory only;
	// a forged or stale one just forces a store read.
	CookieSecret    string `validate:"required"`
	GraceWindow     time.Duration
	DashboardTTL    time.Duration
	AdminTTL        time.Duration
	StoreTimeout    time.Duration
	SignInURL       string
	UnauthorizedURL string
}

func Load() (Config, error) {
	cfg := Config{
		Port:        envconfig.Get("PORT", "8080"),
		DatabaseDSN: envconfig.Get("DATABASE_URL", "file:tunarasa.db"),
		Auth: AuthConfig{
			Mode:     envconfig.Get("AUTH_MODE", "clerk"),
			JWKSURL:  envconfig.Get("CLERK_JWKS_URL", ""),
			Audience: envconfig.Get("CLERK_AUDIENCE", ""),
			Issuer:   envconfig.Get("CLERK_ISSUER", ""),
		},
		Clerk: ClerkConfig{
			WebhookSecret: envconfig.Get("CLERK_WEBHOOK_SECRET", ""),
			SecretKey:     envconfig.Get("CLERK_SECRET_KEY", ""),
			APIURL:        envconfig.Get("CLERK_API_URL", ""),
		},
		Sync: SyncConfig{
			Endpoint:       envconfig.Get("SYNC_ENDPOINT", ""),
			Cooldown:       envconfig.GetDuration("SYNC_COOLDOWN", time.Minute),
			RequestTimeout: envconfig.GetDuration("SYNC_REQUEST_TIMEOUT", 8*time.Second),
			MaxRetries:     envconfig.GetInt("SYNC_MAX_RETRIES", 3),
			PendingMaxAge:  envconfig.GetDuration("SYNC_PENDING_MAX_AGE", time.Hour),
		},
		Gate: GateConfig{
			CookieSecret:    envconfig.Get("ROLE_CACHE_SECRET", ""),
			GraceWindow:     envconfig.GetDuration("GATE_GRACE_WINDOW", 5*time.Minute),
			DashboardTTL:    envconfig.GetDuration("GATE_DASHBOARD_TTL", 3*time.Minute),
			AdminTTL:        envconfig.GetDuration("GATE_ADMIN_TTL", 10*time.Minute),
			StoreTimeout:    envconfig.GetDuration("GATE_STORE_TIMEOUT", 3*time.Second),
			SignInURL:       envconfig.Get("SIGN_IN_URL", "/sign-in"),
			UnauthorizedURL: envconfig.Get("UNAUTHORIZED_URL", "/unauthorized"),
		},
	}
	return cfg, envconfig.Validate(cfg)
}
