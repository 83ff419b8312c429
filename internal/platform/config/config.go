package config

import (
	"os"
	"time"
)

// Server captures process-level configuration so main stays lean.
type Server struct {
	Addr           string
	Production     bool
	SessionSealKey string // 32-byte key for sealing session tokens, hex or raw
	JWTSigningKey  string // HMAC key for admin service tokens

	SessionTTL     time.Duration
	CSRFTokenTTL   time.Duration
	EventRetention time.Duration
	CooldownWindow time.Duration
	BlockTTL       time.Duration

	// HighEventThreshold is the number of high-severity events within the
	// cooldown window that qualifies an actor for an incident.
	HighEventThreshold int
}

// Defaults kept as vars so FromEnv can override them per deployment.
var (
	SessionTTL     = 12 * time.Hour
	CSRFTokenTTL   = time.Hour
	EventRetention = 48 * time.Hour
	CooldownWindow = 15 * time.Minute
	BlockTTL       = 30 * time.Minute
)

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("BASTION_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	sealKey := os.Getenv("SESSION_SEAL_KEY")
	if sealKey == "" {
		// Development fallback - must be overridden in production.
		sealKey = "dev-seal-key-change-in-production!"
	}

	jwtKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtKey == "" {
		jwtKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:               addr,
		Production:         os.Getenv("BASTION_ENV") == "production",
		SessionSealKey:     sealKey,
		JWTSigningKey:      jwtKey,
		SessionTTL:         durationEnv("SESSION_TTL", SessionTTL),
		CSRFTokenTTL:       durationEnv("CSRF_TOKEN_TTL", CSRFTokenTTL),
		EventRetention:     durationEnv("EVENT_RETENTION", EventRetention),
		CooldownWindow:     durationEnv("INCIDENT_COOLDOWN", CooldownWindow),
		BlockTTL:           durationEnv("BLOCK_TTL", BlockTTL),
		HighEventThreshold: 3,
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}
