package config

import (
	"os"
	"time"
)

// Server captures process-level configuration for the lending engine.
type Server struct {
	Addr            string
	DatabaseURL     string
	JWTSigningKey   string
	SystemToken     string
	SessionTTL      time.Duration
	VotingWindow    time.Duration
	GraceWindow     time.Duration
	WorkerInterval  time.Duration
	ConsensusPolicy string
}

// Policy defaults. Voting that reaches no quorum within the window is
// auto-rejected by the deadline worker; an EMI unpaid past the grace window
// marks the loan overdue.
var (
	SessionTTL     = 24 * time.Hour
	VotingWindow   = 72 * time.Hour
	GraceWindow    = 7 * 24 * time.Hour
	WorkerInterval = 15 * time.Minute
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("BHAROSA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	policy := os.Getenv("CONSENSUS_POLICY")
	if policy == "" {
		policy = "early_majority"
	}

	return Server{
		Addr:            addr,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSigningKey:   jwtSigningKey,
		SystemToken:     os.Getenv("SYSTEM_TOKEN"),
		SessionTTL:      durationEnv("SESSION_TTL", SessionTTL),
		VotingWindow:    durationEnv("VOTING_WINDOW", VotingWindow),
		GraceWindow:     durationEnv("GRACE_WINDOW", GraceWindow),
		WorkerInterval:  durationEnv("WORKER_INTERVAL", WorkerInterval),
		ConsensusPolicy: policy,
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}
