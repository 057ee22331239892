package constants

import "time"

const (
	ReferenceCacheTTL = 30 * time.Minute
	SessionTTL        = 12 * time.Hour
)

const (
	ExternalAPITimeout  = 10 * time.Second
	DatabaseTimeout     = 5 * time.Second
	RequestTimeout      = 30 * time.Second
	WebhookProbeTimeout = 5 * time.Second
)

const (
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	MaxMessageLength = 300
	SlotCount        = 12
	SlotWidthHours   = 2
)
