package params

import "time"

const (
	ServerBodyLimit    = 1048576 // 1 MiB
	ServerIdleTimeout  = 30 * time.Second
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second

	BlacklistKeyPrefix = "bl:" // revoked access tokens, keyed by token hash
	WatermarkKeyPrefix = "wm:" // per-user force-logout watermarks, keyed by user id

	AccessTokenExpiration  = 15 * time.Minute
	RefreshTokenExpiration = 7 * 24 * time.Hour

	DeviceIDLength = 32 // hex chars of the derived device fingerprint

	AuditRetentionDays = 90  // default retention for the purge sweep
	AuditPageLimit     = 20  // default query page size
	AuditPageMaxLimit  = 100 // hard cap on query page size

	LoginIPLookback   = 30 * 24 * time.Hour // window for the known-ip set
	LoginIPSampleSize = 100                 // most recent login events considered

	FailedLoginWindow    = 15 * time.Minute // per-user failed login window
	FailedLoginThreshold = 3

	OperationRateWindow = time.Minute // per-action rate window

	IPFailureWindow    = time.Hour // failed logins per source ip
	IPFailureThreshold = 10
	IPAnomalyWindow    = 24 * time.Hour // prior anomalies per source ip
	IPAnomalyThreshold = 5

	AnomalyScoreFloor  = 15 // shared isAnomaly threshold across evaluators
	UnusualHourStart   = 2  // [start, end) local hour window
	UnusualHourEnd     = 6
	MinUserAgentLength = 10

	NotifyTimeout = 5 * time.Second // bound on a single dispatch run

	HealthCheckServerAddr = ":3001"
)
