package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zenithcms/sentinel/internal/audit"
	"github.com/zenithcms/sentinel/params"
)

// Result is the outcome of one evaluation. The score accumulates without a
// cap and is reported as-is even above the severity breakpoints.
type Result struct {
	IsAnomaly bool
	Severity  string
	Reasons   []string
	Score     int
}

// Reason returns the human-readable concatenation folded into audit events.
func (r Result) Reason() string {
	return strings.Join(r.Reasons, "; ")
}

// Merge combines evaluator results: scores add, reasons append, severity is
// the highest of the inputs (each evaluator keeps its own breakpoints).
func Merge(results ...Result) Result {
	merged := Result{Severity: audit.SeverityLow}
	for _, r := range results {
		merged.Score += r.Score
		merged.Reasons = append(merged.Reasons, r.Reasons...)
		if severityRank[r.Severity] > severityRank[merged.Severity] {
			merged.Severity = r.Severity
		}
	}
	merged.IsAnomaly = merged.Score >= params.AnomalyScoreFloor
	return merged
}

var severityRank = map[string]int{
	audit.SeverityLow:      0,
	audit.SeverityMedium:   1,
	audit.SeverityHigh:     2,
	audit.SeverityCritical: 3,
}

// History is the strictly-preceding audit window the evaluators read. The
// event being scored must not be recorded before evaluation runs, otherwise
// every rate check counts itself.
type History interface {
	CountFailedLogins(ctx context.Context, userID uint, since time.Time) (int64, error)
	CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	CountUserActions(ctx context.Context, userID uint, action string, since time.Time) (int64, error)
	CountAnomaliesByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	RecentLoginIPs(ctx context.Context, userID uint) ([]string, error)
	SeenDevice(ctx context.Context, userID uint, deviceID string) (bool, error)
}

type band struct {
	min      int
	severity string
}

var (
	loginBands = []band{
		{50, audit.SeverityCritical},
		{30, audit.SeverityHigh},
		{15, audit.SeverityMedium},
	}
	operationBands = []band{
		{40, audit.SeverityCritical},
		{25, audit.SeverityHigh},
		{15, audit.SeverityMedium},
	}
	ipBands = []band{
		{50, audit.SeverityCritical},
		{30, audit.SeverityHigh},
		{15, audit.SeverityMedium},
	}
)

func severityOf(score int, bands []band) string {
	for _, b := range bands {
		if score >= b.min {
			return b.severity
		}
	}
	return audit.SeverityLow
}

const defaultOperationRateLimit = 20

// Actions with tighter per-minute rate limits than the default.
var operationRateLimits = map[string]int64{
	audit.ActionLogin:           5,
	audit.ActionUserDelete:      3,
	audit.ActionPostDelete:      10,
	audit.ActionPermissionGrant: 5,
}

var sensitiveActions = map[string]bool{
	audit.ActionUserDelete:       true,
	audit.ActionPostDelete:       true,
	audit.ActionPermissionGrant:  true,
	audit.ActionPermissionRevoke: true,
	audit.ActionRoleAssign:       true,
	audit.ActionForceLogout:      true,
}

// Engine scores live request attributes against audit history. History
// failures degrade to "nothing suspicious found" so a cache or store outage
// never blocks the operation being scored.
type Engine struct {
	history History
	now     func() time.Time
}

func NewEngine(history History) *Engine {
	return &Engine{
		history: history,
		now:     time.Now,
	}
}

// LoginInput describes one authentication attempt. KnownDevice is the
// caller's hint; when nil the engine derives it from audit history.
type LoginInput struct {
	UserID      uint
	IP          string
	UserAgent   string
	DeviceID    string
	KnownDevice *bool
}

func (e *Engine) EvaluateLogin(ctx context.Context, input LoginInput) Result {
	var result Result
	now := e.now()

	known := e.knownDevice(ctx, input)
	if !known {
		result.add(20, "new device login")
	}

	if input.IP != "" && !e.knownIP(ctx, input.UserID, input.IP) {
		result.add(15, "login from new ip address")
	}

	failures, err := e.history.CountFailedLogins(ctx, input.UserID, now.Add(-params.FailedLoginWindow))
	if err != nil {
		e.degraded("failed login count", err)
	} else if failures >= params.FailedLoginThreshold {
		result.add(30, fmt.Sprintf("%d login failures in short window", failures))
	}

	if hour := now.Hour(); hour >= params.UnusualHourStart && hour < params.UnusualHourEnd {
		result.add(10, "login during unusual hours")
	}

	if len(input.UserAgent) < params.MinUserAgentLength {
		result.add(5, "suspicious user agent")
	}

	return result.finalize(loginBands)
}

type OperationInput struct {
	UserID   uint
	Action   string
	IP       string
	Resource string
}

func (e *Engine) EvaluateOperation(ctx context.Context, input OperationInput) Result {
	var result Result
	now := e.now()

	limit := int64(defaultOperationRateLimit)
	if l, ok := operationRateLimits[input.Action]; ok {
		limit = l
	}
	count, err := e.history.CountUserActions(ctx, input.UserID, input.Action, now.Add(-params.OperationRateWindow))
	if err != nil {
		e.degraded("operation rate count", err)
	} else if count > limit {
		result.add(25, fmt.Sprintf("action rate exceeded: %d %s in one minute", count, input.Action))
	}

	if sensitiveActions[input.Action] {
		result.add(15, "sensitive operation: "+input.Action)
	}

	if strings.Contains(input.Resource, "batch") {
		result.add(10, "batch operation")
	}

	return result.finalize(operationBands)
}

func (e *Engine) EvaluateIP(ctx context.Context, ip string) Result {
	var result Result
	if ip == "" {
		return result.finalize(ipBands)
	}
	now := e.now()

	failures, err := e.history.CountFailedLoginsByIP(ctx, ip, now.Add(-params.IPFailureWindow))
	if err != nil {
		e.degraded("ip failure count", err)
	} else if failures >= params.IPFailureThreshold {
		result.add(40, fmt.Sprintf("%d failed logins from ip in one hour", failures))
	}

	anomalies, err := e.history.CountAnomaliesByIP(ctx, ip, now.Add(-params.IPAnomalyWindow))
	if err != nil {
		e.degraded("ip anomaly count", err)
	} else if anomalies >= params.IPAnomalyThreshold {
		result.add(30, fmt.Sprintf("%d anomalous events from ip in 24 hours", anomalies))
	}

	return result.finalize(ipBands)
}

func (e *Engine) knownDevice(ctx context.Context, input LoginInput) bool {
	if input.KnownDevice != nil {
		return *input.KnownDevice
	}
	seen, err := e.history.SeenDevice(ctx, input.UserID, input.DeviceID)
	if err != nil {
		e.degraded("device history", err)
		return true
	}
	return seen
}

func (e *Engine) knownIP(ctx context.Context, userID uint, ip string) bool {
	ips, err := e.history.RecentLoginIPs(ctx, userID)
	if err != nil {
		e.degraded("recent login ips", err)
		return true
	}
	for _, known := range ips {
		if known == ip {
			return true
		}
	}
	return false
}

// degraded logs a history read failure; evaluation proceeds as if the
// failed check found nothing.
func (e *Engine) degraded(check string, err error) {
	slog.Warn("Anomaly check degraded", "check", check, "error", err)
}

func (r *Result) add(points int, reason string) {
	r.Score += points
	r.Reasons = append(r.Reasons, reason)
}

func (r Result) finalize(bands []band) Result {
	r.Severity = severityOf(r.Score, bands)
	r.IsAnomaly = r.Score >= params.AnomalyScoreFloor
	return r
}
