package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zenithcms/sentinel/internal/audit"
)

type fakeHistory struct {
	failedLogins     int64
	failedLoginsByIP int64
	userActions      int64
	anomaliesByIP    int64
	recentIPs        []string
	seenDevices      map[string]bool
	err              error
}

func (f *fakeHistory) CountFailedLogins(ctx context.Context, userID uint, since time.Time) (int64, error) {
	return f.failedLogins, f.err
}

func (f *fakeHistory) CountFailedLoginsByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	return f.failedLoginsByIP, f.err
}

func (f *fakeHistory) CountUserActions(ctx context.Context, userID uint, action string, since time.Time) (int64, error) {
	return f.userActions, f.err
}

func (f *fakeHistory) CountAnomaliesByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	return f.anomaliesByIP, f.err
}

func (f *fakeHistory) RecentLoginIPs(ctx context.Context, userID uint) ([]string, error) {
	return f.recentIPs, f.err
}

func (f *fakeHistory) SeenDevice(ctx context.Context, userID uint, deviceID string) (bool, error) {
	return f.seenDevices[deviceID], f.err
}

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"

// daytime keeps evaluations out of the unusual-hours window.
var daytime = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func newTestEngine(history History, now time.Time) *Engine {
	e := NewEngine(history)
	e.now = func() time.Time { return now }
	return e
}

func TestEvaluateLoginNewDeviceAndIP(t *testing.T) {
	// brand-new device and ip, valid user agent, no recent failures
	history := &fakeHistory{seenDevices: map[string]bool{}}
	engine := newTestEngine(history, daytime)

	result := engine.EvaluateLogin(context.Background(), LoginInput{
		UserID: 1, IP: "203.0.113.7", UserAgent: chromeUA, DeviceID: "dev-new",
	})

	require.Equal(t, 35, result.Score)
	require.Equal(t, audit.SeverityHigh, result.Severity)
	require.True(t, result.IsAnomaly)
	require.Equal(t, []string{"new device login", "login from new ip address"}, result.Reasons)
}

func TestEvaluateLoginKnownDeviceAndIP(t *testing.T) {
	// same user again minutes later from the same device and ip
	history := &fakeHistory{
		seenDevices: map[string]bool{"dev-1": true},
		recentIPs:   []string{"203.0.113.7"},
	}
	engine := newTestEngine(history, daytime)

	result := engine.EvaluateLogin(context.Background(), LoginInput{
		UserID: 1, IP: "203.0.113.7", UserAgent: chromeUA, DeviceID: "dev-1",
	})

	require.Zero(t, result.Score)
	require.Equal(t, audit.SeverityLow, result.Severity)
	require.False(t, result.IsAnomaly)
	require.Empty(t, result.Reasons)
}

func TestEvaluateLoginRepeatedFailures(t *testing.T) {
	// 3 failed attempts in the window, 4th succeeds from a known device/ip at 14:00
	history := &fakeHistory{
		failedLogins: 3,
		seenDevices:  map[string]bool{"dev-1": true},
		recentIPs:    []string{"203.0.113.7"},
	}
	engine := newTestEngine(history, daytime)

	result := engine.EvaluateLogin(context.Background(), LoginInput{
		UserID: 1, IP: "203.0.113.7", UserAgent: chromeUA, DeviceID: "dev-1",
	})

	require.Equal(t, 30, result.Score)
	require.Equal(t, audit.SeverityHigh, result.Severity)
	require.True(t, result.IsAnomaly)
	require.Equal(t, []string{"3 login failures in short window"}, result.Reasons)
}

func TestEvaluateLoginUnusualHoursAndUserAgent(t *testing.T) {
	history := &fakeHistory{
		seenDevices: map[string]bool{"dev-1": true},
		recentIPs:   []string{"203.0.113.7"},
	}
	threeAM := time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)
	engine := newTestEngine(history, threeAM)

	result := engine.EvaluateLogin(context.Background(), LoginInput{
		UserID: 1, IP: "203.0.113.7", UserAgent: "curl", DeviceID: "dev-1",
	})

	require.Equal(t, 15, result.Score)
	require.Equal(t, audit.SeverityMedium, result.Severity)
	require.True(t, result.IsAnomaly)
}

func TestEvaluateLoginTrustsCallerHint(t *testing.T) {
	// history says unseen, but the caller already checked the device registry
	history := &fakeHistory{
		seenDevices: map[string]bool{},
		recentIPs:   []string{"203.0.113.7"},
	}
	engine := newTestEngine(history, daytime)

	known := true
	result := engine.EvaluateLogin(context.Background(), LoginInput{
		UserID: 1, IP: "203.0.113.7", UserAgent: chromeUA, DeviceID: "dev-x", KnownDevice: &known,
	})
	require.Zero(t, result.Score)
}

func TestEvaluateLoginMonotonic(t *testing.T) {
	// adding triggered conditions never lowers score or severity
	base := &fakeHistory{
		seenDevices: map[string]bool{"dev-1": true},
		recentIPs:   []string{"203.0.113.7"},
	}
	engine := newTestEngine(base, daytime)
	input := LoginInput{UserID: 1, IP: "203.0.113.7", UserAgent: chromeUA, DeviceID: "dev-1"}
	prev := engine.EvaluateLogin(context.Background(), input)

	steps := []func(){
		func() { input.DeviceID = "dev-unknown" },
		func() { input.IP = "198.51.100.9" },
		func() { base.failedLogins = 5 },
		func() { input.UserAgent = "bot" },
	}
	for _, step := range steps {
		step()
		next := engine.EvaluateLogin(context.Background(), input)
		require.GreaterOrEqual(t, next.Score, prev.Score)
		require.GreaterOrEqual(t, severityRank[next.Severity], severityRank[prev.Severity])
		prev = next
	}
}

func TestEvaluateLoginDegradesOnHistoryFailure(t *testing.T) {
	history := &fakeHistory{err: errors.New("store down")}
	engine := newTestEngine(history, daytime)

	result := engine.EvaluateLogin(context.Background(), LoginInput{
		UserID: 1, IP: "203.0.113.7", UserAgent: chromeUA, DeviceID: "dev-1",
	})
	require.Zero(t, result.Score)
	require.False(t, result.IsAnomaly)
}

func TestEvaluateOperationRateAndSensitive(t *testing.T) {
	history := &fakeHistory{userActions: 4}
	engine := newTestEngine(history, daytime)
	ctx := context.Background()

	// 4 prior user_delete in a minute exceeds its limit of 3
	result := engine.EvaluateOperation(ctx, OperationInput{
		UserID: 1, Action: audit.ActionUserDelete, IP: "203.0.113.7",
	})
	require.Equal(t, 40, result.Score)
	require.Equal(t, audit.SeverityCritical, result.Severity)
	require.True(t, result.IsAnomaly)

	// same count is fine for an action on the default limit
	result = engine.EvaluateOperation(ctx, OperationInput{
		UserID: 1, Action: audit.ActionPostUpdate, IP: "203.0.113.7",
	})
	require.Zero(t, result.Score)
	require.False(t, result.IsAnomaly)
}

func TestEvaluateOperationBatchResource(t *testing.T) {
	history := &fakeHistory{}
	engine := newTestEngine(history, daytime)

	result := engine.EvaluateOperation(context.Background(), OperationInput{
		UserID: 1, Action: audit.ActionPostUpdate, Resource: "posts/batch",
	})
	require.Equal(t, 10, result.Score)
	require.Equal(t, audit.SeverityLow, result.Severity)
	require.False(t, result.IsAnomaly)
}

func TestEvaluateIP(t *testing.T) {
	history := &fakeHistory{failedLoginsByIP: 12, anomaliesByIP: 6}
	engine := newTestEngine(history, daytime)

	result := engine.EvaluateIP(context.Background(), "203.0.113.7")
	require.Equal(t, 70, result.Score)
	require.Equal(t, audit.SeverityCritical, result.Severity)
	require.True(t, result.IsAnomaly)

	require.Zero(t, engine.EvaluateIP(context.Background(), "").Score)
}

func TestMergeKeepsHighestSeverity(t *testing.T) {
	op := Result{Score: 25, Severity: audit.SeverityHigh, Reasons: []string{"sensitive operation: user_delete"}}
	ip := Result{Score: 0, Severity: audit.SeverityLow}

	merged := Merge(op, ip)
	require.Equal(t, 25, merged.Score)
	require.Equal(t, audit.SeverityHigh, merged.Severity)
	require.True(t, merged.IsAnomaly)
	require.Equal(t, "sensitive operation: user_delete", merged.Reason())
}
