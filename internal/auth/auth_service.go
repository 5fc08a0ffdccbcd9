package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/zenithcms/sentinel/internal/anomaly"
	"github.com/zenithcms/sentinel/internal/audit"
	"github.com/zenithcms/sentinel/internal/devices"
	"github.com/zenithcms/sentinel/internal/notify"
	"github.com/zenithcms/sentinel/internal/token"
	"github.com/zenithcms/sentinel/internal/users"
	"github.com/zenithcms/sentinel/model"
)

type TokenManager interface {
	Issue(ctx context.Context, identity token.Identity) (*token.Pair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Revoke(ctx context.Context, accessToken string) error
	RevokeAllForUser(ctx context.Context, userID uint) error
	Authenticate(ctx context.Context, accessToken string) (*token.Claims, error)
}

type UserDirectory interface {
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
	GetUserByID(ctx context.Context, userID uint) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, userID uint, ip string, at time.Time) error
}

type DeviceRegistry interface {
	ResolveID(info devices.DeviceInfo) string
	Get(ctx context.Context, userID uint, deviceID string) (*model.Device, error)
	Upsert(ctx context.Context, userID uint, info devices.DeviceInfo) (*model.Device, error)
}

type AnomalyEngine interface {
	EvaluateLogin(ctx context.Context, input anomaly.LoginInput) anomaly.Result
	EvaluateOperation(ctx context.Context, input anomaly.OperationInput) anomaly.Result
	EvaluateIP(ctx context.Context, ip string) anomaly.Result
}

type Auditor interface {
	Record(ctx context.Context, event *model.AuditEvent)
}

type Notifier interface {
	Notify(ctx context.Context, evt *notify.Anomaly, user *model.User)
}

// Service orchestrates the security pipeline around every audited request:
// authenticate, score against history, write exactly one audit event per
// attempt, then fan out notifications off the request path.
type Service struct {
	tokens   TokenManager
	users    UserDirectory
	devices  DeviceRegistry
	engine   AnomalyEngine
	auditor  Auditor
	notifier Notifier
	now      func() time.Time
}

func NewService(tokens TokenManager, users UserDirectory, registry DeviceRegistry, engine AnomalyEngine, auditor Auditor, notifier Notifier) *Service {
	return &Service{
		tokens:   tokens,
		users:    users,
		devices:  registry,
		engine:   engine,
		auditor:  auditor,
		notifier: notifier,
		now:      time.Now,
	}
}

// RequestMeta carries the transport attributes recorded with every event.
type RequestMeta struct {
	IP        string
	UserAgent string
	DeviceID  string
	Method    string
	URL       string
}

type LoginRequest struct {
	Username   string
	Password   string
	DeviceName string
	RequestMeta
}

type LoginResult struct {
	User    *model.User
	Device  *model.Device
	Tokens  *token.Pair
	TraceID string
	Anomaly anomaly.Result
}

func (m RequestMeta) deviceInfo() devices.DeviceInfo {
	return devices.DeviceInfo{
		DeviceID:  m.DeviceID,
		UserAgent: m.UserAgent,
		IP:        m.IP,
	}
}

// Login runs the full authentication pipeline. History reads for anomaly
// scoring happen before this attempt's own audit write, so an attempt never
// counts itself. Exactly one audit event is recorded per attempt, success or
// not.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	traceID := audit.NewTraceID()
	info := req.deviceInfo()
	info.DeviceName = req.DeviceName
	deviceID := s.devices.ResolveID(info)

	event := &model.AuditEvent{
		TraceID:   traceID,
		Username:  req.Username,
		Action:    audit.ActionLogin,
		Resource:  "session",
		IP:        req.IP,
		UserAgent: req.UserAgent,
		DeviceID:  deviceID,
		Method:    req.Method,
		URL:       req.URL,
	}

	user, authErr := s.users.Authenticate(ctx, req.Username, req.Password)
	if authErr != nil {
		// resolve the account if it exists so the failure lands on its history
		if known, err := s.users.GetUserByUsername(ctx, req.Username); err == nil {
			user = known
			event.UserID = known.ID
		}
		result := s.engine.EvaluateLogin(ctx, anomaly.LoginInput{
			UserID:    event.UserID,
			IP:        req.IP,
			UserAgent: req.UserAgent,
			DeviceID:  deviceID,
		})
		event.Status = audit.StatusError
		event.ErrorMessage = authErr.Error()
		s.applyAnomaly(event, result)
		// a credential failure is never routine; floor it at medium, keep
		// the evaluator severity when it ranks higher
		if event.Severity == "" || event.Severity == audit.SeverityLow {
			event.Severity = audit.SeverityMedium
		}
		s.auditor.Record(ctx, event)
		s.dispatchAnomaly(event, result, user, "")
		return nil, authErr
	}
	event.UserID = user.ID

	// the registry lookup before Upsert answers "known device" for scoring
	var knownDevice *bool
	if existing, err := s.devices.Get(ctx, user.ID, deviceID); err == nil {
		known := existing != nil
		knownDevice = &known
	}
	result := s.engine.EvaluateLogin(ctx, anomaly.LoginInput{
		UserID:      user.ID,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		DeviceID:    deviceID,
		KnownDevice: knownDevice,
	})

	device, err := s.devices.Upsert(ctx, user.ID, info)
	if err != nil {
		slog.Warn("Device upsert failed", "userId", user.ID, "deviceId", deviceID, "error", err)
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, req.IP, s.now()); err != nil {
		slog.Warn("Last login update failed", "userId", user.ID, "error", err)
	}

	pair, err := s.tokens.Issue(ctx, token.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		event.Status = audit.StatusError
		event.ErrorMessage = err.Error()
		s.applyAnomaly(event, result)
		s.auditor.Record(ctx, event)
		return nil, err
	}

	event.Status = audit.StatusSuccess
	s.applyAnomaly(event, result)
	s.auditor.Record(ctx, event)

	deviceName := ""
	if device != nil {
		deviceName = device.DeviceName
	}
	s.dispatchAnomaly(event, result, user, deviceName)

	return &LoginResult{
		User:    user,
		Device:  device,
		Tokens:  pair,
		TraceID: traceID,
		Anomaly: result,
	}, nil
}

// Logout revokes the access token for its remaining lifetime.
func (s *Service) Logout(ctx context.Context, claims *token.Claims, accessToken string, meta RequestMeta) error {
	err := s.tokens.Revoke(ctx, accessToken)
	event := &model.AuditEvent{
		TraceID:   audit.NewTraceID(),
		UserID:    claims.UserID,
		Username:  claims.Username,
		Action:    audit.ActionLogout,
		Resource:  "session",
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		DeviceID:  meta.DeviceID,
		Method:    meta.Method,
		URL:       meta.URL,
		Status:    audit.StatusSuccess,
		Severity:  audit.SeverityLow,
	}
	if err != nil {
		event.Status = audit.StatusError
		event.ErrorMessage = err.Error()
	}
	s.auditor.Record(ctx, event)
	return err
}

// ForceLogout invalidates every session of the target user at once via the
// revocation watermark. Only admins may call it; the caller acting on itself
// is allowed regardless of role.
func (s *Service) ForceLogout(ctx context.Context, operator *token.Claims, targetUserID uint, meta RequestMeta) error {
	if operator.Role != model.RoleAdmin && operator.UserID != targetUserID {
		return ErrPermissionDenied
	}
	target, err := s.users.GetUserByID(ctx, targetUserID)
	if err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForUser(ctx, targetUserID); err != nil {
		return err
	}
	s.auditor.Record(ctx, &model.AuditEvent{
		TraceID:    audit.NewTraceID(),
		UserID:     operator.UserID,
		Username:   operator.Username,
		Action:     audit.ActionForceLogout,
		Resource:   "user",
		ResourceID: target.Username,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Method:     meta.Method,
		URL:        meta.URL,
		Status:     audit.StatusSuccess,
		Severity:   audit.SeverityHigh,
		Metadata: model.JSON{
			"targetUserId": target.ID,
			"operatorId":   operator.UserID,
		},
	})
	return nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (string, error) {
	accessToken, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		s.auditor.Record(ctx, &model.AuditEvent{
			TraceID:      audit.NewTraceID(),
			Action:       audit.ActionTokenRefresh,
			Resource:     "session",
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			Method:       meta.Method,
			URL:          meta.URL,
			Status:       audit.StatusError,
			Severity:     audit.SeverityLow,
			ErrorMessage: err.Error(),
		})
		return "", err
	}

	event := &model.AuditEvent{
		TraceID:   audit.NewTraceID(),
		Action:    audit.ActionTokenRefresh,
		Resource:  "session",
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Method:    meta.Method,
		URL:       meta.URL,
		Status:    audit.StatusSuccess,
		Severity:  audit.SeverityLow,
	}
	if claims, err := s.tokens.Authenticate(ctx, accessToken); err == nil {
		event.UserID = claims.UserID
		event.Username = claims.Username
	}
	s.auditor.Record(ctx, event)
	return accessToken, nil
}

// OperationRequest is the hook the content handlers call for every mutating
// CMS operation they want on the audit trail.
type OperationRequest struct {
	Claims     *token.Claims
	Action     string
	Resource   string
	ResourceID string
	Status     string
	Error      string
	DurationMs int64
	Params     model.JSON
	Metadata   model.JSON
	RequestMeta
}

// RecordOperation scores the operation against per-action rate limits and
// the source ip's track record, then writes its single audit event.
func (s *Service) RecordOperation(ctx context.Context, req OperationRequest) anomaly.Result {
	result := anomaly.Merge(
		s.engine.EvaluateOperation(ctx, anomaly.OperationInput{
			UserID:   req.Claims.UserID,
			Action:   req.Action,
			IP:       req.IP,
			Resource: req.Resource,
		}),
		s.engine.EvaluateIP(ctx, req.IP),
	)

	status := req.Status
	if status == "" {
		status = audit.StatusSuccess
	}
	event := &model.AuditEvent{
		TraceID:      audit.NewTraceID(),
		UserID:       req.Claims.UserID,
		Username:     req.Claims.Username,
		Action:       req.Action,
		Resource:     req.Resource,
		ResourceID:   req.ResourceID,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
		DeviceID:     req.DeviceID,
		Method:       req.Method,
		URL:          req.URL,
		Status:       status,
		ErrorMessage: req.Error,
		DurationMs:   req.DurationMs,
		Params:       req.Params,
		Metadata:     req.Metadata,
	}
	s.applyAnomaly(event, result)
	s.auditor.Record(ctx, event)

	if result.IsAnomaly {
		user, err := s.users.GetUserByID(ctx, req.Claims.UserID)
		if err != nil {
			user = nil
		}
		s.dispatchAnomaly(event, result, user, "")
	}
	return result
}

// ValidateRequest runs the per-request chain past the token checks: the
// account must still exist and be active.
func (s *Service) ValidateRequest(ctx context.Context, accessToken string) (*model.User, *token.Claims, error) {
	claims, err := s.tokens.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive() {
		return nil, nil, users.ErrUserDisabled
	}
	return user, claims, nil
}

func (s *Service) applyAnomaly(event *model.AuditEvent, result anomaly.Result) {
	event.Severity = result.Severity
	event.IsAnomaly = result.IsAnomaly
	if result.IsAnomaly {
		event.AnomalyReason = result.Reason()
	}
}

// dispatchAnomaly hands the notification off the request path. The goroutine
// detaches from the request context and recovers panics, so notification can
// never fail or delay the audited operation.
func (s *Service) dispatchAnomaly(event *model.AuditEvent, result anomaly.Result, user *model.User, deviceName string) {
	if !result.IsAnomaly {
		return
	}
	evt := &notify.Anomaly{
		TraceID:    event.TraceID,
		UserID:     event.UserID,
		Username:   event.Username,
		Action:     event.Action,
		IP:         event.IP,
		DeviceName: deviceName,
		Severity:   result.Severity,
		Score:      result.Score,
		Reasons:    result.Reasons,
		OccurredAt: s.now(),
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Anomaly notification panicked", "panic", r, "traceId", evt.TraceID)
			}
		}()
		s.notifier.Notify(context.Background(), evt, user)
	}()
}
