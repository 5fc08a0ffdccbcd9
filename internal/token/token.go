package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zenithcms/sentinel/internal/store"
	"github.com/zenithcms/sentinel/params"
)

// Claims carried by both token kinds.
type Claims struct {
	UserID   uint   `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is what the caller supplies when issuing tokens.
type Identity struct {
	UserID   uint
	Username string
	Role     string
}

type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // access token lifetime in seconds
}

type blacklistEntry struct {
	RevokedAt int64 `json:"revokedAt" redis:"revoked_at"`
}

type userWatermark struct {
	RevokedAt int64 `json:"revokedAt" redis:"revoked_at"`
}

// Manager issues and revokes the two token kinds. Access and refresh tokens
// are signed with independent secrets; revocation state lives in the shared
// TTL cache so every service instance observes it.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	blacklist     store.Store[blacklistEntry]
	watermarks    store.Store[userWatermark]
	now           func() time.Time
}

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func NewManager(cfg Config, storage store.Storage) *Manager {
	accessTTL := cfg.AccessTTL
	if accessTTL == 0 {
		accessTTL = params.AccessTokenExpiration
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = params.RefreshTokenExpiration
	}
	return &Manager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		blacklist:     store.New[blacklistEntry](storage, params.BlacklistKeyPrefix),
		watermarks:    store.New[userWatermark](storage, params.WatermarkKeyPrefix),
		now:           time.Now,
	}
}

func hashToken(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) sign(identity Identity, secret []byte, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(identity.UserID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *Manager) parse(tokenStr string, secret []byte) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Issue signs a fresh access/refresh pair for the identity.
func (m *Manager) Issue(ctx context.Context, identity Identity) (*Pair, error) {
	accessToken, err := m.sign(identity, m.accessSecret, m.accessTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, err := m.sign(identity, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, nil
}

// Refresh verifies the refresh token and re-issues only a new access token.
// Refresh tokens are not rotated. A force-logout watermark newer than the
// refresh token also invalidates it.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := m.parse(refreshToken, m.refreshSecret)
	if err != nil {
		return "", ErrRefreshTokenInvalid
	}
	if claims.IssuedAt != nil {
		revoked, err := m.IsUserRevoked(ctx, claims.UserID, claims.IssuedAt.Time)
		if err != nil {
			return "", err
		}
		if revoked {
			return "", ErrUserForcedLogout
		}
	}
	identity := Identity{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}
	return m.sign(identity, m.accessSecret, m.accessTTL)
}

// Revoke blacklists an access token for its remaining lifetime. Revoking an
// expired or already-revoked token is a no-op, never an error.
func (m *Manager) Revoke(ctx context.Context, accessToken string) error {
	claims := new(Claims)
	// decode only; the expiry claim is all that matters here
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ErrTokenInvalid
	}
	ttl := m.accessTTL
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(m.now())
		if ttl <= 0 {
			return nil
		}
	}
	return m.blacklist.Set(ctx, hashToken(accessToken), blacklistEntry{RevokedAt: m.now().Unix()}, ttl)
}

func (m *Manager) IsRevoked(ctx context.Context, accessToken string) (bool, error) {
	_, err := m.blacklist.Get(ctx, hashToken(accessToken))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAllForUser records a revocation watermark for the user. Every token
// issued before the watermark becomes invalid at once; tokens issued after
// it are unaffected. The trade-off: a single pre-watermark session cannot
// be kept alive while revoking its siblings.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID uint) error {
	key := strconv.FormatUint(uint64(userID), 10)
	wm := userWatermark{RevokedAt: m.now().Unix()}
	return m.watermarks.Set(ctx, key, wm, m.refreshTTL)
}

// IsUserRevoked reports whether a watermark exists that is strictly newer
// than the token's issued-at instant. A token issued exactly at the
// watermark remains valid.
func (m *Manager) IsUserRevoked(ctx context.Context, userID uint, issuedAt time.Time) (bool, error) {
	key := strconv.FormatUint(uint64(userID), 10)
	wm, err := m.watermarks.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return wm.RevokedAt > issuedAt.Unix(), nil
}

// Authenticate runs the per-request validation chain up to the claims: the
// token must be present, not blacklisted, well-formed and properly signed,
// and not invalidated by a force-logout watermark. Each step short-circuits.
// Account existence and status are the caller's steps.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrTokenNotFound
	}
	revoked, err := m.IsRevoked(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	claims, err := m.parse(accessToken, m.accessSecret)
	if err != nil {
		return nil, err
	}
	if claims.IssuedAt != nil {
		forced, err := m.IsUserRevoked(ctx, claims.UserID, claims.IssuedAt.Time)
		if err != nil {
			return nil, err
		}
		if forced {
			return nil, ErrUserForcedLogout
		}
	}
	return claims, nil
}
