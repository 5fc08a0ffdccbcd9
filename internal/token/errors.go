package token

import "errors"

var (
	ErrTokenNotFound       = errors.New("token not found")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrTokenInvalid        = errors.New("token invalid")
	ErrUserForcedLogout    = errors.New("user forced logout")
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
)
