package auth

import "errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
)
