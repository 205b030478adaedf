package identity

import "errors"

var (
	ErrAuthInvalid  = errors.New("invalid credentials")
	ErrUserInactive = errors.New("user is not active")
)
