package app

import "errors"

// User-facing auth and forecast errors. All of these are recoverable: the
// HTTP layer maps them to 4xx responses and the user may retry.
var (
	ErrEmailRequired     = errors.New("email required")
	ErrDomainNotAllowed  = errors.New("email domain not allowed")
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrUserNotFound      = errors.New("user not found")
	ErrInactiveAccount   = errors.New("user not active")
	ErrInvalidCode       = errors.New("invalid OTP code")
	ErrCodeExpired       = errors.New("OTP code expired")

	ErrUnknownCustomer  = errors.New("unknown customer")
	ErrFilenameRequired = errors.New("original filename required")
	ErrNoRecords        = errors.New("no records to save")
)
