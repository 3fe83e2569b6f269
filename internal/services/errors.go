package services

import "errors"

// Sentinel errors returned by the access-control services. Handlers map these
// onto HTTP status codes with errors.Is.
var (
	ErrValidation            = errors.New("invalid input")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrChildNotFound         = errors.New("child not found")
	ErrInviteNotFound        = errors.New("invite not found")
	ErrInviteExpired         = errors.New("invite expired")
	ErrInviteAlreadyResolved = errors.New("invite already resolved")
	ErrDuplicateActiveInvite = errors.New("an active invite already exists for this email")
	ErrRetryExhausted        = errors.New("share code generation retries exhausted")
	ErrGrantNotFound         = errors.New("grant not found")
	ErrOwnerGrant            = errors.New("owner access cannot be modified")
)
