package domain

import "errors"

var (
	ErrConfigNotFound          = errors.New("provider config not found")
	ErrProviderNotFound        = errors.New("provider not found")
	ErrProviderInactive        = errors.New("provider not active")
	ErrProviderAccountMismatch = errors.New("provider belongs to different account")
	ErrNoActiveProviders       = errors.New("no active providers")
	ErrAllProvidersFailed      = errors.New("all providers failed")
	ErrUnsupportedProviderType = errors.New("unsupported provider type")
	ErrQuotaExceeded           = errors.New("quota exceeded")
	ErrQuotaNotFound           = errors.New("quota not found")
)
