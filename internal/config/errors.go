package config

import "errors"

var (
	// ErrNoProviders is returned when no provider is configured
	ErrNoProviders = errors.New("no providers configured: at least one provider is required")

	// ErrDuplicateProvider is returned when two providers share an id
	ErrDuplicateProvider = errors.New("duplicate provider id")

	// ErrUnknownProviderKind is returned for a provider kind outside ProviderKinds
	ErrUnknownProviderKind = errors.New("invalid provider")

	// ErrActiveProviderNotFound is returned when active_provider names no provider
	ErrActiveProviderNotFound = errors.New("active provider not found")
)
